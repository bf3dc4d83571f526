package market

import (
	"errors"
	"sync"
	"time"
)

var ErrNoPrice = errors.New("market: no price")

// Side selects which quote of a tick a caller wants.
type Side int

const (
	Mid Side = iota
	Bid      // price a long position closes at
	Ask      // price a short position closes at
)

// SideFor returns the closing side for a signed position volume: longs mark
// at bid, shorts at ask.
func SideFor(volume float64) Side {
	if volume > 0 {
		return Bid
	}
	return Ask
}

// Tick is one quote update for an instrument.
type Tick struct {
	InstrumentID string
	Bid          float64
	Ask          float64
	Last         float64
	Close        float64 // previous session close
	Time         time.Time
}

func (t Tick) Price(side Side) float64 {
	switch side {
	case Bid:
		if t.Bid != 0 {
			return t.Bid
		}
	case Ask:
		if t.Ask != 0 {
			return t.Ask
		}
	}
	if t.Last != 0 {
		return t.Last
	}
	return (t.Bid + t.Ask) / 2
}

// PriceOracle answers current and last-close price questions. It replaces
// ambient shared state with an explicit dependency injected into the core.
type PriceOracle interface {
	CurrentPrice(instrumentID string, side Side) (float64, error)
	LastClosePrice(instrumentID string) (float64, error)
}

// Notifier is a fire-and-forget publish/subscribe signal keyed by instrument
// id. Delivery is at-most-once; subscribers must not assume cross-instrument
// ordering.
type Notifier interface {
	Publish(instrumentID string)
	Subscribe() <-chan string
}

// TickStore holds the latest tick per instrument and implements PriceOracle.
type TickStore struct {
	mu    sync.RWMutex
	ticks map[string]Tick
}

func NewTickStore() *TickStore {
	return &TickStore{ticks: make(map[string]Tick)}
}

func (s *TickStore) Set(t Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.ticks[t.InstrumentID]
	if ok && t.Close == 0 {
		t.Close = prev.Close
	}
	s.ticks[t.InstrumentID] = t
}

func (s *TickStore) Get(instrumentID string) (Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.ticks[instrumentID]
	if !ok {
		return Tick{}, ErrNoPrice
	}
	return t, nil
}

func (s *TickStore) CurrentPrice(instrumentID string, side Side) (float64, error) {
	t, err := s.Get(instrumentID)
	if err != nil {
		return 0, err
	}
	p := t.Price(side)
	if p == 0 {
		return 0, ErrNoPrice
	}
	return p, nil
}

func (s *TickStore) LastClosePrice(instrumentID string) (float64, error) {
	t, err := s.Get(instrumentID)
	if err != nil {
		return 0, err
	}
	if t.Close == 0 {
		return 0, ErrNoPrice
	}
	return t.Close, nil
}

// ChanNotifier broadcasts instrument ids over buffered channels, dropping
// signals no subscriber is draining. Per-instrument FIFO holds as long as
// Publish is called from a single feed goroutine.
type ChanNotifier struct {
	mu   sync.RWMutex
	subs []chan string
}

func NewChanNotifier() *ChanNotifier {
	return &ChanNotifier{}
}

func (n *ChanNotifier) Publish(instrumentID string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, ch := range n.subs {
		select {
		case ch <- instrumentID:
		default:
			// subscriber is behind, drop
		}
	}
}

func (n *ChanNotifier) Subscribe() <-chan string {
	ch := make(chan string, 64)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, ch)
	return ch
}
