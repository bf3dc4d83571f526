// Package sim is an in-process broker used by tests and the `sectrader run`
// session. It fills market orders at the current tick, rests limit orders
// until the price crosses them, and delivers reports through gateway.Events
// on its own dispatch goroutine, mimicking a real broker connection.
package sim

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sectrade/sectrader/account"
	"github.com/sectrade/sectrader/gateway"
	"github.com/sectrade/sectrader/internal/id"
	"github.com/sectrade/sectrader/market"
)

type workingOrder struct {
	localID string
	sysID   string
	inst    *market.Instrument
	long    bool
	price   float64 // 0 means market
	volume  float64
	placed  time.Time

	resting  bool
	canceled bool
	fills    []fill
}

type fill struct {
	execID string
	price  float64
	volume float64
	at     time.Time
}

// Engine simulates the broker side of the gateway contract.
type Engine struct {
	mu       sync.Mutex
	ticks    *market.TickStore
	notifier market.Notifier
	events   gateway.Events
	orders   map[string]*workingOrder
	seq      int
	log      *zap.Logger

	// Unbounded dispatch queue. Callers emit while holding the consumer's
	// own locks, so emit must never block waiting for the dispatch
	// goroutine to drain.
	qmu    sync.Mutex
	qcond  *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

func NewEngine(ticks *market.TickStore, notifier market.Notifier, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		ticks:    ticks,
		notifier: notifier,
		orders:   make(map[string]*workingOrder),
		log:      log,
		done:     make(chan struct{}),
	}
	e.qcond = sync.NewCond(&e.qmu)
	go e.loop()
	return e
}

// Bind attaches the event consumer. Must be called before any placement.
func (e *Engine) Bind(ev gateway.Events) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = ev
}

func (e *Engine) Close() {
	e.qmu.Lock()
	if e.closed {
		e.qmu.Unlock()
		<-e.done
		return
	}
	e.closed = true
	e.qcond.Broadcast()
	e.qmu.Unlock()
	<-e.done
}

func (e *Engine) loop() {
	defer close(e.done)
	for {
		e.qmu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.qcond.Wait()
		}
		if len(e.queue) == 0 {
			e.qmu.Unlock()
			return
		}
		f := e.queue[0]
		e.queue = e.queue[1:]
		e.qmu.Unlock()
		f()
	}
}

func (e *Engine) emit(f func()) {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	if e.closed {
		return
	}
	e.queue = append(e.queue, f)
	e.qcond.Signal()
}

func (e *Engine) nextSysID() string {
	e.seq++
	return fmt.Sprintf("SIM%06d", e.seq)
}

func (e *Engine) place(inst *market.Instrument, price, volume float64, long bool) (string, error) {
	if inst == nil {
		return "", fmt.Errorf("sim: nil instrument")
	}
	if volume <= 0 {
		return "", fmt.Errorf("sim: bad volume %v", volume)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.events == nil {
		return "", fmt.Errorf("sim: no event consumer bound")
	}
	w := &workingOrder{
		localID: id.New(),
		sysID:   e.nextSysID(),
		inst:    inst,
		long:    long,
		price:   price,
		volume:  volume,
		placed:  time.Now(),
	}
	e.orders[w.localID] = w

	ev := e.events
	confirm := *w
	e.emit(func() {
		ev.OnNewOrder(confirm.localID, confirm.inst.ID, confirm.sysID,
			confirm.long, confirm.price, confirm.volume, confirm.placed)
	})

	if price == 0 {
		e.fillLocked(w, time.Now())
	} else if e.crossedLocked(w) {
		e.fillLocked(w, time.Now())
	} else {
		w.resting = true
	}
	return w.localID, nil
}

func (e *Engine) crossedLocked(w *workingOrder) bool {
	t, err := e.ticks.Get(w.inst.ID)
	if err != nil {
		return false
	}
	if w.long {
		return t.Ask != 0 && t.Ask <= w.price
	}
	return t.Bid != 0 && t.Bid >= w.price
}

func (e *Engine) fillLocked(w *workingOrder, at time.Time) {
	t, err := e.ticks.Get(w.inst.ID)
	if err != nil {
		// no quote yet, keep resting until one arrives
		w.resting = true
		return
	}
	px := t.Price(market.Ask)
	if !w.long {
		px = t.Price(market.Bid)
	}
	if w.price != 0 {
		px = w.price
	}
	f := fill{execID: id.New(), price: px, volume: w.volume, at: at}
	w.fills = append(w.fills, f)
	w.resting = false

	ev := e.events
	sysID, instID := w.sysID, w.inst.ID
	e.emit(func() {
		ev.OnTrade(f.execID, instID, sysID, f.price, f.volume, f.at)
	})
}

func (e *Engine) OpenMarketOrder(ctx context.Context, inst *market.Instrument, volume float64, long bool) (string, error) {
	return e.place(inst, 0, volume, long)
}

func (e *Engine) OpenLimitOrder(ctx context.Context, inst *market.Instrument, price, volume float64, long bool) (string, error) {
	return e.place(inst, price, volume, long)
}

// CloseMarketOrder places a market order in the opposite direction of the
// opening order's exposure.
func (e *Engine) CloseMarketOrder(ctx context.Context, order *account.Order, volume float64) (string, error) {
	return e.place(order.Instrument, 0, volume, order.OpenedVolume() < 0)
}

func (e *Engine) CloseLimitOrder(ctx context.Context, order *account.Order, price, volume float64) (string, error) {
	return e.place(order.Instrument, price, volume, order.OpenedVolume() < 0)
}

func (e *Engine) CancelOrders(ctx context.Context, orders []*account.Order) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, o := range orders {
		w, ok := e.orders[o.ID]
		if !ok || w.canceled || len(w.fills) > 0 && !w.resting {
			continue
		}
		w.canceled = true
		w.resting = false
		out = append(out, w.localID)

		ev := e.events
		localID := w.localID
		e.emit(func() { ev.OnCancel(localID) })
	}
	return out
}

// QueryOrderStatus re-delivers the order's reports; the consumer's
// idempotency makes redelivery safe.
func (e *Engine) QueryOrderStatus(ctx context.Context, order *account.Order) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.orders[order.ID]
	if !ok {
		return fmt.Errorf("sim: unknown order %s", order.ID)
	}
	ev := e.events
	if w.canceled {
		localID := w.localID
		e.emit(func() { ev.OnCancel(localID) })
		return nil
	}
	sysID, instID := w.sysID, w.inst.ID
	for _, f := range w.fills {
		f := f
		e.emit(func() { ev.OnTrade(f.execID, instID, sysID, f.price, f.volume, f.at) })
	}
	return nil
}

func (e *Engine) QueryHistoryTrades(ctx context.Context, start time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ev := e.events
	for _, w := range e.orders {
		for _, f := range w.fills {
			if f.at.Before(start) {
				continue
			}
			f, w := f, w
			e.emit(func() {
				ev.OnHistoryTrade(f.execID, w.inst.ID, w.sysID, w.localID,
					w.long, f.price, f.volume, f.at)
			})
		}
	}
	return nil
}

// UpdateTick publishes a new quote: resting limit orders that cross are
// filled, then the stop-check notification fires for the instrument.
func (e *Engine) UpdateTick(t market.Tick) {
	e.ticks.Set(t)

	e.mu.Lock()
	for _, w := range e.orders {
		if !w.resting || w.canceled || w.inst.ID != t.InstrumentID {
			continue
		}
		if w.price == 0 || e.crossedLocked(w) {
			e.fillLocked(w, t.Time)
		}
	}
	e.mu.Unlock()

	if e.notifier != nil {
		e.notifier.Publish(t.InstrumentID)
	}
}

// Flush blocks until every event queued so far has been delivered. Test hook.
func (e *Engine) Flush() {
	done := make(chan struct{})
	e.emit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
}

// abs of remaining resting volume, used by tests to assert partial cancels.
func (e *Engine) RestingVolume(localID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.orders[localID]
	if !ok || !w.resting {
		return 0
	}
	return math.Abs(w.volume)
}
