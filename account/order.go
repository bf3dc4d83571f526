package account

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sectrade/sectrader/market"
)

var (
	// ErrDuplicateExec marks a redelivered execution report. No state changes.
	ErrDuplicateExec = errors.New("account: duplicate exec id")
	// ErrConfirmed is returned when a gateway confirmation arrives for an
	// order that already has a sys id.
	ErrConfirmed = errors.New("account: order already confirmed")
	// ErrOversizedClose is returned when a closing order fills more volume
	// than its opening order ever opened.
	ErrOversizedClose = errors.New("account: close volume exceeds opening order")
	// ErrNotCloseable is returned when an order cannot accept a close.
	ErrNotCloseable = errors.New("account: order not closeable")
)

// Status is the authoritative order lifecycle state.
type Status int

const (
	StatusNone Status = iota
	StatusNew
	StatusCanceled
	StatusFilled
	StatusClosing
	StatusClosed
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusNew:
		return "new"
	case StatusCanceled:
		return "canceled"
	case StatusFilled:
		return "filled"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	case StatusRejected:
		return "rejected"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Intent says whether an order establishes exposure or reduces it. Orders
// created as placeholders from an out-of-band gateway confirmation start
// Unknown until the placing call resolves them.
type Intent int

const (
	IntentUnknown Intent = iota
	IntentOpen
	IntentClose
)

// Order is one order lifecycle. It owns its trades, ordered by trade time;
// every derived quantity is recomputed from them on demand.
type Order struct {
	ID           string // local id, assigned at placement
	SysID        string // gateway id, assigned on confirmation
	AccountCode  string
	StrategyCode string
	Instrument   *market.Instrument
	IsLong       bool
	Intent       Intent
	Time         time.Time
	Price        float64 // 0 for market orders
	Volume       float64 // as reported, unsigned
	Status       Status
	OrigOrder    *Order // set only on closing orders
	StopLoss     float64
	StopProfit   float64

	trades []*Trade
}

func (o *Order) Currency() string {
	return o.Instrument.QuotedCurrency
}

func (o *Order) IsClosed() bool {
	return o.Status == StatusClosed
}

// CanClose reports whether a closing order may be placed against this order.
// A canceled order can still hold exposure from partial fills.
func (o *Order) CanClose() bool {
	return o.Status == StatusFilled || o.Status == StatusCanceled
}

// Cancellable reports whether any volume is still working at the gateway:
// unfilled orders, or filled orders with an outstanding remainder.
func (o *Order) Cancellable() bool {
	switch o.Status {
	case StatusNone, StatusNew:
		return true
	case StatusFilled:
		return math.Abs(o.FilledVolume()) < math.Abs(o.Volume)
	}
	return false
}

func (o *Order) Trades() []*Trade {
	out := make([]*Trade, len(o.trades))
	copy(out, o.trades)
	return out
}

func (o *Order) FilledVolume() float64 {
	var v float64
	for _, t := range o.trades {
		v += t.Volume
	}
	return v
}

func (o *Order) ClosedVolume() float64 {
	var v float64
	for _, t := range o.trades {
		v += t.ClosedVolume
	}
	return v
}

func (o *Order) OpenedVolume() float64 {
	var v float64
	for _, t := range o.trades {
		v += t.OpenedVolume()
	}
	return v
}

func (o *Order) OpenedAmount() float64 {
	var v float64
	for _, t := range o.trades {
		v += t.OpenedAmount(o.Instrument)
	}
	return v
}

func (o *Order) CommissionTotal() float64 {
	var v float64
	for _, t := range o.trades {
		v += t.Commission
	}
	return v
}

// RealProfit is the profit realized by this order's trades through FIFO
// matching. Nonzero only on closing orders.
func (o *Order) RealProfit() float64 {
	var v float64
	for _, t := range o.trades {
		v += t.Profit
	}
	return v
}

func (o *Order) tradeAmount() float64 {
	var v float64
	for _, t := range o.trades {
		v += t.Amount(o.Instrument)
	}
	return v
}

// AvgFillPrice is the volume-weighted fill price, or 0 before any fill.
func (o *Order) AvgFillPrice() float64 {
	filled := o.FilledVolume()
	if filled == 0 {
		return 0
	}
	if o.Instrument.IndirectQuotation {
		amt := o.tradeAmount()
		if amt == 0 {
			return 0
		}
		return filled * o.Instrument.Multiplier / amt
	}
	return o.tradeAmount() / (filled * o.Instrument.Multiplier)
}

// Margin is the collateral currently tied to the order's open exposure.
func (o *Order) Margin(curPrice float64) float64 {
	return o.Instrument.Margin(curPrice, o.OpenedVolume(), o.IsLong)
}

// FloatProfit is the unrealized profit of the open exposure at curPrice.
func (o *Order) FloatProfit(curPrice float64) float64 {
	return o.Instrument.Amount(curPrice, o.OpenedVolume()) - o.OpenedAmount()
}

// OnNew applies the gateway's order confirmation. Valid only while the order
// is local-only.
func (o *Order) OnNew(sysID string, inst *market.Instrument, long bool, price, volume float64, at time.Time) error {
	if o.SysID != "" {
		return fmt.Errorf("%w: %s", ErrConfirmed, o.SysID)
	}
	o.SysID = sysID
	o.Instrument = inst
	o.IsLong = long
	o.Price = price
	o.Volume = volume
	o.Time = at
	o.Status = StatusNew
	return nil
}

// OnTrade appends a fill. The reported volume is unsigned; short fills are
// negated. Duplicate exec ids are rejected without touching state.
func (o *Order) OnTrade(price, volume float64, at time.Time, execID string) (*Trade, error) {
	for _, t := range o.trades {
		if t.ExecID == execID {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateExec, execID)
		}
	}
	if !o.IsLong {
		volume = -volume
	}
	t := &Trade{
		ExecID:     execID,
		OrderID:    o.ID,
		Time:       at,
		Price:      price,
		Volume:     volume,
		Commission: o.Instrument.Commission(price, volume, o.Intent == IntentOpen),
	}
	o.trades = append(o.trades, t)
	sort.SliceStable(o.trades, func(i, j int) bool {
		return o.trades[i].Time.Before(o.trades[j].Time)
	})
	o.Status = StatusFilled
	return t, nil
}

// Close matches a closing fill against the opening order FIFO and settles the
// resulting statuses. The opening order is fully closed once its entire
// filled volume has been matched; this order is closed once all of its own
// volume matched. A fill that outlives its opening order is a protocol
// violation and reported as ErrOversizedClose.
func (o *Order) Close(t *Trade) error {
	orig := o.OrigOrder
	if orig == nil {
		return fmt.Errorf("%w: order %s has no opening order", ErrNotCloseable, o.ID)
	}
	t.matchFIFO(orig, o.Instrument)

	if math.Abs(orig.ClosedVolume()) >= math.Abs(orig.FilledVolume()) {
		orig.Status = StatusClosed
	}
	switch {
	case math.Abs(o.ClosedVolume()) >= math.Abs(o.Volume):
		o.Status = StatusClosed
	case orig.IsClosed():
		// The closing order filled more than the opening order ever opened.
		// Historical behavior converted the excess into a new opening order;
		// that silently flips order intent, so it is rejected instead.
		return fmt.Errorf("%w: order %s filled %v against %v",
			ErrOversizedClose, o.ID, o.FilledVolume(), orig.FilledVolume())
	}
	return nil
}

// SetStopPrice recomputes protective prices from a reference price, usually
// the latest fill or quote.
//
// The profit target is fixed: it is set once and later calls never move it.
// The loss stop is a ratchet: it only ever moves in the protective direction,
// higher for longs and lower for shorts.
func (o *Order) SetStopPrice(price, offsetLoss, offsetProfit float64) {
	if offsetProfit != 0 && o.StopProfit == 0 {
		if o.IsLong {
			o.StopProfit = price + offsetProfit
		} else {
			o.StopProfit = price - offsetProfit
		}
	}
	var stop float64
	if o.IsLong {
		stop = price - offsetLoss
		if o.StopLoss != 0 && stop <= o.StopLoss {
			return
		}
	} else {
		stop = price + offsetLoss
		if o.StopLoss != 0 && stop >= o.StopLoss {
			return
		}
	}
	o.StopLoss = stop
}

// OnCancel applies a cancel report. A filled order that the broker partially
// canceled keeps its fills: its volume shrinks to what actually traded
// instead of transitioning state.
func (o *Order) OnCancel() {
	if o.Status == StatusFilled && o.FilledVolume() != 0 {
		o.Volume = math.Abs(o.FilledVolume())
	} else {
		o.Status = StatusCanceled
	}
	o.revertOrigOrder()
}

// OnReject marks the order terminally rejected by the gateway.
func (o *Order) OnReject() {
	o.Status = StatusRejected
	o.revertOrigOrder()
}

// revertOrigOrder puts an opening order back to filled when the closing order
// that held it in closing state dies, so the exposure stays closeable.
func (o *Order) revertOrigOrder() {
	if o.Intent != IntentClose || o.OrigOrder == nil {
		return
	}
	if o.OrigOrder.Status == StatusClosing {
		o.OrigOrder.Status = StatusFilled
	}
}
