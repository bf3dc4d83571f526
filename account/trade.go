package account

import (
	"math"
	"time"

	"github.com/sectrade/sectrader/market"
)

// Trade is one fill against an order. Volume is signed: long fills are
// positive, short fills negative. ClosedVolume carries the same sign and
// tracks how much of the fill has been matched against closing trades.
type Trade struct {
	ExecID       string
	OrderID      string
	Time         time.Time
	Price        float64
	Volume       float64
	ClosedVolume float64
	Commission   float64
	Profit       float64
}

// OpenedVolume is the portion of the fill not yet matched by a closing trade.
func (t *Trade) OpenedVolume() float64 {
	return t.Volume - t.ClosedVolume
}

func (t *Trade) Amount(inst *market.Instrument) float64 {
	return inst.Amount(t.Price, t.Volume)
}

func (t *Trade) OpenedAmount(inst *market.Instrument) float64 {
	return inst.Amount(t.Price, t.OpenedVolume())
}

// matchFIFO consumes this closing trade against the opening order's trades in
// trade-time order. The earliest unclosed opening trade is always exhausted
// first. Realized profit accumulates on the closing trade.
func (t *Trade) matchFIFO(orig *Order, inst *market.Instrument) {
	for _, ot := range orig.trades {
		if math.Abs(t.ClosedVolume) >= math.Abs(t.Volume) {
			break
		}
		if ot.OpenedVolume() == 0 {
			continue
		}
		var vol float64
		if math.Abs(ot.OpenedVolume()) < math.Abs(t.OpenedVolume()) {
			vol = ot.OpenedVolume()
		} else {
			vol = -t.OpenedVolume()
		}
		t.ClosedVolume -= vol
		ot.ClosedVolume += vol
		if inst.IndirectQuotation {
			t.Profit += inst.Amount(ot.Price, vol) - inst.Amount(t.Price, vol)
		} else {
			t.Profit += inst.Amount(t.Price-ot.Price, vol)
		}
	}
}
