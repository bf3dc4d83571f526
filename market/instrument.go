package market

import (
	"math"
	"time"
)

// DefaultCommissionRate is the fallback applied when an instrument carries no
// explicit open/close commission rate. A missing rate is not a free trade.
const DefaultCommissionRate = 0.000025

// Instrument is the static reference data for one tradable contract plus its
// pure pricing functions. Instances are immutable for the duration of a
// trading session and owned by a Catalog.
type Instrument struct {
	ID       string // exchange security id, e.g. "XAU1506"
	Name     string
	Symbol   string // quote symbol, e.g. "XAU/USD"
	Exchange string
	Product  string // parent product id, "" if none

	QuotedCurrency    string
	IndirectQuotation bool // quote currency is the base (USD/JPY style)
	Digits            int  // rounding precision for cash amounts

	Multiplier          float64
	TickSize            float64
	MinOrderVolume      float64
	MaxOrderVolume      float64
	LongMarginRatio     float64
	ShortMarginRatio    float64
	OpenCommissionRate  *float64 // nil means DefaultCommissionRate
	CloseCommissionRate *float64

	ExpireDate time.Time
	IsTrading  bool
}

// Amount converts a price and a signed volume into notional amount in the
// quoted currency. Zero price means no quote yet and yields zero.
func (i *Instrument) Amount(price, volume float64) float64 {
	if price == 0 {
		return 0
	}
	if i.IndirectQuotation {
		return volume * i.Multiplier / price
	}
	return volume * i.Multiplier * price
}

// Margin returns the collateral required to hold volume at price.
func (i *Instrument) Margin(price, volume float64, long bool) float64 {
	ratio := i.ShortMarginRatio
	if long {
		ratio = i.LongMarginRatio
	}
	return math.Abs(i.Amount(price, volume) * ratio)
}

// Commission returns the fee charged for filling volume at price, rounded to
// the instrument's precision. A nil rate falls back to DefaultCommissionRate.
func (i *Instrument) Commission(price, volume float64, open bool) float64 {
	rate := i.CloseCommissionRate
	if open {
		rate = i.OpenCommissionRate
	}
	r := DefaultCommissionRate
	if rate != nil {
		r = *rate
	}
	return roundTo(math.Abs(i.Amount(price, volume))*r, i.Digits)
}

// AmountToVolume inverts Amount for position sizing.
func (i *Instrument) AmountToVolume(amount, price float64) float64 {
	if price == 0 {
		return 0
	}
	if i.IndirectQuotation {
		return amount * price / i.Multiplier
	}
	return amount / price / i.Multiplier
}

// MarginToVolume returns the volume whose margin requirement equals margin.
func (i *Instrument) MarginToVolume(margin, price float64, long bool) float64 {
	ratio := i.ShortMarginRatio
	if long {
		ratio = i.LongMarginRatio
	}
	if ratio == 0 {
		return 0
	}
	return i.AmountToVolume(margin/ratio, price)
}

// Deadline returns the last moment the instrument should be traded before
// expiry. Chinese futures exchanges stop earlier than the contract expiry.
func (i *Instrument) Deadline() time.Time {
	switch i.Exchange {
	case "DCE", "CZCE":
		// last business day of the month before expiry
		d := i.ExpireDate.AddDate(0, 0, -i.ExpireDate.Day())
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, -1)
		}
		return time.Date(d.Year(), d.Month(), d.Day(), 14, 0, 0, 0, d.Location())
	case "SHFE":
		d := i.ExpireDate.AddDate(0, 0, -3)
		return time.Date(d.Year(), d.Month(), d.Day(), 14, 0, 0, 0, d.Location())
	case "CFFEX":
		d := i.ExpireDate
		return time.Date(d.Year(), d.Month(), d.Day(), 14, 55, 0, 0, d.Location())
	default:
		d := i.ExpireDate
		return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 0, 0, d.Location())
	}
}

// Product groups instruments of the same underlying, e.g. all XAU expiries.
type Product struct {
	ID             string
	Exchange       string
	IsTrading      bool
	MainInstrument string
}

func roundTo(x float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(x*p) / p
}
