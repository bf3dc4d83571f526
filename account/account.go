// Package account holds the trading ledger: per-currency balances, the order
// and trade graph, and the realized/unrealized profit math.
//
// Nothing in this package locks. All mutating entry points run under the
// owning trader's lock; aggregate queries are recomputed snapshots.
package account

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sectrade/sectrader/market"
	"github.com/sectrade/sectrader/store"
)

// Ledger memos. Realized profit is the one booking operators watch, so it
// logs at info; everything else is debug noise.
const (
	MemoCommission = "commission"
	MemoProfit     = "realized profit"
	MemoDeposit    = "deposit"
)

// Balance is one currency bucket. Created lazily on first booking.
type Balance struct {
	Currency string
	Value    float64
}

// Account aggregates balances and orders for one trading account.
type Account struct {
	Code            string
	DefaultCurrency string
	LastTradeTime   time.Time
	RealProfits     float64

	balances  map[string]*Balance
	orders    map[string]*Order   // by local id
	bySysID   map[string]*Order
	closersOf map[string][]*Order // opening order id -> closing orders
	execIDs   map[string]string   // exec id -> order id

	available *float64 // broker-reported override

	converter *market.Converter
	oracle    market.PriceOracle
	store     store.Store
	log       *zap.Logger
}

func New(code, currency string, conv *market.Converter, oracle market.PriceOracle, st store.Store, log *zap.Logger) *Account {
	if st == nil {
		st = store.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	a := &Account{
		Code:            code,
		DefaultCurrency: currency,
		balances:        make(map[string]*Balance),
		orders:          make(map[string]*Order),
		bySysID:         make(map[string]*Order),
		closersOf:       make(map[string][]*Order),
		execIDs:         make(map[string]string),
		converter:       conv,
		oracle:          oracle,
		store:           st,
		log:             log,
	}
	a.save()
	return a
}

func (a *Account) save() {
	if err := a.store.SaveAccount(store.AccountRecord{
		Code:            a.Code,
		DefaultCurrency: a.DefaultCurrency,
		LastTradeTime:   a.LastTradeTime,
		RealProfits:     a.RealProfits,
	}); err != nil {
		a.log.Error("save account", zap.Error(err))
	}
}

func (a *Account) saveBalance(b *Balance) {
	if err := a.store.SaveBalance(store.BalanceRecord{
		AccountCode: a.Code,
		Currency:    b.Currency,
		Value:       b.Value,
	}); err != nil {
		a.log.Error("save balance", zap.String("currency", b.Currency), zap.Error(err))
	}
}

// SaveOrder persists an order's current state.
func (a *Account) SaveOrder(o *Order) {
	rec := store.OrderRecord{
		ID:           o.ID,
		AccountCode:  a.Code,
		SysID:        o.SysID,
		StrategyCode: o.StrategyCode,
		IsLong:       o.IsLong,
		IsOpen:       o.Intent != IntentClose,
		OrderTime:    o.Time,
		Price:        o.Price,
		Volume:       o.Volume,
		Status:       int(o.Status),
		StopLoss:     o.StopLoss,
		StopProfit:   o.StopProfit,
	}
	if o.Instrument != nil {
		rec.InstrumentID = o.Instrument.ID
	}
	if o.OrigOrder != nil {
		rec.OrigOrderID = o.OrigOrder.ID
	}
	if err := a.store.SaveOrder(rec); err != nil {
		a.log.Error("save order", zap.String("order", o.ID), zap.Error(err))
	}
}

func (a *Account) saveTrade(t *Trade) {
	if err := a.store.SaveTrade(store.TradeRecord{
		ExecID:       t.ExecID,
		OrderID:      t.OrderID,
		TradeTime:    t.Time,
		Price:        t.Price,
		Volume:       t.Volume,
		ClosedVolume: t.ClosedVolume,
		Commission:   t.Commission,
		Profit:       t.Profit,
	}); err != nil {
		a.log.Error("save trade", zap.String("exec", t.ExecID), zap.Error(err))
	}
}

// BalanceFor returns the balance bucket for currency, creating it on first
// reference. At most one bucket exists per currency.
func (a *Account) BalanceFor(currency string) *Balance {
	b, ok := a.balances[currency]
	if !ok {
		b = &Balance{Currency: currency}
		a.balances[currency] = b
		a.saveBalance(b)
	}
	return b
}

func (a *Account) Balances() []*Balance {
	out := make([]*Balance, 0, len(a.balances))
	for _, b := range a.balances {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}

// Book applies a signed cash movement to the named currency bucket.
func (a *Account) Book(change float64, currency, memo string) {
	b := a.BalanceFor(currency)
	b.Value += change
	a.saveBalance(b)
	fields := []zap.Field{
		zap.String("account", a.Code),
		zap.Float64("change", change),
		zap.String("currency", currency),
		zap.Float64("balance", b.Value),
	}
	if memo == MemoProfit {
		a.log.Info(memo, fields...)
	} else {
		a.log.Debug(memo, fields...)
	}
}

func (a *Account) Deposit(quantity float64, currency string) {
	if currency == "" {
		currency = a.DefaultCurrency
	}
	a.Book(quantity, currency, MemoDeposit)
}

// SetBalance overwrites a currency bucket, used when the broker reports an
// authoritative balance.
func (a *Account) SetBalance(quantity float64, currency string) {
	if currency == "" {
		currency = a.DefaultCurrency
	}
	b := a.BalanceFor(currency)
	b.Value = quantity
	a.saveBalance(b)
	a.log.Debug("set balance", zap.Float64("value", quantity), zap.String("currency", currency))
}

// SetAvailable overrides the computed available funds with a broker-reported
// value.
func (a *Account) SetAvailable(v float64) {
	a.available = &v
}

func (a *Account) BalanceIn(currency string) float64 {
	return a.BalanceFor(currency).Value
}

// BalanceTotal is the sum of all balances converted to the default currency.
func (a *Account) BalanceTotal() (float64, error) {
	var total float64
	for _, b := range a.balances {
		v, err := a.converter.Convert(b.Value, b.Currency, a.DefaultCurrency)
		if err != nil {
			return 0, fmt.Errorf("balance %s: %w", b.Currency, err)
		}
		total += v
	}
	return total, nil
}

func (a *Account) orderPrice(o *Order) (float64, error) {
	return a.oracle.CurrentPrice(o.Instrument.ID, market.SideFor(o.OpenedVolume()))
}

// Margins sums the margin of every opened order, in the default currency.
func (a *Account) Margins() (float64, error) {
	var total float64
	for _, o := range a.OpenedOrders(nil, "") {
		px, err := a.orderPrice(o)
		if err != nil {
			return 0, fmt.Errorf("margin %s: %w", o.Instrument.ID, err)
		}
		v, err := a.converter.Convert(o.Margin(px), o.Currency(), a.DefaultCurrency)
		if err != nil {
			return 0, fmt.Errorf("margin %s: %w", o.Instrument.ID, err)
		}
		total += v
	}
	return total, nil
}

// FloatProfits sums the unrealized profit of every opened order, in the
// default currency.
func (a *Account) FloatProfits() (float64, error) {
	var total float64
	for _, o := range a.OpenedOrders(nil, "") {
		px, err := a.orderPrice(o)
		if err != nil {
			return 0, fmt.Errorf("float profit %s: %w", o.Instrument.ID, err)
		}
		v, err := a.converter.Convert(o.FloatProfit(px), o.Currency(), a.DefaultCurrency)
		if err != nil {
			return 0, fmt.Errorf("float profit %s: %w", o.Instrument.ID, err)
		}
		total += v
	}
	return total, nil
}

// Available is balance minus margins plus floating profit, unless the broker
// reported an explicit value.
func (a *Account) Available() (float64, error) {
	if a.available != nil {
		return *a.available, nil
	}
	balance, err := a.BalanceTotal()
	if err != nil {
		return 0, err
	}
	margins, err := a.Margins()
	if err != nil {
		return 0, err
	}
	floats, err := a.FloatProfits()
	if err != nil {
		return 0, err
	}
	return balance - margins + floats, nil
}

func (a *Account) matches(o *Order, inst *market.Instrument, strategy string) bool {
	if inst != nil && (o.Instrument == nil || o.Instrument.ID != inst.ID) {
		return false
	}
	if strategy != "" && o.StrategyCode != strategy {
		return false
	}
	return true
}

func (a *Account) sortedOrders() []*Order {
	out := make([]*Order, 0, len(a.orders))
	for _, o := range a.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OpenedOrders returns every order currently holding exposure: filled orders,
// plus closing or canceled orders whose fills are not fully matched yet.
// Optionally scoped by instrument and strategy code.
func (a *Account) OpenedOrders(inst *market.Instrument, strategy string) []*Order {
	var out []*Order
	for _, o := range a.sortedOrders() {
		if !a.matches(o, inst, strategy) {
			continue
		}
		switch o.Status {
		case StatusFilled:
			out = append(out, o)
		case StatusClosing, StatusCanceled:
			if o.OpenedVolume() != 0 {
				out = append(out, o)
			}
		}
	}
	return out
}

// UntradedOrders returns orders still waiting for fills: unconfirmed or new
// orders, plus filled orders with outstanding volume.
func (a *Account) UntradedOrders(inst *market.Instrument, strategy string) []*Order {
	var out []*Order
	for _, o := range a.sortedOrders() {
		if !a.matches(o, inst, strategy) {
			continue
		}
		switch o.Status {
		case StatusNone, StatusNew:
			out = append(out, o)
		case StatusFilled:
			if math.Abs(o.FilledVolume()) < math.Abs(o.Volume) {
				out = append(out, o)
			}
		}
	}
	return out
}

// Position is the net opened volume of one instrument.
type Position struct {
	Instrument *market.Instrument
	Volume     float64
}

// CombinedPositions groups opened orders by instrument and sums their opened
// volume.
func (a *Account) CombinedPositions() []Position {
	byInst := make(map[string]*Position)
	var keys []string
	for _, o := range a.OpenedOrders(nil, "") {
		p, ok := byInst[o.Instrument.ID]
		if !ok {
			p = &Position{Instrument: o.Instrument}
			byInst[o.Instrument.ID] = p
			keys = append(keys, o.Instrument.ID)
		}
		p.Volume += o.OpenedVolume()
	}
	sort.Strings(keys)
	out := make([]Position, 0, len(keys))
	for _, k := range keys {
		out = append(out, *byInst[k])
	}
	return out
}

// Orders returns all orders, in local-id order.
func (a *Account) Orders() []*Order {
	return a.sortedOrders()
}

func (a *Account) OrderByLocalID(localID string) (*Order, bool) {
	o, ok := a.orders[localID]
	return o, ok
}

func (a *Account) OrderBySysID(sysID string) (*Order, bool) {
	o, ok := a.bySysID[sysID]
	return o, ok
}

// ClosingOrders returns the closing orders linked to an opening order.
func (a *Account) ClosingOrders(origID string) []*Order {
	return a.closersOf[origID]
}

// CreateOrder registers a new order under localID, or resolves the intent of
// an existing placeholder created by an out-of-band confirmation.
func (a *Account) CreateOrder(localID string, intent Intent, strategy string, orig *Order) *Order {
	o, ok := a.orders[localID]
	if !ok {
		o = &Order{ID: localID, AccountCode: a.Code}
		a.orders[localID] = o
		a.log.Debug("new order", zap.String("local_id", localID))
	}
	if intent != IntentUnknown {
		o.Intent = intent
	}
	if strategy != "" {
		o.StrategyCode = strategy
	}
	if orig != nil {
		o.OrigOrder = orig
		o.Instrument = orig.Instrument
		if o.StrategyCode == "" {
			o.StrategyCode = orig.StrategyCode
		}
		a.closersOf[orig.ID] = append(a.closersOf[orig.ID], o)
	}
	a.SaveOrder(o)
	return o
}

// IndexSysID makes an order findable by its gateway id once confirmed.
func (a *Account) IndexSysID(o *Order) {
	if o.SysID != "" {
		a.bySysID[o.SysID] = o
	}
}

// HasExec reports whether an execution id was already processed by any order
// of this account.
func (a *Account) HasExec(execID string) bool {
	_, ok := a.execIDs[execID]
	return ok
}

// OnTrade routes a fill to its order and settles the cash consequences:
// commission is charged on every fill, realized profit is booked when a
// closing fill matches open exposure.
func (a *Account) OnTrade(o *Order, execID string, price, volume float64, at time.Time) error {
	if a.HasExec(execID) {
		return fmt.Errorf("%w: %s", ErrDuplicateExec, execID)
	}
	t, err := o.OnTrade(price, volume, at, execID)
	if err != nil {
		return err
	}
	a.execIDs[execID] = o.ID
	a.Book(-t.Commission, o.Currency(), MemoCommission)

	var closeErr error
	if o.Intent == IntentClose {
		closeErr = o.Close(t)
		if closeErr != nil && !errors.Is(closeErr, ErrOversizedClose) {
			a.saveTrade(t)
			a.SaveOrder(o)
			return closeErr
		}
		// An oversized close still matched and realized profit up to the
		// opening order's volume; only the excess is invalid. The matched
		// cash must reach the balance either way.
		a.Book(t.Profit, o.Currency(), MemoProfit)
		a.RealProfits += t.Profit
		if o.OrigOrder != nil {
			for _, ot := range o.OrigOrder.trades {
				a.saveTrade(ot)
			}
			a.SaveOrder(o.OrigOrder)
		}
	}
	a.saveTrade(t)
	a.SaveOrder(o)

	if a.LastTradeTime.Before(at) {
		a.LastTradeTime = at
		a.save()
	}
	return closeErr
}

// DeleteOrder removes an order and its trades from the account and the
// store. Administrative/test-only; live sessions never delete orders.
func (a *Account) DeleteOrder(o *Order) {
	for _, t := range o.trades {
		delete(a.execIDs, t.ExecID)
	}
	delete(a.orders, o.ID)
	if o.SysID != "" {
		delete(a.bySysID, o.SysID)
	}
	if o.OrigOrder != nil {
		closers := a.closersOf[o.OrigOrder.ID]
		for i, c := range closers {
			if c == o {
				a.closersOf[o.OrigOrder.ID] = append(closers[:i], closers[i+1:]...)
				break
			}
		}
	}
	delete(a.closersOf, o.ID)
	if err := a.store.DeleteOrder(o.ID); err != nil {
		a.log.Error("delete order", zap.String("order", o.ID), zap.Error(err))
	}
}
