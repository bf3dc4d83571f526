// Package trader is the orchestration layer: it owns one account, talks to
// the broker gateway, and serializes every state-changing path through a
// single lock so monitor goroutines and gateway callbacks never interleave
// inside a transition.
package trader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sectrade/sectrader/account"
	"github.com/sectrade/sectrader/gateway"
	"github.com/sectrade/sectrader/internal/id"
	"github.com/sectrade/sectrader/market"
	"github.com/sectrade/sectrader/metrics"
)

var (
	ErrNotCloseable = errors.New("trader: order not closeable")
	ErrCloseLock    = errors.New("trader: closing in progress, new orders blocked")
	ErrNotReady     = errors.New("trader: not ready for trading")
)

// StopPolicy is the per-instrument stop configuration: how far below (long)
// or above (short) the reference price the protective stop sits, and the
// fixed profit target offset (0 disables it).
type StopPolicy struct {
	OffsetLoss   float64
	OffsetProfit float64
}

// Options tune the orchestration loops. Zero values fall back to defaults.
type Options struct {
	CloseWaitRounds    int           // polling rounds in WaitForClosed
	CloseWaitInterval  time.Duration // sleep between rounds
	IntentWaitRounds   int           // retries while a fill's order intent is unresolved
	IntentWaitInterval time.Duration
}

func (o *Options) withDefaults() {
	if o.CloseWaitRounds == 0 {
		o.CloseWaitRounds = 30
	}
	if o.CloseWaitInterval == 0 {
		o.CloseWaitInterval = time.Second
	}
	if o.IntentWaitRounds == 0 {
		o.IntentWaitRounds = 5
	}
	if o.IntentWaitInterval == 0 {
		o.IntentWaitInterval = 200 * time.Millisecond
	}
}

// Trader drives one account against one gateway.
type Trader struct {
	mu      sync.Mutex
	acct    *account.Account
	gw      gateway.Gateway
	catalog *market.Catalog
	log     *zap.Logger
	opts    Options

	policies map[string]StopPolicy // keyed by instrument id or product id

	closeLock  bool
	isLogged   bool
	isReady    bool
	maxBalance float64

	tasks map[string]context.CancelFunc // supervised per-order tasks
	stop  chan struct{}
}

func New(acct *account.Account, gw gateway.Gateway, catalog *market.Catalog, log *zap.Logger, opts Options) *Trader {
	if log == nil {
		log = zap.NewNop()
	}
	opts.withDefaults()
	return &Trader{
		acct:     acct,
		gw:       gw,
		catalog:  catalog,
		log:      log,
		opts:     opts,
		policies: make(map[string]StopPolicy),
		tasks:    make(map[string]context.CancelFunc),
		stop:     make(chan struct{}),
	}
}

func (t *Trader) Account() *account.Account { return t.acct }

// Stop signals every loop owned by or watching this trader to exit on its
// next wake. In-flight gateway calls are not interrupted.
func (t *Trader) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	for orderID, cancel := range t.tasks {
		cancel()
		delete(t.tasks, orderID)
	}
}

// Stopped is closed once Stop has been called.
func (t *Trader) Stopped() <-chan struct{} { return t.stop }

func (t *Trader) OnLogon() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.isLogged = true
}

func (t *Trader) OnLogout() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.isLogged = false
}

// ReadyForTrade marks reference data and state recovery complete.
func (t *Trader) ReadyForTrade() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.isReady {
		t.log.Info("ready for trading", zap.String("account", t.acct.Code))
	}
	t.isReady = true
}

func (t *Trader) CanTrade() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isLogged && t.isReady
}

// CloseLock reports whether a forced de-risking close is in progress; new
// strategy orders are blocked while it holds.
func (t *Trader) CloseLock() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeLock
}

// SetCloseLock is flipped by the available-funds monitor around a forced
// close-all so strategies stop placing orders meanwhile.
func (t *Trader) SetCloseLock(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLock = v
}

// Monitor registers the stop policy for an instrument symbol. The key may
// also be a product id, which then covers every instrument of that product.
func (t *Trader) Monitor(symbolOrProduct string, policy StopPolicy) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if inst, ok := t.catalog.BySymbol(symbolOrProduct); ok {
		t.policies[inst.ID] = policy
		return nil
	}
	if _, ok := t.catalog.ByID(symbolOrProduct); ok {
		t.policies[symbolOrProduct] = policy
		return nil
	}
	if _, ok := t.catalog.Product(symbolOrProduct); ok {
		t.policies[symbolOrProduct] = policy
		return nil
	}
	return fmt.Errorf("trader: unknown instrument or product %q", symbolOrProduct)
}

// PolicyFor resolves the stop policy for an instrument: the instrument key
// wins, the parent product key is the fallback.
func (t *Trader) PolicyFor(inst *market.Instrument) (StopPolicy, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.policyForLocked(inst)
}

func (t *Trader) policyForLocked(inst *market.Instrument) (StopPolicy, bool) {
	if p, ok := t.policies[inst.ID]; ok {
		return p, true
	}
	if inst.Product != "" {
		if p, ok := t.policies[inst.Product]; ok {
			return p, true
		}
	}
	return StopPolicy{}, false
}

// MonitoredInstruments lists the instruments with a registered stop policy.
func (t *Trader) MonitoredInstruments() []*market.Instrument {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*market.Instrument
	for key := range t.policies {
		if inst, ok := t.catalog.ByID(key); ok {
			out = append(out, inst)
			continue
		}
		out = append(out, t.catalog.Instruments(key)...)
	}
	return out
}

// OpenOrder places an opening order (market when price is zero) and records
// it. A gateway refusal yields a nil order and the error.
func (t *Trader) OpenOrder(ctx context.Context, inst *market.Instrument, price, volume float64, long bool, strategy string) (*account.Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		localID string
		err     error
	)
	if price == 0 {
		localID, err = t.gw.OpenMarketOrder(ctx, inst, volume, long)
	} else {
		localID, err = t.gw.OpenLimitOrder(ctx, inst, price, volume, long)
	}
	if err != nil {
		t.log.Warn("open order refused",
			zap.String("instrument", inst.ID), zap.Float64("volume", volume), zap.Error(err))
		return nil, err
	}
	o := t.acct.CreateOrder(localID, account.IntentOpen, strategy, nil)
	o.Instrument = inst
	o.IsLong = long
	o.Price = price
	o.Volume = volume
	o.Time = time.Now()
	t.acct.SaveOrder(o)
	metrics.IncOrderPlaced("open")
	t.log.Info("open order placed",
		zap.String("local_id", localID),
		zap.String("instrument", inst.ID),
		zap.Bool("long", long),
		zap.Float64("price", price),
		zap.Float64("volume", volume),
		zap.String("strategy", strategy))
	return o, nil
}

// CloseOrder places a closing order against an opened order. Any volume still
// working at the gateway is canceled first. Volume zero means the whole
// remaining exposure. On success the opening order moves to closing state and
// the linked closing order is returned.
func (t *Trader) CloseOrder(ctx context.Context, order *account.Order, price, volume float64, strategy string) (*account.Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeOrderLocked(ctx, order, price, volume, strategy)
}

func (t *Trader) closeOrderLocked(ctx context.Context, order *account.Order, price, volume float64, strategy string) (*account.Order, error) {
	if order.Cancellable() {
		t.gw.CancelOrders(ctx, []*account.Order{order})
	}
	if !order.CanClose() {
		return nil, fmt.Errorf("%w: order %s status %s", ErrNotCloseable, order.ID, order.Status)
	}
	if volume == 0 {
		volume = math.Abs(order.OpenedVolume())
	}

	var (
		localID string
		err     error
	)
	if price == 0 {
		localID, err = t.gw.CloseMarketOrder(ctx, order, volume)
	} else {
		localID, err = t.gw.CloseLimitOrder(ctx, order, price, volume)
	}
	if err != nil {
		t.log.Warn("close order refused",
			zap.String("orig", order.ID), zap.Float64("volume", volume), zap.Error(err))
		return nil, err
	}

	closing := t.acct.CreateOrder(localID, account.IntentClose, strategy, order)
	closing.IsLong = order.OpenedVolume() < 0
	closing.Price = price
	closing.Volume = volume
	closing.Time = time.Now()
	order.Status = account.StatusClosing
	t.acct.SaveOrder(closing)
	t.acct.SaveOrder(order)
	metrics.IncOrderPlaced("close")
	t.log.Info("close order placed",
		zap.String("local_id", localID),
		zap.String("orig", order.ID),
		zap.Float64("price", price),
		zap.Float64("volume", volume))
	return closing, nil
}

// CloseAll closes every closeable opened order, optionally scoped to one
// instrument, and returns the closing orders it created.
func (t *Trader) CloseAll(ctx context.Context, inst *market.Instrument) []*account.Order {
	t.mu.Lock()
	defer t.mu.Unlock()

	var closers []*account.Order
	for _, o := range t.acct.OpenedOrders(inst, "") {
		if !o.CanClose() {
			continue
		}
		t.log.Debug("closing order",
			zap.String("order", o.ID),
			zap.Float64("filled", o.FilledVolume()),
			zap.Float64("closed", o.ClosedVolume()))
		closing, err := t.closeOrderLocked(ctx, o, 0, 0, o.StrategyCode)
		if err != nil {
			t.log.Error("close all", zap.String("order", o.ID), zap.Error(err))
			continue
		}
		closers = append(closers, closing)
	}
	return closers
}

// WaitForClosed polls until every given order and its opening order report
// closed. On timeout the stragglers are force-canceled and false is returned.
func (t *Trader) WaitForClosed(ctx context.Context, orders []*account.Order) bool {
	pending := make(map[string]*account.Order, len(orders))
	for _, o := range orders {
		pending[o.ID] = o
	}
	for round := 0; round < t.opts.CloseWaitRounds && len(pending) > 0; round++ {
		select {
		case <-ctx.Done():
			return false
		case <-t.stop:
			return false
		case <-time.After(t.opts.CloseWaitInterval):
		}
		t.mu.Lock()
		for idStr, o := range pending {
			if o.IsClosed() && (o.OrigOrder == nil || o.OrigOrder.IsClosed()) {
				delete(pending, idStr)
			}
		}
		t.mu.Unlock()
	}
	if len(pending) == 0 {
		return true
	}

	t.mu.Lock()
	rest := make([]*account.Order, 0, len(pending))
	for _, o := range pending {
		rest = append(rest, o)
	}
	t.mu.Unlock()
	t.log.Warn("close wait timed out, canceling remainder", zap.Int("orders", len(rest)))
	t.gw.CancelOrders(ctx, rest)
	return false
}

// CancelOrder asks the gateway to cancel whatever is still working.
func (t *Trader) CancelOrder(ctx context.Context, order *account.Order) {
	t.gw.CancelOrders(ctx, []*account.Order{order})
}

// OpenedOrders, UntradedOrders, and the account aggregates are snapshots
// taken under the trader lock.

func (t *Trader) OpenedOrders(inst *market.Instrument, strategy string) []*account.Order {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acct.OpenedOrders(inst, strategy)
}

func (t *Trader) UntradedOrders(inst *market.Instrument, strategy string) []*account.Order {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acct.UntradedOrders(inst, strategy)
}

func (t *Trader) CombinedPositions() []account.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acct.CombinedPositions()
}

func (t *Trader) Available() (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acct.Available()
}

func (t *Trader) Balance() (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acct.BalanceTotal()
}

func (t *Trader) Margins() (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acct.Margins()
}

func (t *Trader) FloatProfits() (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acct.FloatProfits()
}

func (t *Trader) RealProfits() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acct.RealProfits
}

// MaxBalance is the session's balance high-water mark, used for drawdown
// accounting. It resets on trading-day switch.
func (t *Trader) MaxBalance() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxBalance
}

// OnAccountChanged refreshes the balance high-water mark.
func (t *Trader) OnAccountChanged() {
	t.mu.Lock()
	defer t.mu.Unlock()
	balance, err := t.acct.BalanceTotal()
	if err != nil {
		t.log.Debug("account changed, balance unavailable", zap.Error(err))
		return
	}
	if balance > t.maxBalance {
		t.maxBalance = balance
	}
}

// OnDaySwitch resets per-day accounting at the trading-day boundary.
func (t *Trader) OnDaySwitch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxBalance = 0
}

// QueryAllTrades asks the gateway to replay every execution since the last
// one the account saw, recovering fills missed while disconnected.
func (t *Trader) QueryAllTrades(ctx context.Context) error {
	t.mu.Lock()
	start := t.acct.LastTradeTime
	t.mu.Unlock()
	return t.gw.QueryHistoryTrades(ctx, start)
}

// Buy closes any opposite exposure held by the strategy on inst, then opens
// long. Runs in a supervised background task keyed by a fresh task id.
func (t *Trader) Buy(inst *market.Instrument, price, volume float64, strategy string) {
	t.runTask("buy-"+id.New(), func(ctx context.Context) {
		if err := t.CloseThenOpen(ctx, inst, price, volume, true, strategy); err != nil {
			t.log.Warn("buy failed", zap.String("instrument", inst.ID), zap.Error(err))
		}
	})
}

// Sell is the short-side counterpart of Buy.
func (t *Trader) Sell(inst *market.Instrument, price, volume float64, strategy string) {
	t.runTask("sell-"+id.New(), func(ctx context.Context) {
		if err := t.CloseThenOpen(ctx, inst, price, volume, false, strategy); err != nil {
			t.log.Warn("sell failed", zap.String("instrument", inst.ID), zap.Error(err))
		}
	})
}

// Close closes the strategy's opened orders on inst at market.
func (t *Trader) Close(ctx context.Context, inst *market.Instrument, strategy string) []*account.Order {
	t.mu.Lock()
	defer t.mu.Unlock()
	var closers []*account.Order
	for _, o := range t.acct.OpenedOrders(inst, strategy) {
		if !o.CanClose() {
			continue
		}
		closing, err := t.closeOrderLocked(ctx, o, 0, 0, strategy)
		if err != nil {
			t.log.Error("close", zap.String("order", o.ID), zap.Error(err))
			continue
		}
		closers = append(closers, closing)
	}
	return closers
}

// CloseThenOpen closes the strategy's existing exposure on inst, waits for
// the closes to settle, then opens in the requested direction with the
// volume clamped to the instrument's order limits.
func (t *Trader) CloseThenOpen(ctx context.Context, inst *market.Instrument, price, volume float64, long bool, strategy string) error {
	if !t.CanTrade() {
		return ErrNotReady
	}
	if t.CloseLock() {
		return ErrCloseLock
	}

	closers := t.Close(ctx, inst, strategy)
	if !t.WaitForClosed(ctx, closers) {
		return fmt.Errorf("trader: close before open did not settle")
	}

	volume = math.Min(volume, inst.MaxOrderVolume)
	if volume < inst.MinOrderVolume {
		return fmt.Errorf("trader: volume %v below instrument minimum %v", volume, inst.MinOrderVolume)
	}
	_, err := t.OpenOrder(ctx, inst, price, volume, long, strategy)
	return err
}
