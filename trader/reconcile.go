package trader

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sectrade/sectrader/account"
	"github.com/sectrade/sectrader/market"
)

// RatchetStops re-derives the protective prices of every opened order on inst
// from the latest price, honoring the ratchet rules: the profit target never
// moves once set, the loss stop only tightens.
func (t *Trader) RatchetStops(inst *market.Instrument, price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	policy, ok := t.policyForLocked(inst)
	if !ok {
		return
	}
	for _, o := range t.acct.OpenedOrders(inst, "") {
		o.SetStopPrice(price, policy.OffsetLoss, policy.OffsetProfit)
		t.acct.SaveOrder(o)
	}
}

// StopBreaches returns the opened orders on inst whose stop-loss or
// stop-profit is breached: longs marked at bid, shorts at ask.
func (t *Trader) StopBreaches(inst *market.Instrument, bid, ask float64) []*account.Order {
	t.mu.Lock()
	defer t.mu.Unlock()

	var breached []*account.Order
	for _, o := range t.acct.OpenedOrders(inst, "") {
		opened := o.OpenedVolume()
		switch {
		case opened < 0 && o.StopLoss != 0 && ask >= o.StopLoss:
			t.log.Warn("short stop-loss hit",
				zap.String("order", o.ID), zap.Float64("price", ask), zap.Float64("stoploss", o.StopLoss))
		case opened > 0 && o.StopLoss != 0 && bid <= o.StopLoss:
			t.log.Warn("long stop-loss hit",
				zap.String("order", o.ID), zap.Float64("price", bid), zap.Float64("stoploss", o.StopLoss))
		case opened > 0 && o.StopProfit != 0 && bid >= o.StopProfit:
			t.log.Info("long stop-profit hit",
				zap.String("order", o.ID), zap.Float64("price", bid), zap.Float64("stopprofit", o.StopProfit))
		case opened < 0 && o.StopProfit != 0 && ask <= o.StopProfit:
			t.log.Info("short stop-profit hit",
				zap.String("order", o.ID), zap.Float64("price", ask), zap.Float64("stopprofit", o.StopProfit))
		default:
			continue
		}
		breached = append(breached, o)
	}
	return breached
}

// ReconcileUntraded asks the gateway to re-report every order still waiting
// for fills, recovering callbacks lost on the wire.
func (t *Trader) ReconcileUntraded(ctx context.Context) {
	t.mu.Lock()
	orders := t.acct.UntradedOrders(nil, "")
	t.mu.Unlock()

	for _, o := range orders {
		if err := t.gw.QueryOrderStatus(ctx, o); err != nil {
			t.log.Error("query order status", zap.String("order", o.ID), zap.Error(err))
		}
	}
}

// TimeoutLimitOrders cancels limit orders that have been working longer than
// timeout. A canceled closing order leaves exposure unprotected, so once its
// cancel lands the close is re-submitted at market.
func (t *Trader) TimeoutLimitOrders(ctx context.Context, timeout time.Duration) {
	now := time.Now()

	t.mu.Lock()
	var expired []*account.Order
	for _, o := range t.acct.UntradedOrders(nil, "") {
		if o.Price == 0 || o.Time.IsZero() {
			continue
		}
		if now.Sub(o.Time) >= timeout {
			expired = append(expired, o)
		}
	}
	t.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	t.log.Warn("canceling timed out limit orders", zap.Int("orders", len(expired)))
	t.gw.CancelOrders(ctx, expired)

	for _, o := range expired {
		if o.Intent != account.IntentClose || o.OrigOrder == nil {
			continue
		}
		o := o
		orig := o.OrigOrder
		t.RunOrderTask(orig.ID, func(taskCtx context.Context) {
			t.resubmitMarketClose(taskCtx, o, orig)
		})
	}
}

// resubmitMarketClose waits for the canceled limit close to settle, then
// places a market close for the remaining exposure.
func (t *Trader) resubmitMarketClose(ctx context.Context, closing, orig *account.Order) {
	for round := 0; round < t.opts.CloseWaitRounds; round++ {
		t.mu.Lock()
		settled := closing.Status == account.StatusCanceled || orig.Status == account.StatusFilled
		t.mu.Unlock()
		if settled {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-time.After(t.opts.CloseWaitInterval):
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !orig.CanClose() || orig.OpenedVolume() == 0 {
		return
	}
	if _, err := t.closeOrderLocked(ctx, orig, 0, 0, orig.StrategyCode); err != nil {
		t.log.Error("market close fallback", zap.String("order", orig.ID), zap.Error(err))
	}
}
