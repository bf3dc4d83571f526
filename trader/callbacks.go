package trader

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sectrade/sectrader/account"
)

// The methods below implement gateway.Events. Each one holds the trader lock
// for the whole read-modify-write so a callback never observes another
// transition half-applied.

// OnNewOrder applies a gateway order confirmation. A confirmation for an
// unknown local id creates a placeholder order whose intent resolves once the
// placing call registers it.
func (t *Trader) OnNewOrder(localID, instrumentID, sysID string, long bool, price, volume float64, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.acct.OrderBySysID(sysID); ok {
		// redelivered confirmation
		return
	}
	o, ok := t.acct.OrderByLocalID(localID)
	if !ok {
		t.log.Warn("confirmation for unknown order", zap.String("local_id", localID))
		o = t.acct.CreateOrder(localID, account.IntentUnknown, "", nil)
	}
	inst, ok := t.catalog.ByID(instrumentID)
	if !ok {
		t.log.Error("confirmation for unknown instrument",
			zap.String("local_id", localID), zap.String("instrument", instrumentID))
		return
	}
	if err := o.OnNew(sysID, inst, long, price, volume, at); err != nil {
		t.log.Error("order confirmation", zap.String("local_id", localID), zap.Error(err))
		return
	}
	t.acct.IndexSysID(o)
	t.acct.SaveOrder(o)
}

// OnTrade applies an execution report. Fills on opening orders re-arm the
// stop ratchet for the new exposure from the per-instrument policy.
func (t *Trader) OnTrade(execID, instrumentID, sysID string, price, volume float64, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTradeLocked(execID, instrumentID, sysID, price, volume, at)
}

func (t *Trader) onTradeLocked(execID, instrumentID, sysID string, price, volume float64, at time.Time) {
	o, ok := t.acct.OrderBySysID(sysID)
	if !ok {
		t.log.Error("fill for unknown order",
			zap.String("sys_id", sysID), zap.String("exec_id", execID))
		return
	}

	// The placing call registers the order's intent right after the gateway
	// accepts it. A fill racing that window waits briefly for resolution.
	for round := 0; o.Intent == account.IntentUnknown; round++ {
		if round >= t.opts.IntentWaitRounds {
			t.log.Error("fill for order with unresolved intent",
				zap.String("sys_id", sysID), zap.String("exec_id", execID))
			return
		}
		t.mu.Unlock()
		time.Sleep(t.opts.IntentWaitInterval)
		t.mu.Lock()
	}

	if err := t.acct.OnTrade(o, execID, price, volume, at); err != nil {
		switch {
		case errors.Is(err, account.ErrDuplicateExec):
			t.log.Debug("duplicate execution dropped", zap.String("exec_id", execID))
		default:
			t.log.Error("apply fill", zap.String("exec_id", execID), zap.Error(err))
		}
		return
	}
	t.log.Info("fill",
		zap.String("strategy", o.StrategyCode),
		zap.Bool("open", o.Intent == account.IntentOpen),
		zap.Bool("long", o.IsLong),
		zap.String("instrument", o.Instrument.ID),
		zap.Float64("price", price),
		zap.Float64("volume", volume))

	if o.Intent == account.IntentOpen {
		if policy, ok := t.policyForLocked(o.Instrument); ok {
			o.SetStopPrice(price, policy.OffsetLoss, policy.OffsetProfit)
			t.acct.SaveOrder(o)
			t.log.Debug("stops set",
				zap.String("order", o.ID),
				zap.Float64("stoploss", o.StopLoss),
				zap.Float64("stopprofit", o.StopProfit))
		}
	}
	if o.IsClosed() {
		t.cancelOrderTaskLocked(o.ID)
		if o.OrigOrder != nil && o.OrigOrder.IsClosed() {
			t.cancelOrderTaskLocked(o.OrigOrder.ID)
			t.log.Debug("order fully closed", zap.String("order", o.OrigOrder.ID))
		}
	}
}

// OnReject terminally fails the order named by the local id.
func (t *Trader) OnReject(localID, reasonCode, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.log.Warn("order rejected",
		zap.String("local_id", localID),
		zap.String("code", reasonCode),
		zap.String("reason", reason))
	o, ok := t.acct.OrderByLocalID(localID)
	if !ok {
		t.log.Error("reject for unknown order", zap.String("local_id", localID))
		return
	}
	o.OnReject()
	t.acct.SaveOrder(o)
	if o.OrigOrder != nil {
		t.acct.SaveOrder(o.OrigOrder)
	}
	t.cancelOrderTaskLocked(o.ID)
}

// OnCancel applies a cancel report; partial cancels shrink the order volume
// instead of transitioning state.
func (t *Trader) OnCancel(localID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	o, ok := t.acct.OrderByLocalID(localID)
	if !ok {
		t.log.Error("cancel for unknown order", zap.String("local_id", localID))
		return
	}
	o.OnCancel()
	t.acct.SaveOrder(o)
	if o.OrigOrder != nil {
		t.acct.SaveOrder(o.OrigOrder)
	}
	if o.Status == account.StatusCanceled {
		t.cancelOrderTaskLocked(o.ID)
	}
}

// OnHistoryTrade replays an execution after reconnect: confirm the order if
// the confirmation was missed, then apply the fill through the normal path.
func (t *Trader) OnHistoryTrade(execID, instrumentID, sysID, localID string, long bool, price, volume float64, at time.Time) {
	t.mu.Lock()

	o, ok := t.acct.OrderBySysID(sysID)
	if !ok {
		o, ok = t.acct.OrderByLocalID(localID)
	}
	if !ok {
		t.mu.Unlock()
		t.log.Error("history trade for unknown order",
			zap.String("sys_id", sysID), zap.String("local_id", localID))
		return
	}
	if o.SysID == "" {
		inst, instOK := t.catalog.ByID(instrumentID)
		if !instOK {
			t.mu.Unlock()
			t.log.Error("history trade for unknown instrument", zap.String("instrument", instrumentID))
			return
		}
		if err := o.OnNew(sysID, inst, long, price, volume, at); err != nil {
			t.mu.Unlock()
			t.log.Error("history confirmation", zap.String("local_id", localID), zap.Error(err))
			return
		}
		t.acct.IndexSysID(o)
		t.acct.SaveOrder(o)
	}
	t.onTradeLocked(execID, instrumentID, sysID, price, volume, at)
	t.mu.Unlock()
}
