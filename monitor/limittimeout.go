package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sectrade/sectrader/trader"
)

// LimitTimeout cancels limit orders that sat unfilled past Timeout. A timed
// out closing order is resubmitted at market once its cancel settles, so a
// position queued for exit never stays stuck behind a stale price.
type LimitTimeout struct {
	Trader   *trader.Trader
	Interval time.Duration
	Timeout  time.Duration
	Log      *zap.Logger
}

func (m *LimitTimeout) Run() {
	log := m.Log
	if log == nil {
		log = zap.NewNop()
	}
	runEvery("limit-timeout", m.Interval, m.Trader.Stopped(), log, func() error {
		if !m.Trader.CanTrade() {
			return nil
		}
		m.Trader.TimeoutLimitOrders(context.Background(), m.Timeout)
		return nil
	})
}
