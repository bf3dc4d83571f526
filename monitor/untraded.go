package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sectrade/sectrader/trader"
)

// Untraded periodically re-queries the status of orders the gateway never
// confirmed or never fully filled, so missed callbacks are replayed.
type Untraded struct {
	Trader   *trader.Trader
	Interval time.Duration
	Log      *zap.Logger
}

func (m *Untraded) Run() {
	log := m.Log
	if log == nil {
		log = zap.NewNop()
	}
	runEvery("untraded", m.Interval, m.Trader.Stopped(), log, func() error {
		if !m.Trader.CanTrade() {
			return nil
		}
		m.Trader.ReconcileUntraded(context.Background())
		return nil
	})
}
