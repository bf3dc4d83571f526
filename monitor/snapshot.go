package monitor

import (
	"time"

	"go.uber.org/zap"

	"github.com/sectrade/sectrader/metrics"
	"github.com/sectrade/sectrader/trader"
)

// Snapshot publishes the account view to the metrics gauges and refreshes the
// balance high-water mark on every interval.
type Snapshot struct {
	Trader   *trader.Trader
	Interval time.Duration
	Log      *zap.Logger
}

func (m *Snapshot) Run() {
	log := m.Log
	if log == nil {
		log = zap.NewNop()
	}
	runEvery("snapshot", m.Interval, m.Trader.Stopped(), log, m.tick)
}

func (m *Snapshot) tick() error {
	m.Trader.OnAccountChanged()

	balance, err := m.Trader.Balance()
	if err != nil {
		return err
	}
	available, err := m.Trader.Available()
	if err != nil {
		return err
	}
	margins, err := m.Trader.Margins()
	if err != nil {
		return err
	}
	floats, err := m.Trader.FloatProfits()
	if err != nil {
		return err
	}

	metrics.SetBalance(balance)
	metrics.SetAvailable(available)
	metrics.SetMargins(margins)
	metrics.SetFloatProfit(floats)
	metrics.SetRealProfit(m.Trader.RealProfits())
	metrics.SetMaxBalance(m.Trader.MaxBalance())
	metrics.SetOpenedOrders(len(m.Trader.OpenedOrders(nil, "")))
	return nil
}
