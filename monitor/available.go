package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sectrade/sectrader/trader"
)

// Available watches the ratio of available funds to balance. When it drops
// below the reserve fraction the monitor de-risks: it blocks new orders,
// closes every open position, and waits for the closes to settle.
type Available struct {
	Trader   *trader.Trader
	Interval time.Duration
	Reserve  float64 // minimum available/balance fraction, e.g. 0.3
	Log      *zap.Logger
}

func (m *Available) Run() {
	log := m.Log
	if log == nil {
		log = zap.NewNop()
	}
	runEvery("available", m.Interval, m.Trader.Stopped(), log, func() error {
		return m.tick(log)
	})
}

func (m *Available) tick(log *zap.Logger) error {
	if !m.Trader.CanTrade() || m.Trader.CloseLock() {
		return nil
	}
	available, err := m.Trader.Available()
	if err != nil {
		return err
	}
	balance, err := m.Trader.Balance()
	if err != nil {
		return err
	}
	if balance <= 0 || available/balance >= m.Reserve {
		return nil
	}

	log.Warn("available funds below reserve, closing all positions",
		zap.Float64("available", available),
		zap.Float64("balance", balance),
		zap.Float64("reserve", m.Reserve))

	m.Trader.SetCloseLock(true)
	defer m.Trader.SetCloseLock(false)

	ctx := context.Background()
	closers := m.Trader.CloseAll(ctx, nil)
	if m.Trader.WaitForClosed(ctx, closers) {
		log.Info("all positions closed")
	}
	return nil
}
