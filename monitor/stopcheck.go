package monitor

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sectrade/sectrader/account"
	"github.com/sectrade/sectrader/market"
	"github.com/sectrade/sectrader/trader"
)

// StopCheck reacts to price-update notifications: it tightens the stop
// ratchet for the instrument's opened orders, then closes any order whose
// stop-loss or stop-profit the new price breached.
type StopCheck struct {
	Trader   *trader.Trader
	Catalog  *market.Catalog
	Oracle   market.PriceOracle
	Notifier market.Notifier
	Log      *zap.Logger
}

func (m *StopCheck) Run() {
	log := m.Log
	if log == nil {
		log = zap.NewNop()
	}
	ch := m.Notifier.Subscribe()
	log.Debug("monitor started", zap.String("monitor", "stopcheck"))
	for {
		select {
		case <-m.Trader.Stopped():
			log.Debug("monitor exited", zap.String("monitor", "stopcheck"))
			return
		case instID := <-ch:
			iterate("stopcheck", log, func() error {
				return m.Check(instID)
			})
		}
	}
}

// Check runs one stop evaluation for the instrument. Exported so tests and
// replays can drive it without the notification channel.
func (m *StopCheck) Check(instID string) error {
	log := m.Log
	if log == nil {
		log = zap.NewNop()
	}
	if !m.Trader.CanTrade() {
		return nil
	}
	inst, ok := m.Catalog.ByID(instID)
	if !ok {
		// price signal for an instrument outside the catalog
		return nil
	}
	if _, ok := m.Trader.PolicyFor(inst); !ok {
		return nil
	}

	bid, err := m.Oracle.CurrentPrice(instID, market.Bid)
	if err != nil {
		return err
	}
	ask, err := m.Oracle.CurrentPrice(instID, market.Ask)
	if err != nil {
		return err
	}

	// longs ratchet on the bid; with one signal per tick the bid is the
	// conservative reference for both directions
	m.Trader.RatchetStops(inst, bid)

	breached := m.Trader.StopBreaches(inst, bid, ask)
	if len(breached) == 0 {
		return nil
	}

	ctx := context.Background()
	var closings []*account.Order
	for _, o := range breached {
		closing, err := m.Trader.CloseOrder(ctx, o, 0, 0, o.StrategyCode)
		if err != nil {
			if errors.Is(err, trader.ErrNotCloseable) {
				// already on its way out from an earlier breach
				continue
			}
			log.Error("close breached order", zap.String("order", o.ID), zap.Error(err))
			continue
		}
		closings = append(closings, closing)
	}
	if len(closings) > 0 && !m.Trader.WaitForClosed(ctx, closings) {
		log.Warn("stop close did not settle", zap.String("instrument", instID))
	}
	return nil
}
