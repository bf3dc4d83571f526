package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sectrade/sectrader/account"
	"github.com/sectrade/sectrader/gateway/sim"
	"github.com/sectrade/sectrader/market"
	"github.com/sectrade/sectrader/trader"
)

type fixture struct {
	inst     *market.Instrument
	catalog  *market.Catalog
	ticks    *market.TickStore
	notifier *market.ChanNotifier
	engine   *sim.Engine
	trader   *trader.Trader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rate := 0.0
	inst := &market.Instrument{
		ID:                  "IF1506",
		Symbol:              "IF1506",
		QuotedCurrency:      "CNY",
		Digits:              2,
		Multiplier:          1,
		LongMarginRatio:     0.1,
		ShortMarginRatio:    0.1,
		OpenCommissionRate:  &rate,
		CloseCommissionRate: &rate,
		IsTrading:           true,
	}
	catalog := market.NewCatalog()
	catalog.Add(inst)
	ticks := market.NewTickStore()
	notifier := market.NewChanNotifier()
	conv := market.NewConverter(catalog, ticks)
	acct := account.New("acct", "CNY", conv, ticks, nil, nil)
	acct.Deposit(1000000, "")

	engine := sim.NewEngine(ticks, notifier, nil)
	t.Cleanup(engine.Close)

	tr := trader.New(acct, engine, catalog, nil, trader.Options{
		CloseWaitRounds:   100,
		CloseWaitInterval: 5 * time.Millisecond,
	})
	engine.Bind(tr)
	tr.OnLogon()
	tr.ReadyForTrade()
	t.Cleanup(tr.Stop)

	return &fixture{inst: inst, catalog: catalog, ticks: ticks, notifier: notifier, engine: engine, trader: tr}
}

func (f *fixture) openFilled(t *testing.T, long bool, volume float64) *account.Order {
	t.Helper()
	o, err := f.trader.OpenOrder(context.Background(), f.inst, 0, volume, long, "strat")
	require.NoError(t, err)
	f.engine.Flush()
	require.Eventually(t, func() bool {
		return len(f.trader.OpenedOrders(f.inst, "")) > 0
	}, time.Second, 5*time.Millisecond)
	return o
}

func TestAvailableMonitorClosesAll(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.engine.UpdateTick(market.Tick{InstrumentID: f.inst.ID, Bid: 4999, Ask: 5001, Time: time.Now()})
	o := f.openFilled(t, true, 2)

	m := &Available{Trader: f.trader, Interval: time.Hour, Reserve: 0.1}

	// plenty of funds: nothing happens
	require.NoError(t, m.tick(zap.NewNop()))
	assert.NotEqual(t, account.StatusClosed, o.Status)

	// broker reports almost nothing available: the monitor de-risks
	f.trader.Account().SetAvailable(1000)
	require.NoError(t, m.tick(zap.NewNop()))
	f.engine.Flush()

	assert.Equal(t, account.StatusClosed, o.Status)
	assert.False(t, f.trader.CloseLock()) // lock released after the sweep
	assert.Empty(t, f.trader.CombinedPositions())
}

func TestAvailableMonitorSkipsWhenNotReady(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.trader.OnLogout()

	m := &Available{Trader: f.trader, Interval: time.Hour, Reserve: 0.9}
	require.NoError(t, m.tick(zap.NewNop()))
	assert.False(t, f.trader.CloseLock())
}

func TestStopCheckClosesBreachedOrders(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.trader.Monitor("IF1506", trader.StopPolicy{OffsetLoss: 10}))

	f.engine.UpdateTick(market.Tick{InstrumentID: f.inst.ID, Bid: 4999, Ask: 5001, Time: time.Now()})
	o := f.openFilled(t, true, 2) // filled at 5001, stoploss 4991

	m := &StopCheck{
		Trader:   f.trader,
		Catalog:  f.catalog,
		Oracle:   f.ticks,
		Notifier: f.notifier,
	}

	// price above the stop: position stays
	f.engine.UpdateTick(market.Tick{InstrumentID: f.inst.ID, Bid: 4995, Ask: 4997, Time: time.Now()})
	require.NoError(t, m.Check(f.inst.ID))
	f.engine.Flush()
	assert.NotEqual(t, account.StatusClosed, o.Status)

	// bid breaches the stop: the position is closed at market
	f.engine.UpdateTick(market.Tick{InstrumentID: f.inst.ID, Bid: 4990, Ask: 4992, Time: time.Now()})
	require.NoError(t, m.Check(f.inst.ID))
	f.engine.Flush()

	assert.Equal(t, account.StatusClosed, o.Status)
	assert.Empty(t, f.trader.CombinedPositions())
	assert.InDelta(t, -22, f.trader.RealProfits(), 1e-9) // (4990-5001) * 2
}

func TestStopCheckRatchetsWithoutBreach(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.trader.Monitor("IF1506", trader.StopPolicy{OffsetLoss: 10}))

	f.engine.UpdateTick(market.Tick{InstrumentID: f.inst.ID, Bid: 4999, Ask: 5001, Time: time.Now()})
	o := f.openFilled(t, true, 2)

	m := &StopCheck{Trader: f.trader, Catalog: f.catalog, Oracle: f.ticks, Notifier: f.notifier}

	f.engine.UpdateTick(market.Tick{InstrumentID: f.inst.ID, Bid: 5020, Ask: 5022, Time: time.Now()})
	require.NoError(t, m.Check(f.inst.ID))
	f.engine.Flush()

	assert.InDelta(t, 5010, o.StopLoss, 1e-9) // ratcheted up from 4991
	assert.Equal(t, account.StatusFilled, o.Status)
}

func TestStopCheckIgnoresUnmonitoredInstrument(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	m := &StopCheck{Trader: f.trader, Catalog: f.catalog, Oracle: f.ticks, Notifier: f.notifier}

	// no policy registered for the instrument, and unknown ids are no-ops
	require.NoError(t, m.Check(f.inst.ID))
	require.NoError(t, m.Check("UNKNOWN"))
}

func TestUntradedMonitorRequeriesOrders(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.engine.UpdateTick(market.Tick{InstrumentID: f.inst.ID, Bid: 4999, Ask: 5001, Time: time.Now()})

	// resting limit order stays untraded
	o, err := f.trader.OpenOrder(context.Background(), f.inst, 4990, 1, true, "strat")
	require.NoError(t, err)
	f.engine.Flush()

	f.trader.ReconcileUntraded(context.Background())
	f.engine.Flush()
	assert.NotEqual(t, account.StatusClosed, o.Status)
}

func TestIterateSurvivesPanicsAndErrors(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		iterate("test", zap.NewNop(), func() error { panic("boom") })
	})
	assert.NotPanics(t, func() {
		iterate("test", zap.NewNop(), func() error { return errors.New("fail") })
	})
}
