package sim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sectrade/sectrader/account"
	"github.com/sectrade/sectrader/market"
)

// recorder captures delivered events.
type recorder struct {
	mu      sync.Mutex
	news    []string // sys ids confirmed
	fills   []fillEvent
	cancels []string
	history []fillEvent
}

type fillEvent struct {
	execID string
	sysID  string
	price  float64
	volume float64
}

func (r *recorder) OnNewOrder(localID, instrumentID, sysID string, long bool, price, volume float64, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.news = append(r.news, sysID)
}

func (r *recorder) OnTrade(execID, instrumentID, sysID string, price, volume float64, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fills = append(r.fills, fillEvent{execID, sysID, price, volume})
}

func (r *recorder) OnReject(localID, reasonCode, reason string) {}

func (r *recorder) OnCancel(localID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels = append(r.cancels, localID)
}

func (r *recorder) OnHistoryTrade(execID, instrumentID, sysID, localID string, long bool, price, volume float64, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, fillEvent{execID, sysID, price, volume})
}

func (r *recorder) fillsSnapshot() []fillEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]fillEvent(nil), r.fills...)
}

func (r *recorder) cancelsSnapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.cancels...)
}

func testInstrument() *market.Instrument {
	return &market.Instrument{
		ID:             "XAU1506",
		Symbol:         "XAU/USD",
		QuotedCurrency: "USD",
		Digits:         2,
		Multiplier:     100,
	}
}

func newTestEngine(t *testing.T) (*Engine, *recorder, *market.TickStore) {
	t.Helper()
	ticks := market.NewTickStore()
	e := NewEngine(ticks, market.NewChanNotifier(), nil)
	t.Cleanup(e.Close)
	r := &recorder{}
	e.Bind(r)
	return e, r, ticks
}

func TestMarketOrderFillsAtCurrentTick(t *testing.T) {
	t.Parallel()

	e, r, _ := newTestEngine(t)
	inst := testInstrument()
	e.UpdateTick(market.Tick{InstrumentID: inst.ID, Bid: 1199, Ask: 1201, Time: time.Now()})

	localID, err := e.OpenMarketOrder(context.Background(), inst, 2, true)
	require.NoError(t, err)
	require.NotEmpty(t, localID)
	e.Flush()

	require.Len(t, r.news, 1)
	fills := r.fillsSnapshot()
	require.Len(t, fills, 1)
	assert.InDelta(t, 1201, fills[0].price, 1e-9) // long fills at ask
	assert.InDelta(t, 2, fills[0].volume, 1e-9)

	// short side fills at bid
	_, err = e.OpenMarketOrder(context.Background(), inst, 1, false)
	require.NoError(t, err)
	e.Flush()
	fills = r.fillsSnapshot()
	require.Len(t, fills, 2)
	assert.InDelta(t, 1199, fills[1].price, 1e-9)
}

func TestMarketOrderWaitsForFirstQuote(t *testing.T) {
	t.Parallel()

	e, r, _ := newTestEngine(t)
	inst := testInstrument()

	localID, err := e.OpenMarketOrder(context.Background(), inst, 1, true)
	require.NoError(t, err)
	e.Flush()
	assert.Empty(t, r.fillsSnapshot())
	assert.InDelta(t, 1, e.RestingVolume(localID), 1e-9)

	e.UpdateTick(market.Tick{InstrumentID: inst.ID, Bid: 1199, Ask: 1201, Time: time.Now()})
	e.Flush()
	assert.Len(t, r.fillsSnapshot(), 1)
}

func TestLimitOrderRestsUntilCrossed(t *testing.T) {
	t.Parallel()

	e, r, _ := newTestEngine(t)
	inst := testInstrument()
	e.UpdateTick(market.Tick{InstrumentID: inst.ID, Bid: 1199, Ask: 1201, Time: time.Now()})

	// buy below the ask: rests
	localID, err := e.OpenLimitOrder(context.Background(), inst, 1195, 2, true)
	require.NoError(t, err)
	e.Flush()
	assert.Empty(t, r.fillsSnapshot())
	assert.InDelta(t, 2, e.RestingVolume(localID), 1e-9)

	// price crosses: fills at the limit price
	e.UpdateTick(market.Tick{InstrumentID: inst.ID, Bid: 1193, Ask: 1195, Time: time.Now()})
	e.Flush()
	fills := r.fillsSnapshot()
	require.Len(t, fills, 1)
	assert.InDelta(t, 1195, fills[0].price, 1e-9)
	assert.InDelta(t, 0, e.RestingVolume(localID), 1e-9)
}

func TestLimitOrderImmediateCross(t *testing.T) {
	t.Parallel()

	e, r, _ := newTestEngine(t)
	inst := testInstrument()
	e.UpdateTick(market.Tick{InstrumentID: inst.ID, Bid: 1199, Ask: 1201, Time: time.Now()})

	// buy above the ask fills straight away
	_, err := e.OpenLimitOrder(context.Background(), inst, 1205, 1, true)
	require.NoError(t, err)
	e.Flush()
	assert.Len(t, r.fillsSnapshot(), 1)
}

func TestCancelRestingOrder(t *testing.T) {
	t.Parallel()

	e, r, _ := newTestEngine(t)
	inst := testInstrument()
	e.UpdateTick(market.Tick{InstrumentID: inst.ID, Bid: 1199, Ask: 1201, Time: time.Now()})

	localID, err := e.OpenLimitOrder(context.Background(), inst, 1195, 2, true)
	require.NoError(t, err)

	canceled := e.CancelOrders(context.Background(), []*account.Order{{ID: localID}})
	assert.Equal(t, []string{localID}, canceled)
	e.Flush()
	assert.Equal(t, []string{localID}, r.cancelsSnapshot())

	// a canceled order never fills
	e.UpdateTick(market.Tick{InstrumentID: inst.ID, Bid: 1193, Ask: 1195, Time: time.Now()})
	e.Flush()
	assert.Empty(t, r.fillsSnapshot())

	// cancel of a filled order is a no-op
	filledID, err := e.OpenMarketOrder(context.Background(), inst, 1, true)
	require.NoError(t, err)
	assert.Empty(t, e.CancelOrders(context.Background(), []*account.Order{{ID: filledID}}))
}

func TestQueryOrderStatusRedelivers(t *testing.T) {
	t.Parallel()

	e, r, _ := newTestEngine(t)
	inst := testInstrument()
	e.UpdateTick(market.Tick{InstrumentID: inst.ID, Bid: 1199, Ask: 1201, Time: time.Now()})

	localID, err := e.OpenMarketOrder(context.Background(), inst, 2, true)
	require.NoError(t, err)
	e.Flush()
	require.Len(t, r.fillsSnapshot(), 1)

	require.NoError(t, e.QueryOrderStatus(context.Background(), &account.Order{ID: localID}))
	e.Flush()
	fills := r.fillsSnapshot()
	require.Len(t, fills, 2)
	assert.Equal(t, fills[0].execID, fills[1].execID)

	assert.Error(t, e.QueryOrderStatus(context.Background(), &account.Order{ID: "nope"}))
}

func TestQueryHistoryTrades(t *testing.T) {
	t.Parallel()

	e, r, _ := newTestEngine(t)
	inst := testInstrument()
	e.UpdateTick(market.Tick{InstrumentID: inst.ID, Bid: 1199, Ask: 1201, Time: time.Now()})

	_, err := e.OpenMarketOrder(context.Background(), inst, 2, true)
	require.NoError(t, err)
	e.Flush()

	require.NoError(t, e.QueryHistoryTrades(context.Background(), time.Time{}))
	e.Flush()
	assert.Len(t, r.history, 1)

	// a start time after the fill excludes it
	require.NoError(t, e.QueryHistoryTrades(context.Background(), time.Now().Add(time.Hour)))
	e.Flush()
	assert.Len(t, r.history, 1)
}

// stalledConsumer blocks event delivery until released, the way a consumer
// holding its own lock would.
type stalledConsumer struct {
	recorder
	gate chan struct{}
	once sync.Once
}

func (s *stalledConsumer) OnNewOrder(localID, instrumentID, sysID string, long bool, price, volume float64, at time.Time) {
	s.once.Do(func() { <-s.gate })
	s.recorder.OnNewOrder(localID, instrumentID, sysID, long, price, volume, at)
}

func TestPlacementNeverBlocksOnStalledConsumer(t *testing.T) {
	t.Parallel()

	ticks := market.NewTickStore()
	e := NewEngine(ticks, market.NewChanNotifier(), nil)
	t.Cleanup(e.Close)
	c := &stalledConsumer{gate: make(chan struct{})}
	e.Bind(c)

	inst := testInstrument()
	e.UpdateTick(market.Tick{InstrumentID: inst.ID, Bid: 1199, Ask: 1201, Time: time.Now()})

	// with delivery stalled on the first confirmation, placements must
	// still return promptly no matter how many events pile up
	const n = 600
	placed := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			_, err := e.OpenMarketOrder(context.Background(), inst, 1, true)
			assert.NoError(t, err)
		}
		close(placed)
	}()

	select {
	case <-placed:
	case <-time.After(5 * time.Second):
		t.Fatal("placement blocked behind a stalled event consumer")
	}

	close(c.gate)
	e.Flush()
	assert.Len(t, c.news, n)
}

func TestPlaceValidation(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t)
	inst := testInstrument()

	_, err := e.OpenMarketOrder(context.Background(), nil, 1, true)
	assert.Error(t, err)
	_, err = e.OpenMarketOrder(context.Background(), inst, 0, true)
	assert.Error(t, err)

	unbound := NewEngine(market.NewTickStore(), nil, nil)
	t.Cleanup(unbound.Close)
	_, err = unbound.OpenMarketOrder(context.Background(), inst, 1, true)
	assert.Error(t, err)
}
