package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAccountUpsert(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	rec := AccountRecord{Code: "acct", DefaultCurrency: "CNY", RealProfits: 10}
	require.NoError(t, s.SaveAccount(rec))

	rec.RealProfits = 25
	require.NoError(t, s.SaveAccount(rec))
}

func TestSaveBalanceUpsert(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.SaveBalance(BalanceRecord{AccountCode: "acct", Currency: "CNY", Value: 100}))
	require.NoError(t, s.SaveBalance(BalanceRecord{AccountCode: "acct", Currency: "CNY", Value: 250}))
	require.NoError(t, s.SaveBalance(BalanceRecord{AccountCode: "acct", Currency: "USD", Value: 10}))
}

func TestOrderRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	at := time.Now().UTC().Truncate(time.Second)
	rec := OrderRecord{
		ID:           "o-1",
		AccountCode:  "acct",
		SysID:        "S-1",
		StrategyCode: "strat",
		InstrumentID: "IF1506",
		IsLong:       true,
		IsOpen:       true,
		OrderTime:    at,
		Price:        5000,
		Volume:       2,
		Status:       3,
		StopLoss:     4990,
		StopProfit:   5030,
	}
	require.NoError(t, s.SaveOrder(rec))

	got, err := s.GetOrder("o-1")
	require.NoError(t, err)
	assert.Equal(t, rec.SysID, got.SysID)
	assert.Equal(t, rec.Status, got.Status)
	assert.InDelta(t, rec.StopLoss, got.StopLoss, 1e-9)
	assert.True(t, got.OrderTime.Equal(at))

	// save again with a new status: replaced, not duplicated
	rec.Status = 5
	require.NoError(t, s.SaveOrder(rec))
	list, err := s.ListOrders("acct")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 5, list[0].Status)

	_, err = s.GetOrder("missing")
	assert.Error(t, err)
}

func TestTradeQueries(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)
	for i, at := range []time.Time{base, base.Add(time.Minute), base.Add(2 * time.Minute)} {
		require.NoError(t, s.SaveTrade(TradeRecord{
			ExecID:    string(rune('a' + i)),
			OrderID:   "o-1",
			TradeTime: at,
			Price:     5000,
			Volume:    1,
		}))
	}

	trades, err := s.ListTrades("o-1")
	require.NoError(t, err)
	assert.Len(t, trades, 3)

	// [start, end) excludes the last trade
	trades, err = s.ListTradesBetween(base, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Len(t, trades, 2)

	// re-saving an exec id replaces instead of duplicating
	require.NoError(t, s.SaveTrade(TradeRecord{ExecID: "a", OrderID: "o-1", TradeTime: base, Price: 5001, Volume: 1}))
	trades, err = s.ListTrades("o-1")
	require.NoError(t, err)
	assert.Len(t, trades, 3)
}

func TestDeleteOrderCascades(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	at := time.Now().UTC()
	require.NoError(t, s.SaveOrder(OrderRecord{ID: "o-1", AccountCode: "acct", OrderTime: at}))
	require.NoError(t, s.SaveTrade(TradeRecord{ExecID: "e-1", OrderID: "o-1", TradeTime: at, Price: 1, Volume: 1}))

	require.NoError(t, s.DeleteOrder("o-1"))

	_, err := s.GetOrder("o-1")
	assert.Error(t, err)
	trades, err := s.ListTrades("o-1")
	require.NoError(t, err)
	assert.Empty(t, trades)
}
