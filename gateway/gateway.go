// Package gateway defines the contract between the trading core and a broker
// connection. Placement calls are synchronous and return a local order id;
// everything else arrives as asynchronous events on the gateway's own
// goroutine.
package gateway

import (
	"context"
	"time"

	"github.com/sectrade/sectrader/account"
	"github.com/sectrade/sectrader/market"
)

// Gateway is the outbound half of a broker connection.
type Gateway interface {
	// OpenMarketOrder places a market order establishing new exposure and
	// returns the local order id.
	OpenMarketOrder(ctx context.Context, inst *market.Instrument, volume float64, long bool) (string, error)
	OpenLimitOrder(ctx context.Context, inst *market.Instrument, price, volume float64, long bool) (string, error)

	// CloseMarketOrder places a market order reducing the exposure of order.
	CloseMarketOrder(ctx context.Context, order *account.Order, volume float64) (string, error)
	CloseLimitOrder(ctx context.Context, order *account.Order, price, volume float64) (string, error)

	// CancelOrders requests cancellation and returns the local ids actually
	// submitted for cancel.
	CancelOrders(ctx context.Context, orders []*account.Order) []string

	// QueryOrderStatus asks the broker to re-report an order's state. The
	// answer arrives through Events; this covers missed callbacks.
	QueryOrderStatus(ctx context.Context, order *account.Order) error

	// QueryHistoryTrades requests a replay of executions since start,
	// delivered through Events.OnHistoryTrade.
	QueryHistoryTrades(ctx context.Context, start time.Time) error
}

// Events is the inbound half: the broker's asynchronous reports. All methods
// may be invoked concurrently with placement calls and with each other.
type Events interface {
	OnNewOrder(localID, instrumentID, sysID string, long bool, price, volume float64, at time.Time)
	OnTrade(execID, instrumentID, sysID string, price, volume float64, at time.Time)
	OnReject(localID, reasonCode, reason string)
	OnCancel(localID string)
	OnHistoryTrade(execID, instrumentID, sysID, localID string, long bool, price, volume float64, at time.Time)
}
