// Package metrics exposes the account snapshot over Prometheus. Gauges are
// registered once at init and served via the standard promhttp handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	balanceGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trader_balance",
		Help: "Account balance in the base currency.",
	})

	availableGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trader_available",
		Help: "Funds available for new positions.",
	})

	marginGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trader_margin_occupied",
		Help: "Margin occupied by opened positions.",
	})

	floatProfitGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trader_float_profit",
		Help: "Unrealized profit of opened positions.",
	})

	realProfitGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trader_real_profit",
		Help: "Realized profit booked since start.",
	})

	maxBalanceGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trader_max_balance",
		Help: "High-water mark of the account balance.",
	})

	openedOrdersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trader_opened_orders",
		Help: "Number of orders holding an open position.",
	})

	ordersPlaced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_orders_placed_total",
		Help: "Orders sent to the gateway, by intent.",
	}, []string{"intent"})
)

func init() {
	prometheus.MustRegister(balanceGauge, availableGauge, marginGauge,
		floatProfitGauge, realProfitGauge, maxBalanceGauge, openedOrdersGauge,
		ordersPlaced)
}

func SetBalance(v float64)      { balanceGauge.Set(v) }
func SetAvailable(v float64)    { availableGauge.Set(v) }
func SetMargins(v float64)      { marginGauge.Set(v) }
func SetFloatProfit(v float64)  { floatProfitGauge.Set(v) }
func SetRealProfit(v float64)   { realProfitGauge.Set(v) }
func SetMaxBalance(v float64)   { maxBalanceGauge.Set(v) }
func SetOpenedOrders(n int)     { openedOrdersGauge.Set(float64(n)) }
func IncOrderPlaced(intent string) { ordersPlaced.WithLabelValues(intent).Inc() }

// Serve blocks serving /metrics on addr.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
