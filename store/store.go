// Package store persists the account graph: accounts with nested balances,
// orders with a back reference to their opening order, and trades linked to
// their order. exec_id and sys_id are unique.
package store

import "time"

type AccountRecord struct {
	Code            string
	DefaultCurrency string
	LastTradeTime   time.Time
	RealProfits     float64
}

type BalanceRecord struct {
	AccountCode string
	Currency    string
	Value       float64
}

type OrderRecord struct {
	ID           string // local id
	AccountCode  string
	SysID        string
	StrategyCode string
	InstrumentID string
	IsLong       bool
	IsOpen       bool
	OrderTime    time.Time
	Price        float64
	Volume       float64
	Status       int
	OrigOrderID  string // "" for opening orders
	StopLoss     float64
	StopProfit   float64
}

type TradeRecord struct {
	ExecID       string
	OrderID      string
	TradeTime    time.Time
	Price        float64
	Volume       float64
	ClosedVolume float64
	Commission   float64
	Profit       float64
}

// Store is the durable side of the core. Implementations must treat Save
// calls as upserts: the core saves on every state transition.
type Store interface {
	SaveAccount(AccountRecord) error
	SaveBalance(BalanceRecord) error
	SaveOrder(OrderRecord) error
	SaveTrade(TradeRecord) error
	DeleteOrder(orderID string) error
	Close() error
}

// Nop discards everything. Used by tests and ephemeral sessions.
type Nop struct{}

func (Nop) SaveAccount(AccountRecord) error { return nil }
func (Nop) SaveBalance(BalanceRecord) error { return nil }
func (Nop) SaveOrder(OrderRecord) error     { return nil }
func (Nop) SaveTrade(TradeRecord) error     { return nil }
func (Nop) DeleteOrder(string) error        { return nil }
func (Nop) Close() error                    { return nil }
