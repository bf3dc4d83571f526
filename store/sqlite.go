package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) SaveAccount(a AccountRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO accounts (code, default_currency, last_trade_time, real_profits)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			default_currency = excluded.default_currency,
			last_trade_time = excluded.last_trade_time,
			real_profits = excluded.real_profits`,
		a.Code, a.DefaultCurrency, a.LastTradeTime, a.RealProfits,
	)
	return err
}

func (s *SQLite) SaveBalance(b BalanceRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO balances (account_code, currency, value)
		VALUES (?, ?, ?)
		ON CONFLICT(account_code, currency) DO UPDATE SET value = excluded.value`,
		b.AccountCode, b.Currency, b.Value,
	)
	return err
}

func (s *SQLite) SaveOrder(o OrderRecord) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO orders
		(id, account_code, sys_id, strategy_code, instrument_id, is_long, is_open,
		 order_time, price, volume, status, orig_order_id, stoploss, stopprofit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.AccountCode, o.SysID, o.StrategyCode, o.InstrumentID, o.IsLong,
		o.IsOpen, o.OrderTime, o.Price, o.Volume, o.Status, o.OrigOrderID,
		o.StopLoss, o.StopProfit,
	)
	return err
}

func (s *SQLite) SaveTrade(t TradeRecord) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO trades
		(exec_id, order_id, trade_time, price, volume, closed_volume, commission, profit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ExecID, t.OrderID, t.TradeTime, t.Price, t.Volume, t.ClosedVolume,
		t.Commission, t.Profit,
	)
	return err
}

// DeleteOrder removes an order and cascades to its trades. Administrative
// operation; live sessions never delete orders.
func (s *SQLite) DeleteOrder(orderID string) error {
	if _, err := s.db.Exec(`DELETE FROM trades WHERE order_id = ?`, orderID); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM orders WHERE id = ?`, orderID)
	return err
}

func (s *SQLite) GetOrder(id string) (OrderRecord, error) {
	var o OrderRecord
	row := s.db.QueryRow(`
		SELECT id, account_code, sys_id, strategy_code, instrument_id, is_long,
		       is_open, order_time, price, volume, status, orig_order_id,
		       stoploss, stopprofit
		FROM orders WHERE id = ?`, id)
	err := row.Scan(&o.ID, &o.AccountCode, &o.SysID, &o.StrategyCode,
		&o.InstrumentID, &o.IsLong, &o.IsOpen, &o.OrderTime, &o.Price,
		&o.Volume, &o.Status, &o.OrigOrderID, &o.StopLoss, &o.StopProfit)
	if err == sql.ErrNoRows {
		return OrderRecord{}, fmt.Errorf("order %q not found", id)
	}
	return o, err
}

func (s *SQLite) ListOrders(accountCode string) ([]OrderRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, account_code, sys_id, strategy_code, instrument_id, is_long,
		       is_open, order_time, price, volume, status, orig_order_id,
		       stoploss, stopprofit
		FROM orders WHERE account_code = ? ORDER BY order_time ASC`, accountCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var o OrderRecord
		if err := rows.Scan(&o.ID, &o.AccountCode, &o.SysID, &o.StrategyCode,
			&o.InstrumentID, &o.IsLong, &o.IsOpen, &o.OrderTime, &o.Price,
			&o.Volume, &o.Status, &o.OrigOrderID, &o.StopLoss, &o.StopProfit); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListTradesBetween returns trades executed within [start, end).
func (s *SQLite) ListTradesBetween(start, end time.Time) ([]TradeRecord, error) {
	rows, err := s.db.Query(`
		SELECT exec_id, order_id, trade_time, price, volume, closed_volume, commission, profit
		FROM trades
		WHERE trade_time >= ? AND trade_time < ?
		ORDER BY trade_time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ExecID, &t.OrderID, &t.TradeTime, &t.Price,
			&t.Volume, &t.ClosedVolume, &t.Commission, &t.Profit); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) ListTrades(orderID string) ([]TradeRecord, error) {
	rows, err := s.db.Query(`
		SELECT exec_id, order_id, trade_time, price, volume, closed_volume, commission, profit
		FROM trades WHERE order_id = ? ORDER BY trade_time ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ExecID, &t.OrderID, &t.TradeTime, &t.Price,
			&t.Volume, &t.ClosedVolume, &t.Commission, &t.Profit); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
