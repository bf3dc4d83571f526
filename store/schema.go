package store

const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	code TEXT PRIMARY KEY,
	default_currency TEXT NOT NULL,
	last_trade_time DATETIME,
	real_profits REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS balances (
	account_code TEXT NOT NULL,
	currency TEXT NOT NULL,
	value REAL NOT NULL,
	PRIMARY KEY (account_code, currency)
);

CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	account_code TEXT NOT NULL,
	sys_id TEXT,
	strategy_code TEXT,
	instrument_id TEXT,
	is_long INTEGER NOT NULL DEFAULT 0,
	is_open INTEGER NOT NULL DEFAULT 1,
	order_time DATETIME,
	price REAL NOT NULL DEFAULT 0,
	volume REAL NOT NULL DEFAULT 0,
	status INTEGER NOT NULL DEFAULT 0,
	orig_order_id TEXT,
	stoploss REAL NOT NULL DEFAULT 0,
	stopprofit REAL NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_sys_id ON orders(sys_id) WHERE sys_id != '';
CREATE INDEX IF NOT EXISTS idx_orders_orig ON orders(orig_order_id);
CREATE INDEX IF NOT EXISTS idx_orders_account ON orders(account_code);

CREATE TABLE IF NOT EXISTS trades (
	exec_id TEXT PRIMARY KEY,
	order_id TEXT NOT NULL,
	trade_time DATETIME NOT NULL,
	price REAL NOT NULL,
	volume REAL NOT NULL,
	closed_volume REAL NOT NULL DEFAULT 0,
	commission REAL NOT NULL DEFAULT 0,
	profit REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_trades_order ON trades(order_id);
CREATE INDEX IF NOT EXISTS idx_trades_time ON trades(trade_time);
`
