// Package config loads the trading client's configuration from YAML or JSON
// files, with gateway credentials overlaid from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete client configuration.
type Config struct {
	Account     AccountConfig      `json:"account" yaml:"account"`
	Instruments []InstrumentConfig `json:"instruments" yaml:"instruments"`
	Stops       []StopConfig       `json:"stops" yaml:"stops"`
	Monitors    MonitorConfig      `json:"monitors" yaml:"monitors"`
	Store       StoreConfig        `json:"store" yaml:"store"`
	Metrics     MetricsConfig      `json:"metrics" yaml:"metrics"`
	Simulation  SimulationConfig   `json:"simulation" yaml:"simulation"`
}

// AccountConfig seeds the ledger.
type AccountConfig struct {
	Code     string  `json:"code" yaml:"code"`
	Currency string  `json:"currency" yaml:"currency"`
	Balance  float64 `json:"balance" yaml:"balance"`
}

// InstrumentConfig describes one tradable contract for the catalog.
type InstrumentConfig struct {
	ID                  string   `json:"id" yaml:"id"`
	Name                string   `json:"name,omitempty" yaml:"name,omitempty"`
	Symbol              string   `json:"symbol" yaml:"symbol"`
	Exchange            string   `json:"exchange,omitempty" yaml:"exchange,omitempty"`
	Product             string   `json:"product,omitempty" yaml:"product,omitempty"`
	Currency            string   `json:"currency" yaml:"currency"`
	IndirectQuotation   bool     `json:"indirect_quotation,omitempty" yaml:"indirect_quotation,omitempty"`
	Digits              int      `json:"digits" yaml:"digits"`
	Multiplier          float64  `json:"multiplier" yaml:"multiplier"`
	TickSize            float64  `json:"tick_size,omitempty" yaml:"tick_size,omitempty"`
	MinOrderVolume      float64  `json:"min_order_volume,omitempty" yaml:"min_order_volume,omitempty"`
	MaxOrderVolume      float64  `json:"max_order_volume,omitempty" yaml:"max_order_volume,omitempty"`
	LongMarginRatio     float64  `json:"long_margin_ratio" yaml:"long_margin_ratio"`
	ShortMarginRatio    float64  `json:"short_margin_ratio" yaml:"short_margin_ratio"`
	OpenCommissionRate  *float64 `json:"open_commission_rate,omitempty" yaml:"open_commission_rate,omitempty"`
	CloseCommissionRate *float64 `json:"close_commission_rate,omitempty" yaml:"close_commission_rate,omitempty"`
	ExpireDate          string   `json:"expire_date,omitempty" yaml:"expire_date,omitempty"`
}

// StopConfig attaches a stop policy to an instrument symbol or a product id.
type StopConfig struct {
	Target       string  `json:"target" yaml:"target"`
	OffsetLoss   float64 `json:"offset_loss" yaml:"offset_loss"`
	OffsetProfit float64 `json:"offset_profit" yaml:"offset_profit"`
}

// MonitorConfig holds the background loop intervals. Delays are duration
// strings like "5s" or "1m".
type MonitorConfig struct {
	AvailableInterval string  `json:"available_interval" yaml:"available_interval"`
	Reserve           float64 `json:"reserve" yaml:"reserve"`
	UntradedInterval  string  `json:"untraded_interval" yaml:"untraded_interval"`
	LimitInterval     string  `json:"limit_interval" yaml:"limit_interval"`
	LimitTimeout      string  `json:"limit_timeout" yaml:"limit_timeout"`
	SnapshotInterval  string  `json:"snapshot_interval" yaml:"snapshot_interval"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Type   string `json:"type" yaml:"type"` // "sqlite" or "none"
	DBPath string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// SimulationConfig drives the built-in matching engine when no live gateway
// is configured.
type SimulationConfig struct {
	PriceSteps []PriceStep `json:"price_steps,omitempty" yaml:"price_steps,omitempty"`
}

// PriceStep is one scripted price update.
type PriceStep struct {
	Instrument string  `json:"instrument" yaml:"instrument"`
	Bid        float64 `json:"bid" yaml:"bid"`
	Ask        float64 `json:"ask" yaml:"ask"`
	Delay      string  `json:"delay,omitempty" yaml:"delay,omitempty"` // e.g. "1s", "500ms"
}

// ParseDuration converts the step delay to a time.Duration.
func (ps PriceStep) ParseDuration() (time.Duration, error) {
	if ps.Delay == "" {
		return 0, nil
	}
	return time.ParseDuration(ps.Delay)
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration, choosing the format by extension.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Account.Code == "" {
		return fmt.Errorf("account.code is required")
	}
	if c.Account.Currency == "" {
		return fmt.Errorf("account.currency is required")
	}
	if c.Account.Balance < 0 {
		return fmt.Errorf("account.balance must not be negative")
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("at least one instrument is required")
	}
	known := make(map[string]bool, len(c.Instruments))
	for i, ic := range c.Instruments {
		if ic.ID == "" || ic.Symbol == "" {
			return fmt.Errorf("instruments[%d]: id and symbol are required", i)
		}
		if ic.Multiplier <= 0 {
			return fmt.Errorf("instrument %s: multiplier must be positive", ic.Symbol)
		}
		if ic.LongMarginRatio < 0 || ic.ShortMarginRatio < 0 {
			return fmt.Errorf("instrument %s: margin ratios must not be negative", ic.Symbol)
		}
		known[ic.Symbol] = true
		if ic.Product != "" {
			known[ic.Product] = true
		}
	}
	for _, sc := range c.Stops {
		if !known[sc.Target] {
			return fmt.Errorf("stop target %q matches no instrument or product", sc.Target)
		}
		if sc.OffsetLoss < 0 || sc.OffsetProfit < 0 {
			return fmt.Errorf("stop %s: offsets must not be negative", sc.Target)
		}
	}
	if c.Monitors.Reserve < 0 || c.Monitors.Reserve >= 1 {
		return fmt.Errorf("monitors.reserve must be in [0, 1)")
	}
	for name, d := range map[string]string{
		"available_interval": c.Monitors.AvailableInterval,
		"untraded_interval":  c.Monitors.UntradedInterval,
		"limit_interval":     c.Monitors.LimitInterval,
		"limit_timeout":      c.Monitors.LimitTimeout,
		"snapshot_interval":  c.Monitors.SnapshotInterval,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("monitors.%s: %w", name, err)
		}
	}
	switch c.Store.Type {
	case "sqlite":
		if c.Store.DBPath == "" {
			return fmt.Errorf("store.db_path required for sqlite store")
		}
	case "none":
	default:
		return fmt.Errorf("store.type must be 'sqlite' or 'none'")
	}
	for i, ps := range c.Simulation.PriceSteps {
		if !known[ps.Instrument] {
			return fmt.Errorf("price_steps[%d]: unknown instrument %q", i, ps.Instrument)
		}
		if ps.Bid <= 0 || ps.Ask <= 0 || ps.Ask < ps.Bid {
			return fmt.Errorf("price_steps[%d]: bad bid/ask", i)
		}
		if _, err := ps.ParseDuration(); err != nil {
			return fmt.Errorf("price_steps[%d]: %w", i, err)
		}
	}
	return nil
}

// MonitorDuration parses one of the validated interval strings.
func MonitorDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// Default returns a configuration with sensible defaults. File values overlay
// these on load.
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			Code:     "SIM-001",
			Currency: "CNY",
			Balance:  1000000,
		},
		Monitors: MonitorConfig{
			AvailableInterval: "5s",
			Reserve:           0.1,
			UntradedInterval:  "30s",
			LimitInterval:     "10s",
			LimitTimeout:      "1m",
			SnapshotInterval:  "5s",
		},
		Store: StoreConfig{
			Type:   "none",
			DBPath: "./sectrader.db",
		},
	}
}
