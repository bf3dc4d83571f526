package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sectrade/sectrader/account"
	"github.com/sectrade/sectrader/config"
	"github.com/sectrade/sectrader/gateway/sim"
	"github.com/sectrade/sectrader/market"
	"github.com/sectrade/sectrader/metrics"
	"github.com/sectrade/sectrader/monitor"
	"github.com/sectrade/sectrader/store"
	"github.com/sectrade/sectrader/trader"
)

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading client against the configured gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "./sectrader.yaml", "path to config file")
	return cmd
}

// session holds the wired-up trading stack: everything run needs before it
// starts the monitor loops.
type session struct {
	store    store.Store
	catalog  *market.Catalog
	ticks    *market.TickStore
	notifier *market.ChanNotifier
	engine   *sim.Engine
	trader   *trader.Trader
}

func (s *session) close() {
	s.trader.Stop()
	s.engine.Close()
	s.store.Close()
}

// newSession builds the full stack from config: store, catalog, account,
// gateway, trader with its stop policies, armed and ready to trade.
func newSession(cfg *config.Config, env *config.Env, log *zap.Logger) (*session, error) {
	st, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	catalog, err := buildCatalog(cfg.Instruments)
	if err != nil {
		st.Close()
		return nil, err
	}
	ticks := market.NewTickStore()
	notifier := market.NewChanNotifier()
	conv := market.NewConverter(catalog, ticks)

	acct := account.New(cfg.Account.Code, cfg.Account.Currency, conv, ticks, st, log)
	acct.SetBalance(cfg.Account.Balance, cfg.Account.Currency)

	if env.Gateway.Broker != "sim" {
		st.Close()
		return nil, fmt.Errorf("gateway %q is not built in; only the sim gateway ships with this binary", env.Gateway.Broker)
	}
	engine := sim.NewEngine(ticks, notifier, log)

	tr := trader.New(acct, engine, catalog, log, trader.Options{})
	engine.Bind(tr)
	tr.OnLogon()

	for _, sc := range cfg.Stops {
		policy := trader.StopPolicy{OffsetLoss: sc.OffsetLoss, OffsetProfit: sc.OffsetProfit}
		if err := tr.Monitor(sc.Target, policy); err != nil {
			tr.Stop()
			engine.Close()
			st.Close()
			return nil, fmt.Errorf("monitor %s: %w", sc.Target, err)
		}
	}

	// the sim gateway has no login round trip; everything is wired, so the
	// monitors and strategy helpers may start trading
	tr.ReadyForTrade()

	return &session{
		store:    st,
		catalog:  catalog,
		ticks:    ticks,
		notifier: notifier,
		engine:   engine,
		trader:   tr,
	}, nil
}

func run(configPath string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return err
	}
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	log, err := newLogger(env.Log.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	s, err := newSession(cfg, env, log)
	if err != nil {
		return err
	}
	defer s.close()
	tr := s.trader

	go (&monitor.Available{
		Trader:   tr,
		Interval: config.MonitorDuration(cfg.Monitors.AvailableInterval),
		Reserve:  cfg.Monitors.Reserve,
		Log:      log,
	}).Run()
	go (&monitor.StopCheck{
		Trader:   tr,
		Catalog:  s.catalog,
		Oracle:   s.ticks,
		Notifier: s.notifier,
		Log:      log,
	}).Run()
	go (&monitor.Untraded{
		Trader:   tr,
		Interval: config.MonitorDuration(cfg.Monitors.UntradedInterval),
		Log:      log,
	}).Run()
	go (&monitor.LimitTimeout{
		Trader:   tr,
		Interval: config.MonitorDuration(cfg.Monitors.LimitInterval),
		Timeout:  config.MonitorDuration(cfg.Monitors.LimitTimeout),
		Log:      log,
	}).Run()
	go (&monitor.Snapshot{
		Trader:   tr,
		Interval: config.MonitorDuration(cfg.Monitors.SnapshotInterval),
		Log:      log,
	}).Run()

	if cfg.Metrics.Addr != "" {
		go func() {
			log.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
			if err := metrics.Serve(cfg.Metrics.Addr); err != nil {
				log.Error("metrics server", zap.Error(err))
			}
		}()
	}

	if len(cfg.Simulation.PriceSteps) > 0 {
		go playPriceSteps(s.engine, s.catalog, cfg.Simulation.PriceSteps, tr.Stopped(), log)
	}

	log.Info("trading client started",
		zap.String("account", cfg.Account.Code),
		zap.Int("instruments", len(cfg.Instruments)))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func openStore(sc config.StoreConfig) (store.Store, error) {
	if sc.Type == "sqlite" {
		return store.NewSQLite(sc.DBPath)
	}
	return store.Nop{}, nil
}

func buildCatalog(list []config.InstrumentConfig) (*market.Catalog, error) {
	catalog := market.NewCatalog()
	for _, ic := range list {
		inst := &market.Instrument{
			ID:                  ic.ID,
			Name:                ic.Name,
			Symbol:              ic.Symbol,
			Exchange:            ic.Exchange,
			Product:             ic.Product,
			QuotedCurrency:      ic.Currency,
			IndirectQuotation:   ic.IndirectQuotation,
			Digits:              ic.Digits,
			Multiplier:          ic.Multiplier,
			TickSize:            ic.TickSize,
			MinOrderVolume:      ic.MinOrderVolume,
			MaxOrderVolume:      ic.MaxOrderVolume,
			LongMarginRatio:     ic.LongMarginRatio,
			ShortMarginRatio:    ic.ShortMarginRatio,
			OpenCommissionRate:  ic.OpenCommissionRate,
			CloseCommissionRate: ic.CloseCommissionRate,
			IsTrading:           true,
		}
		if ic.ExpireDate != "" {
			d, err := time.Parse("2006-01-02", ic.ExpireDate)
			if err != nil {
				return nil, fmt.Errorf("instrument %s: expire_date: %w", ic.Symbol, err)
			}
			inst.ExpireDate = d
		}
		catalog.Add(inst)
		if ic.Product != "" {
			catalog.AddProduct(&market.Product{
				ID:        ic.Product,
				Exchange:  ic.Exchange,
				IsTrading: true,
			})
		}
	}
	return catalog, nil
}

// playPriceSteps feeds the scripted quotes into the sim engine.
func playPriceSteps(engine *sim.Engine, catalog *market.Catalog, steps []config.PriceStep, stop <-chan struct{}, log *zap.Logger) {
	for _, ps := range steps {
		delay, _ := ps.ParseDuration()
		if delay > 0 {
			select {
			case <-stop:
				return
			case <-time.After(delay):
			}
		}
		inst, ok := catalog.BySymbol(ps.Instrument)
		if !ok {
			if inst, ok = catalog.ByID(ps.Instrument); !ok {
				log.Warn("price step for unknown instrument", zap.String("instrument", ps.Instrument))
				continue
			}
		}
		engine.UpdateTick(market.Tick{
			InstrumentID: inst.ID,
			Bid:          ps.Bid,
			Ask:          ps.Ask,
			Last:         (ps.Bid + ps.Ask) / 2,
			Time:         time.Now(),
		})
	}
}
