package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/patrickgrad/coin-trader/agent"
	"github.com/patrickgrad/coin-trader/checkpoint"
	"github.com/patrickgrad/coin-trader/config"
	"github.com/patrickgrad/coin-trader/engine"
	"github.com/patrickgrad/coin-trader/exchange"
	"github.com/patrickgrad/coin-trader/exchange/backtest"
	"github.com/patrickgrad/coin-trader/exchange/coinbase"
	"github.com/patrickgrad/coin-trader/logger"
	"github.com/patrickgrad/coin-trader/model"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	backtestFlag := flag.Bool("backtest", false, "replay recorded ticks instead of live trading")
	checkpointPath := flag.String("checkpoint", "", "path to checkpoint file to restore and save")
	flag.Parse()

	if err := run(*configPath, *backtestFlag, *checkpointPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, backtestMode bool, checkpointPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.NewFile(cfg.Log.Dir, logLevel(cfg.Log.Level))
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wallet := model.NewWallet()

	var gw exchange.Gateway
	if backtestMode {
		gw, err = buildBacktest(cfg, wallet, log)
	} else {
		gw, err = buildLive(ctx, cfg, log)
	}
	if err != nil {
		return err
	}

	eng := engine.New(gw, wallet, log)
	traded := 0
	for _, inst := range cfg.Products {
		if !inst.Trade {
			continue
		}
		buyer := agent.NewBuyer(agentConfig(inst, true), wallet, gw, log)
		seller := agent.NewSeller(agentConfig(inst, false), wallet, gw, log)
		eng.AddInstrument(inst.ProductID, buyer, seller)
		traded++
	}
	if traded == 0 {
		return fmt.Errorf("no products configured with trade: true")
	}

	if checkpointPath != "" {
		if snap, err := checkpoint.Load(checkpointPath); err == nil {
			eng.Restore(snap)
			log.Info("Main", "restored checkpoint from %s (saved %s)", checkpointPath, snap.SavedAt)
		} else {
			log.Warn("Main", "no checkpoint restored: %v", err)
		}
	}

	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	eng.Run(ctx)

	if checkpointPath != "" {
		if err := checkpoint.Save(checkpointPath, eng.Snapshot()); err != nil {
			log.Error("Main", "checkpoint save failed: %v", err)
		}
	}
	if err := gw.Close(); err != nil {
		log.Warn("Main", "gateway close: %v", err)
	}

	if eng.Faulted() {
		log.Error("Main", "crashed!")
		return fmt.Errorf("trader stopped on an unhandled fault")
	}
	log.Info("Main", "finished")
	return nil
}

func buildLive(ctx context.Context, cfg *config.Config, log *logger.Logger) (exchange.Gateway, error) {
	client := coinbase.NewClient(cfg.Venue.RestURL, cfg.Venue.APIKey, cfg.Venue.APISecret)

	// A previous crash may have left resting orders behind; start clean.
	if err := client.CancelAll(ctx); err != nil {
		return nil, fmt.Errorf("cancel stale orders: %w", err)
	}

	var productIDs []string
	for _, inst := range cfg.Products {
		productIDs = append(productIDs, inst.ProductID)
	}
	feed := coinbase.NewFeed(cfg.Venue.WsURL, cfg.Venue.APIKey, cfg.Venue.APISecret, productIDs, log)

	return exchange.NewLive(client, feed, exchange.LiveConfig{
		BucketCapacity: cfg.Bucket.Capacity,
		BucketInterval: cfg.Bucket.Interval,
		WatchdogPeriod: cfg.Engine.WatchdogPeriod,
		AccountPeriod:  cfg.Engine.AccountPeriod,
	}, log), nil
}

func buildBacktest(cfg *config.Config, wallet *model.Wallet, log *logger.Logger) (exchange.Gateway, error) {
	var product string
	for _, inst := range cfg.Products {
		if inst.Trade {
			product = inst.ProductID
			break
		}
	}
	if product == "" {
		return nil, fmt.Errorf("no products configured with trade: true")
	}

	ticks, err := backtest.LoadTicks(cfg.Backtest.TicksCSV, product)
	if err != nil {
		return nil, err
	}
	funds, err := backtest.LoadFunds(cfg.Backtest.WalletCSV)
	if err != nil {
		return nil, err
	}
	for currency, v := range funds {
		wallet.Set(currency, v, 0)
	}

	return backtest.New(backtest.Config{
		ProductID: product,
		Meta: model.ProductMeta{
			ProductID:      product,
			BaseMinSize:    cfg.Backtest.BaseMinSize,
			QuoteIncrement: cfg.Backtest.QuoteIncrement,
			BaseIncrement:  cfg.Backtest.BaseIncrement,
		},
		InitialFunds:   funds,
		Delta:          cfg.Backtest.Delta,
		WatchdogPeriod: cfg.Engine.WatchdogPeriod,
		AccountPeriod:  cfg.Engine.AccountPeriod,
		MakerFeeRate:   cfg.Backtest.MakerFeeRate,
		TakerFeeRate:   cfg.Backtest.TakerFeeRate,
	}, ticks, log), nil
}

func agentConfig(inst config.InstrumentConfig, buyer bool) agent.Config {
	initial := inst.Alpha.BuyerInitial
	if !buyer {
		initial = inst.Alpha.SellerInitial
	}
	return agent.Config{
		ProductID:      inst.ProductID,
		PDiffThresh:    inst.PDiffThresh,
		VDiffThresh:    inst.VDiffThresh,
		PortfolioRatio: inst.PortfolioRatio,
		Alpha: agent.AlphaConfig{
			Initial:    initial,
			Lower:      inst.Alpha.Lower,
			Upper:      inst.Alpha.Upper,
			Decay:      inst.Alpha.Decay,
			FillBump:   inst.Alpha.FillBump,
			RapidBoost: inst.Alpha.RapidBoost,
			Backoff:    inst.Alpha.Backoff,
			LongIdle:   inst.Alpha.LongIdle,
			RapidWin:   inst.Alpha.RapidWindow,
		},
	}
}

func logLevel(s string) logger.Level {
	switch s {
	case "error":
		return logger.LevelError
	case "warn":
		return logger.LevelWarn
	default:
		return logger.LevelInfo
	}
}
