package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tradeit/internal/config"
	"tradeit/pkg/feed"
	"tradeit/pkg/models"
	"tradeit/pkg/sim"
	"tradeit/pkg/strategy"
)

var (
	cfgFile      string
	flagStrategy string
	flagFile     string
	flagSpread   float64
	flagSize     int
	flagRisk     float64
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tradeit",
		Short: "Algorithmic trading simulator",
		Long:  `Replays historical tick data through a central limit order book and drives a trading strategy against it`,
		Run:   runSimulator,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.json)")
	rootCmd.PersistentFlags().StringVar(&flagStrategy, "strategy", "", "strategy to run (marketmaker, momentum, arbitrage)")
	rootCmd.PersistentFlags().StringVar(&flagFile, "file", "", "tick data CSV file")
	rootCmd.PersistentFlags().Float64Var(&flagSpread, "spread", 0, "arbitrage spread threshold (stored; the opportunity rule uses a fixed 0.05 floor)")
	rootCmd.PersistentFlags().IntVar(&flagSize, "size", 0, "arbitrage order size (stored; orders use a fixed quantity of 10)")
	rootCmd.PersistentFlags().Float64Var(&flagRisk, "risk", 0, "max loss before the strategy stops")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runSimulator(cmd *cobra.Command, args []string) {
	logger := logrus.New()

	// Local .env, if any, feeds the TRADEIT_* overrides.
	_ = godotenv.Load()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.WithError(err).Error("invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if cmd.Flags().Changed("strategy") {
		cfg.Strategy = flagStrategy
	}
	if cmd.Flags().Changed("file") {
		cfg.File = flagFile
	}
	if cmd.Flags().Changed("spread") {
		cfg.Spread = flagSpread
	}
	if cmd.Flags().Changed("size") {
		cfg.Size = flagSize
	}
	if cmd.Flags().Changed("risk") {
		cfg.Risk = flagRisk
	}

	logger.WithFields(logrus.Fields{
		"strategy": cfg.Strategy,
		"file":     cfg.File,
		"spread":   cfg.Spread,
		"size":     cfg.Size,
		"max_loss": cfg.Risk,
	}).Info("starting simulator")

	simulator := sim.New(logger)
	submit := strategy.SubmitFunc(simulator.OnOrder)
	cancel := strategy.CancelFunc(simulator.CancelOrder)

	var strat strategy.Strategy
	switch cfg.Strategy {
	case "marketmaker":
		strat = strategy.NewMarketMaker(cfg.Symbol, simulator.Book(cfg.Symbol), submit, cancel, cfg.Risk, cfg.LogsDir, logger)
	case "momentum":
		strat = strategy.NewMomentumTrader(cfg.Symbol, submit, cfg.Risk, cfg.LogsDir, logger)
	case "arbitrage":
		strat = strategy.NewArbitrageTrader(cfg.Symbol, cfg.Symbol2, submit, cfg.Spread, cfg.Size, cfg.Risk, cfg.LogsDir, logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown strategy: %s\n", cfg.Strategy)
		os.Exit(1)
	}

	simulator.RegisterStrategy(strat)
	simulator.Start()

	handler := feed.NewHandler(cfg.File, cfg.Feed.Rate, logger)
	handler.Start(func(o models.Order) {
		simulator.OnOrder(o)
		strat.OnMarketData(o)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("simulator is running, press Ctrl+C to stop")

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-handler.Done():
		logger.Info("market data replay complete")
	}

	handler.Stop()
	simulator.Stop()

	strat.PrintSummary()
	if err := strat.ExportSummary(filepath.Join(cfg.LogsDir, "summary.json")); err != nil {
		logger.WithError(err).Error("failed to export summary")
	}

	logger.Info("shutdown complete")
}
