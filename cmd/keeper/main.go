package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keeperlabs/stakekeeper/config"
	"github.com/keeperlabs/stakekeeper/internal/adapters/advisor"
	"github.com/keeperlabs/stakekeeper/internal/adapters/chain"
	"github.com/keeperlabs/stakekeeper/internal/adapters/ledger"
	"github.com/keeperlabs/stakekeeper/internal/adapters/notify"
	"github.com/keeperlabs/stakekeeper/internal/adapters/registry"
	"github.com/keeperlabs/stakekeeper/internal/application/engine"
	"github.com/keeperlabs/stakekeeper/internal/ports"
	"github.com/keeperlabs/stakekeeper/internal/server"
)

func main() {
	configPath := flag.String("config", "config/keeper.yaml", "path to config file")
	once := flag.Bool("once", false, "run one treasury cycle and exit")
	dryRun := flag.Bool("dry-run", false, "evaluate decisions without transactions or ledger writes")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print executed actions as a table (default: compact 1-line)")
	report := flag.Bool("report", false, "print the lifetime treasury report and exit")
	withdrawExcess := flag.Bool("withdraw-excess", false, "withdraw pool funds above the treasury floor and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("stakekeeper starting",
		"config", *configPath,
		"interval", cfg.CycleInterval(),
		"dry_run", *dryRun,
		"once", *once,
		"advisory", cfg.Advisory.Enabled,
	)

	store, err := ledger.New(cfg.Ledger.DSN)
	if err != nil {
		slog.Error("failed to open ledger", "err", err, "dsn", cfg.Ledger.DSN)
		os.Exit(1)
	}
	defer store.Close()

	console := notify.NewConsole(*table)

	// The report runs entirely off the ledger; no chain access needed.
	if *report {
		runReport(context.Background(), store, console)
		return
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("config incomplete for execution", "err", err)
		os.Exit(1)
	}

	gateway, err := chain.New(chain.Config{
		RPCURL:          cfg.Network.RPCURL,
		PrivateKeyHex:   cfg.Agent.PrivateKey,
		ChainID:         cfg.Network.ChainID,
		StableToken:     cfg.Contracts.StableToken,
		Pool:            cfg.Contracts.Pool,
		AttributionCode: cfg.Agent.AttributionCode,
	})
	if err != nil {
		slog.Error("failed to connect to chain", "err", err)
		os.Exit(1)
	}
	slog.Info("chain: connected", "agent", gateway.Address(), "chain_id", cfg.Network.ChainID)

	reader := registry.NewReader(gateway.Client(), cfg.Contracts.Staking,
		cfg.Registry.WindowBlocks, cfg.Registry.Allowlist)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !*dryRun {
		slog.Info("chain: checking pool allowance...")
		if err := gateway.EnsureApproval(ctx); err != nil {
			slog.Error("failed to ensure pool approval", "err", err)
			os.Exit(1)
		}
	}

	var adv ports.Advisor
	if cfg.Advisory.Enabled {
		adv = advisor.New(advisor.Config{
			APIKey:    cfg.Advisory.APIKey,
			Model:     cfg.Advisory.Model,
			MaxTokens: cfg.Advisory.MaxTokens,
		})
		slog.Info("advisor: enabled", "model", cfg.Advisory.Model)
	}

	var notifier ports.Notifier = console
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			// Optional channel: a bad token should not ground the keeper.
			slog.Warn("telegram disabled", "err", err)
		} else {
			notifier = notify.Fanout{console, tg}
			slog.Info("notify: telegram channel active", "chat_id", cfg.Notify.TelegramChatID)
		}
	}

	eng := engine.New(gateway, reader, store, adv, notifier, engine.Config{
		Interval:         cfg.CycleInterval(),
		IdleThreshold:    cfg.Thresholds.IdleStable,
		LowGasThreshold:  cfg.Thresholds.LowGasNative,
		TreasuryFloor:    cfg.Thresholds.TreasuryWithdraw,
		ComputeCost:      cfg.Ledger.ComputeCostPerCycle,
		AdvisoryEnabled:  cfg.Advisory.Enabled,
		AdvisoryInterval: cfg.AdvisoryInterval(),
		AdvisoryCost:     cfg.Advisory.CostPerCall,
		StakingContract:  cfg.Contracts.Staking,
		DryRun:           *dryRun,
		StopFile:         "STOP_KEEPER",
	})

	if *withdrawExcess {
		runWithdrawExcess(ctx, eng)
		return
	}

	if *once {
		runSingleCycle(ctx, eng, notifier)
		return
	}

	srv := server.New(server.Config{
		Port:             cfg.Server.Port,
		MaxPage:          cfg.Server.MaxPage,
		AttestationPrice: cfg.Attestation.Price,
		AttestationAsset: cfg.Attestation.Asset,
		Chain:            gateway,
		Registry:         reader,
		Ledger:           store,
	})
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	slog.Info("keeper running — press Ctrl+C or create STOP_KEEPER file to exit")
	eng.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "err", err)
	}

	slog.Info("stakekeeper stopped cleanly")
}

func runSingleCycle(ctx context.Context, eng *engine.Engine, notifier ports.Notifier) {
	report, err := eng.RunOnce(ctx)
	if err != nil {
		slog.Error("cycle failed", "err", err)
		os.Exit(1)
	}
	if err := notifier.CycleSummary(ctx, *report); err != nil {
		slog.Warn("notifier error", "err", err)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
