package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/destaker/config"
	"github.com/alejandrodnm/destaker/internal/adapters/defillama"
	"github.com/alejandrodnm/destaker/internal/adapters/llm"
	"github.com/alejandrodnm/destaker/internal/adapters/notify"
	"github.com/alejandrodnm/destaker/internal/adapters/onchain"
	"github.com/alejandrodnm/destaker/internal/adapters/storage"
	"github.com/alejandrodnm/destaker/internal/domain"
	"github.com/alejandrodnm/destaker/internal/metrics"
	"github.com/alejandrodnm/destaker/internal/ports"
	"github.com/alejandrodnm/destaker/internal/server"
	"github.com/alejandrodnm/destaker/internal/service"
	"github.com/alejandrodnm/destaker/internal/settlement"
	"github.com/alejandrodnm/destaker/internal/workflow"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one settlement batch, print it and exit")
	simulate := flag.Bool("simulate", false, "run the full workflow simulation once and exit")
	markets := flag.Bool("markets", false, "print the derived market views and exit")
	table := flag.Bool("table", false, "print full settlement table (default: compact 1-line)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
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

	mode := "serve"
	switch {
	case *once:
		mode = "once"
	case *simulate:
		mode = "simulate"
	case *markets:
		mode = "markets"
	}
	slog.Info("destaker starting",
		"config", *configPath,
		"mode", mode,
		"markets", len(cfg.Markets),
		"schedule", cfg.Workflow.Schedule,
	)
	if cfg.API.ClassifierAPIKey == "" {
		slog.Warn("no classifier API key configured, every market will use the fallback rule")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	reg := metrics.New()
	patterns := domain.NewPatternTable(cfg.Assets)
	pools := service.NewPoolSource(defillama.NewClient(cfg.API.DefiLlamaPoolsURL), store, patterns, cfg.PoolCacheTTL(), reg)

	model := llm.NewClient(llm.Config{
		URL:          cfg.API.ClassifierURL,
		APIKey:       cfg.API.ClassifierAPIKey,
		SettleModel:  cfg.API.ClassifierModel,
		PredictModel: cfg.API.PredictModel,
		Timeout:      cfg.CallTimeout(),
		RatePerSec:   cfg.API.ClassifierRPS,
	})
	classifier := settlement.New(model, settlement.Config{
		CallTimeout:        cfg.CallTimeout(),
		FallbackConfidence: cfg.Workflow.FallbackConfidence,
	}, reg)

	pacer := workflow.NewPacer(workflow.PacerConfig{
		MinInterval: cfg.MinCallInterval(),
		Backoff:     cfg.RateLimitBackoff(),
		Multiplier:  cfg.Workflow.BackoffMultiplier,
		MaxBackoff:  cfg.MaxBackoff(),
	})

	var chain ports.ChainReader
	if cfg.API.EthRPCURL != "" {
		reader, err := onchain.NewReader(ctx, cfg.API.EthRPCURL)
		if err != nil {
			slog.Warn("chain reader unavailable, chain step will be skipped", "err", err)
		} else {
			defer reader.Close()
			chain = reader
		}
	}

	console := notify.NewConsole(*table || *once)
	wf := workflow.New(workflow.Deps{
		Pools:        pools,
		Orchestrator: workflow.NewOrchestrator(classifier, patterns, pacer, reg),
		Storage:      store,
		Notifier:     console,
		Chain:        chain,
		Markets:      cfg.Markets,
		Schedule:     cfg.Workflow.Schedule,
		Metrics:      reg,
	})
	views := service.NewMarketViews(pools, store, patterns, cfg.Markets)

	switch mode {
	case "once":
		if _, err := wf.RunBatch(ctx); err != nil {
			slog.Error("batch failed", "err", err)
			os.Exit(1)
		}
		return
	case "simulate":
		console.PrintSimulation(wf.Simulate(ctx, "manual"))
		return
	case "markets":
		list, err := views.List(ctx)
		if err != nil {
			slog.Error("failed to build market views", "err", err)
			os.Exit(1)
		}
		console.PrintMarkets(list)
		return
	}

	predictor := service.NewPredictor(pools, classifier, store, patterns, service.PredictorConfig{
		MinTVL: cfg.MinTVL(),
		Model:  model.PredictModel(),
	})
	srv := server.New(server.Config{
		Addr:           cfg.Server.Addr,
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout(),
	}, server.Deps{
		Workflow:  wf,
		Predictor: predictor,
		Markets:   views,
		Yields:    pools,
		History:   store,
		Metrics:   reg.Handler(),
	})

	sched, err := workflow.NewScheduler(cfg.Workflow.Schedule, func(ctx context.Context) {
		report := wf.Simulate(ctx, "cron")
		console.PrintSimulation(report)
	})
	if err != nil {
		slog.Error("invalid schedule", "err", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })

	if err := g.Wait(); err != nil {
		slog.Error("destaker exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("destaker stopped cleanly")
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
