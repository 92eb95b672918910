package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/enliven17/somnia-predict/internal/api"
	"github.com/enliven17/somnia-predict/internal/feed"
	"github.com/enliven17/somnia-predict/internal/metrics"
	"github.com/enliven17/somnia-predict/internal/model"
	"github.com/enliven17/somnia-predict/internal/notify"
	"github.com/enliven17/somnia-predict/internal/stream"
)

const shutdownTimeout = 10 * time.Second

func runStream(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}
	eventTypes, err := stream.ParseEventTypes(cfg.Events)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, contract, reader, err := connectChain(ctx, cfg)
	if err != nil {
		return err
	}
	defer chainClient.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	archive, pg, closeArchive, err := openArchive(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeArchive()

	seeder := &statsSeeder{markets: reader}
	if pg != nil {
		seeder.archive = pg
	}
	store := feed.NewStore(cfg.FeedSize, m)
	stats := feed.NewLiveStats(seeder)
	hub := api.NewHub(logger.With(zap.String("component", "websocket")))

	dispatcher := notify.NewDispatcher(notify.Options{
		TokenSymbol: cfg.TokenSymbol,
		ExplorerURL: cfg.ExplorerURL,
		QueueSize:   cfg.NotifyQueueSize,
	}, logger, m)
	dispatcher.AddSink(notify.NewLogSink(logger))
	dispatcher.AddSink(hub)
	if cfg.TelegramEnabled() {
		telegram, err := notify.NewTelegramSink(cfg.TelegramToken, cfg.TelegramChatID, cfg.MaxRetries+1, cfg.RetryBackoff, cfg.NotifyTimeout)
		if err != nil {
			return err
		}
		dispatcher.AddSink(telegram)
		logger.Info("telegram notifications enabled")
	}
	dispatcher.AddObserver(stats)

	engine, err := newEngine(cfg, engineParts{
		chain:      chainClient,
		reader:     reader,
		contract:   contract,
		eventTypes: eventTypes,
		feed:       store,
		ledger:     stream.NewLedger(),
		metrics:    m,
		archive:    archive,
		dispatcher: dispatcher,
	}, logger)
	if err != nil {
		return err
	}
	seeder.startBlock = engine.StartBlock

	server := api.NewServer(cfg.Listen, engine, stats, hub, registry, logger)

	logger.Info("streamer start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("contract", contract.Hex()),
		zap.Int("event_types", len(eventTypes)),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Uint64("max_block_range", cfg.MaxBlockRange),
		zap.Uint64("history_depth", cfg.HistoryDepth),
		zap.String("listen", cfg.Listen),
	)

	g, gctx := errgroup.WithContext(ctx)
	sub := store.Subscribe(model.UnscopedMarket, 256)
	defer sub.Close()
	g.Go(func() error {
		hub.Run(gctx, sub)
		return nil
	})
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		return engine.Run(gctx)
	})
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	return g.Wait()
}
