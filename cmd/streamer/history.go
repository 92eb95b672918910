package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/enliven17/somnia-predict/internal/feed"
	"github.com/enliven17/somnia-predict/internal/model"
	"github.com/enliven17/somnia-predict/internal/storage"
	"github.com/enliven17/somnia-predict/internal/stream"
)

func runHistory(cmd *cobra.Command, _ []string) error {
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
	out, _ := cmd.Flags().GetString("out")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, contract, reader, err := connectChain(ctx, cfg)
	if err != nil {
		return err
	}
	defer chainClient.Close()

	archive, _, closeArchive, err := openArchive(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeArchive()

	store := feed.NewStore(cfg.FeedSize, nil)
	engine, err := newEngine(cfg, engineParts{
		chain:      chainClient,
		reader:     reader,
		contract:   contract,
		eventTypes: eventTypes,
		feed:       store,
		ledger:     stream.NewLedger(),
		archive:    archive,
	}, logger)
	if err != nil {
		return err
	}

	if err := engine.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	result, err := engine.LoadHistory(ctx)
	if err != nil {
		return err
	}

	logger.Info("history complete",
		zap.Uint64("from", result.From),
		zap.Uint64("to", result.To),
		zap.Int("chunks", result.Chunks),
		zap.Int("failed_chunks", result.FailedChunks),
		zap.Int("events", result.Events),
		zap.String("out", out),
	)

	w, closeOut, err := openOutput(out)
	if err != nil {
		return err
	}
	defer closeOut()
	return storage.WriteJSONL(w, store.Snapshot(model.UnscopedMarket))
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return file, func() { file.Close() }, nil
}
