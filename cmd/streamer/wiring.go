package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/enliven17/somnia-predict/internal/chain"
	"github.com/enliven17/somnia-predict/internal/config"
	"github.com/enliven17/somnia-predict/internal/feed"
	"github.com/enliven17/somnia-predict/internal/market"
	"github.com/enliven17/somnia-predict/internal/metrics"
	"github.com/enliven17/somnia-predict/internal/model"
	"github.com/enliven17/somnia-predict/internal/storage"
	"github.com/enliven17/somnia-predict/internal/storage/postgres"
	"github.com/enliven17/somnia-predict/internal/stream"
)

// connectChain dials the RPC and binds the market reader to the contract.
func connectChain(ctx context.Context, cfg config.Config) (*chain.Client, common.Address, *market.Reader, error) {
	if cfg.RPCURL == "" {
		return nil, common.Address{}, nil, fmt.Errorf("rpc url is required")
	}
	contract, err := stream.ParseAddress(cfg.Contract)
	if err != nil {
		return nil, common.Address{}, nil, fmt.Errorf("contract: %w", err)
	}

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL, chain.Options{RateLimit: cfg.RPCRateLimit})
	if err != nil {
		return nil, common.Address{}, nil, fmt.Errorf("connect rpc: %w", err)
	}
	reader, err := market.NewReader(chainClient, contract)
	if err != nil {
		chainClient.Close()
		return nil, common.Address{}, nil, err
	}
	return chainClient, contract, reader, nil
}

// openArchive builds the configured archive sinks. The Postgres store is also
// returned when configured. The returned close func is never nil.
func openArchive(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Sink, *postgres.Store, func(), error) {
	var (
		sinks storage.Multi
		pg    *postgres.Store
	)
	closeFn := func() {}

	if cfg.ArchiveJSONL != "" {
		sinks = append(sinks, storage.NewJSONLStorage(cfg.ArchiveJSONL))
		logger.Info("jsonl archive enabled", zap.String("path", cfg.ArchiveJSONL))
	}
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, nil, closeFn, fmt.Errorf("connect postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, closeFn, err
		}
		sinks = append(sinks, store)
		pg = store
		closeFn = store.Close
		logger.Info("postgres archive enabled")
	}

	if len(sinks) == 0 {
		return nil, nil, closeFn, nil
	}
	return sinks, pg, closeFn, nil
}

type engineParts struct {
	chain      *chain.Client
	reader     *market.Reader
	contract   common.Address
	eventTypes []model.EventType
	feed       *feed.Store
	ledger     *stream.Ledger
	metrics    *metrics.Metrics
	archive    storage.Sink
	dispatcher stream.Dispatcher
}

func newEngine(cfg config.Config, parts engineParts, logger *zap.Logger) (*stream.Engine, error) {
	return stream.NewEngine(stream.Config{
		Contract:           parts.contract,
		EventTypes:         parts.eventTypes,
		PollInterval:       cfg.PollInterval,
		MaxBlockRange:      cfg.MaxBlockRange,
		HistoryDepth:       cfg.HistoryDepth,
		HistoryConcurrency: cfg.HistoryConcurrency,
		HistoryOnStart:     cfg.HistoryOnStart,
		Retry:              stream.RetryPolicy{MaxRetries: cfg.MaxRetries, Backoff: cfg.RetryBackoff},
	}, stream.Deps{
		Chain:       parts.chain,
		Markets:     parts.reader,
		Ledger:      parts.ledger,
		MarketCache: market.NewInfoCache(),
		Feed:        parts.feed,
		Dispatcher:  parts.dispatcher,
		Archive:     parts.archive,
		Logger:      logger,
		Metrics:     parts.metrics,
	})
}
