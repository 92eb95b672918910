package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/enliven17/somnia-predict/internal/metrics"
	"github.com/enliven17/somnia-predict/internal/model"
)

var (
	// ErrNotConnected is returned while the chain head cannot be read.
	ErrNotConnected = errors.New("chain not connected")
	// ErrHistoryInProgress is returned when a backfill is already running.
	ErrHistoryInProgress = errors.New("history load already in progress")
)

// HistoryResult summarizes one backfill run.
type HistoryResult struct {
	From         uint64 `json:"from"`
	To           uint64 `json:"to"`
	Chunks       int    `json:"chunks"`
	FailedChunks int    `json:"failedChunks"`
	Logs         int    `json:"logs"`
	Events       int    `json:"events"`
}

// Backfiller loads the recent history window into the feed without notifying.
type Backfiller struct {
	chain       ChainReader
	normalizer  *Normalizer
	contract    common.Address
	eventTypes  []model.EventType
	topics      map[model.EventType][]common.Hash
	depth       uint64
	maxRange    uint64
	concurrency int
	connected   func() bool
	watermark   func() (uint64, bool)
	publish     func(context.Context, []model.MarketEvent)
	logger      *zap.Logger
	metrics     *metrics.Metrics

	running atomic.Bool
}

// Running reports whether a backfill is in progress.
func (b *Backfiller) Running() bool {
	return b.running.Load()
}

// Load backfills [max(0, top-depth+1), top] where top is the chain head, capped
// at the poller's watermark once it is initialized. Blocks past the watermark
// belong to the live path. A chunk whose fetch fails for any event type is
// skipped entirely.
func (b *Backfiller) Load(ctx context.Context) (HistoryResult, error) {
	if b.connected != nil && !b.connected() {
		return HistoryResult{}, ErrNotConnected
	}
	if !b.running.CompareAndSwap(false, true) {
		return HistoryResult{}, ErrHistoryInProgress
	}
	defer b.running.Store(false)

	head, err := b.chain.LatestBlockNumber(ctx)
	if err != nil {
		return HistoryResult{}, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	top := head
	if b.watermark != nil {
		if last, ok := b.watermark(); ok && last < top {
			top = last
		}
	}
	window, err := HistoryWindow(top, b.depth)
	if err != nil {
		return HistoryResult{}, err
	}
	ranges, err := SplitRange(window.From, window.To, b.maxRange)
	if err != nil {
		return HistoryResult{}, err
	}

	b.logger.Info("load history", zap.Uint64("from", window.From), zap.Uint64("to", window.To), zap.Int("chunks", len(ranges)))

	chunks := make([][]types.Log, len(ranges))
	var failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	concurrency := b.concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	g.SetLimit(concurrency)
	for i, r := range ranges {
		i, r := i, r
		g.Go(func() error {
			logs, err := fetchRange(gctx, b.chain, b.contract, b.topics, b.eventTypes, r)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failed.Add(1)
				b.metrics.ObserveChunkFailure(string(model.SourceHistory))
				b.logger.Warn("history chunk failed", zap.Uint64("from", r.From), zap.Uint64("to", r.To), zap.Error(err))
				return nil
			}
			chunks[i] = logs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return HistoryResult{}, err
	}

	var logs []types.Log
	for _, chunk := range chunks {
		logs = append(logs, chunk...)
	}
	sortLogs(logs)

	events := b.normalizer.NormalizeAll(ctx, logs, model.SourceHistory)
	b.publish(ctx, events)

	result := HistoryResult{
		From:         window.From,
		To:           window.To,
		Chunks:       len(ranges),
		FailedChunks: int(failed.Load()),
		Logs:         len(logs),
		Events:       len(events),
	}
	b.logger.Info("history loaded",
		zap.Int("logs", result.Logs),
		zap.Int("events", result.Events),
		zap.Int("failed_chunks", result.FailedChunks),
	)
	return result, nil
}
