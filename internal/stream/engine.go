// Package stream reconciles live polling and historical backfill of
// prediction market events into one deduplicated feed.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/enliven17/somnia-predict/internal/feed"
	"github.com/enliven17/somnia-predict/internal/market"
	"github.com/enliven17/somnia-predict/internal/metrics"
	"github.com/enliven17/somnia-predict/internal/model"
	"github.com/enliven17/somnia-predict/internal/storage"
)

const (
	DefaultPollInterval  = time.Second
	DefaultMaxBlockRange = 1000
	DefaultHistoryDepth  = 5000
)

// Config holds runtime settings for the engine.
type Config struct {
	Contract           common.Address
	EventTypes         []model.EventType
	PollInterval       time.Duration
	MaxBlockRange      uint64
	HistoryDepth       uint64
	HistoryConcurrency int
	HistoryOnStart     bool
	Retry              RetryPolicy
}

// Dispatcher receives every live event after it reached the feed.
type Dispatcher interface {
	Dispatch(ctx context.Context, event model.MarketEvent)
}

// Deps are the collaborators of an Engine. Chain, Ledger and Feed are required.
type Deps struct {
	Chain       ChainReader
	Markets     MarketReader
	Ledger      *Ledger
	MarketCache *market.InfoCache
	Feed        *feed.Store
	Dispatcher  Dispatcher
	Archive     storage.Sink
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// Status is the consumer-facing view of the engine.
type Status struct {
	IsStreaming      bool   `json:"isStreaming"`
	IsConnected      bool   `json:"isConnected"`
	IsLoadingHistory bool   `json:"isLoadingHistory"`
	LastCheckedBlock uint64 `json:"lastCheckedBlock"`
	SeenEvents       int    `json:"seenEvents"`
}

// Engine wires the poller and backfiller to the shared ledger and feed.
type Engine struct {
	cfg        Config
	feed       *feed.Store
	ledger     *Ledger
	dispatcher Dispatcher
	archive    storage.Sink
	logger     *zap.Logger
	metrics    *metrics.Metrics

	poller     *Poller
	backfiller *Backfiller
	streaming  chan struct{}
}

// NewEngine validates cfg and builds an Engine.
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if deps.Chain == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("ledger is nil")
	}
	if deps.Feed == nil {
		return nil, fmt.Errorf("feed store is nil")
	}
	if cfg.Contract == (common.Address{}) {
		return nil, fmt.Errorf("contract address is required")
	}
	if len(cfg.EventTypes) == 0 {
		cfg.EventTypes = model.AllEventTypes()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = DefaultMaxBlockRange
	}
	if cfg.HistoryDepth == 0 {
		cfg.HistoryDepth = DefaultHistoryDepth
	}
	if cfg.HistoryConcurrency <= 0 {
		cfg.HistoryConcurrency = 1
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	decoder, err := market.NewDecoder()
	if err != nil {
		return nil, err
	}
	topics := make(map[model.EventType][]common.Hash, len(cfg.EventTypes))
	for _, eventType := range cfg.EventTypes {
		topics[eventType] = decoder.Topics(eventType)
		if len(topics[eventType]) == 0 {
			return nil, fmt.Errorf("no topics for event type %s", eventType)
		}
	}

	e := &Engine{
		cfg:        cfg,
		feed:       deps.Feed,
		ledger:     deps.Ledger,
		dispatcher: deps.Dispatcher,
		archive:    deps.Archive,
		logger:     logger,
		metrics:    deps.Metrics,
		streaming:  make(chan struct{}, 1),
	}

	normalizer := newNormalizer(decoder, deps.Ledger, deps.Chain, deps.Markets, deps.MarketCache, cfg.Retry, logger, deps.Metrics)
	e.poller = &Poller{
		chain:      deps.Chain,
		normalizer: normalizer,
		contract:   cfg.Contract,
		eventTypes: cfg.EventTypes,
		topics:     topics,
		interval:   cfg.PollInterval,
		maxRange:   cfg.MaxBlockRange,
		publish:    e.publish,
		logger:     logger.With(zap.String("component", "poller")),
		metrics:    deps.Metrics,
	}
	e.backfiller = &Backfiller{
		chain:       deps.Chain,
		normalizer:  normalizer,
		contract:    cfg.Contract,
		eventTypes:  cfg.EventTypes,
		topics:      topics,
		depth:       cfg.HistoryDepth,
		maxRange:    cfg.MaxBlockRange,
		concurrency: cfg.HistoryConcurrency,
		connected:   e.poller.Connected,
		watermark:   e.poller.LastCheckedBlock,
		publish:     e.publish,
		logger:      logger.With(zap.String("component", "backfill")),
		metrics:     deps.Metrics,
	}
	return e, nil
}

// Connect performs one poll so the watermark and connection state are known.
func (e *Engine) Connect(ctx context.Context) error {
	return e.poller.Tick(ctx)
}

// Run polls until ctx is done. Only one Run may be active at a time.
func (e *Engine) Run(ctx context.Context) error {
	select {
	case e.streaming <- struct{}{}:
	default:
		return fmt.Errorf("engine already streaming")
	}
	defer func() { <-e.streaming }()

	e.logger.Info("stream started",
		zap.String("contract", e.cfg.Contract.Hex()),
		zap.Duration("poll_interval", e.cfg.PollInterval),
		zap.Int("event_types", len(e.cfg.EventTypes)),
	)

	if err := e.Connect(ctx); err == nil && e.cfg.HistoryOnStart {
		go func() {
			if _, err := e.LoadHistory(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Warn("history on start failed", zap.Error(err))
			}
		}()
	}

	err := e.poller.Run(ctx)
	e.logger.Info("stream stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// LoadHistory backfills the recent window. It never produces notifications.
func (e *Engine) LoadHistory(ctx context.Context) (HistoryResult, error) {
	return e.backfiller.Load(ctx)
}

// Subscribe tracks a scope ("all" or a market id) and streams its new events.
func (e *Engine) Subscribe(scope string) *feed.Subscription {
	return e.feed.Subscribe(scope, feed.DefaultSubscriberBuffer)
}

// Events returns the current feed of a scope.
func (e *Engine) Events(scope string) []model.MarketEvent {
	return e.feed.Snapshot(scope)
}

// StartBlock returns the block the live stream started after.
func (e *Engine) StartBlock() (uint64, bool) {
	return e.poller.StartBlock()
}

func (e *Engine) Status() Status {
	last, _ := e.poller.LastCheckedBlock()
	return Status{
		IsStreaming:      len(e.streaming) > 0,
		IsConnected:      e.poller.Connected(),
		IsLoadingHistory: e.backfiller.Running(),
		LastCheckedBlock: last,
		SeenEvents:       e.ledger.Len(),
	}
}

// publish appends events to the feed, archives them, and dispatches the live
// ones in discovery order.
func (e *Engine) publish(ctx context.Context, events []model.MarketEvent) {
	e.metrics.SetLedgerSize(e.ledger.Len())
	if len(events) == 0 {
		return
	}

	e.feed.Insert(events)

	if e.archive != nil {
		if err := e.archive.PutEventBatch(ctx, events); err != nil {
			e.metrics.ObserveArchiveFailure()
			e.logger.Warn("archive events failed", zap.Int("events", len(events)), zap.Error(err))
		}
	}

	if e.dispatcher == nil {
		return
	}
	for _, event := range events {
		if event.Source != model.SourceLive {
			continue
		}
		e.dispatcher.Dispatch(ctx, event)
	}
}
