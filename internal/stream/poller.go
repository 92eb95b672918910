package stream

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/enliven17/somnia-predict/internal/metrics"
	"github.com/enliven17/somnia-predict/internal/model"
)

// Poller advances a block watermark and emits the live events found behind it.
type Poller struct {
	chain      ChainReader
	normalizer *Normalizer
	contract   common.Address
	eventTypes []model.EventType
	topics     map[model.EventType][]common.Hash
	interval   time.Duration
	maxRange   uint64
	publish    func(context.Context, []model.MarketEvent)
	logger     *zap.Logger
	metrics    *metrics.Metrics

	lastChecked atomic.Uint64
	startBlock  atomic.Uint64
	initialized atomic.Bool
	connected   atomic.Bool
}

// LastCheckedBlock returns the watermark and whether it has been initialized.
func (p *Poller) LastCheckedBlock() (uint64, bool) {
	return p.lastChecked.Load(), p.initialized.Load()
}

// StartBlock returns the watermark the poller was initialized at. Every live
// event lies above it.
func (p *Poller) StartBlock() (uint64, bool) {
	return p.startBlock.Load(), p.initialized.Load()
}

// Connected reports whether the last head read succeeded.
func (p *Poller) Connected() bool {
	return p.connected.Load()
}

// Run ticks every interval until ctx is done. Ticks never overlap.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = p.Tick(ctx)
		}
	}
}

// Tick performs one poll. The first successful head read only initializes
// the watermark. Later ticks process (watermark, head] chunk by chunk and stop
// at the first chunk whose fetch fails.
func (p *Poller) Tick(ctx context.Context) error {
	head, err := p.chain.LatestBlockNumber(ctx)
	if err != nil {
		p.connected.Store(false)
		p.metrics.ObservePollFailure()
		p.logger.Warn("read chain head failed", zap.Error(err))
		return fmt.Errorf("read chain head: %w", err)
	}
	p.connected.Store(true)

	if !p.initialized.Load() {
		p.lastChecked.Store(head)
		p.startBlock.Store(head)
		p.initialized.Store(true)
		p.metrics.SetWatermark(head)
		p.logger.Info("poller initialized", zap.Uint64("last_checked_block", head))
		return nil
	}

	last := p.lastChecked.Load()
	if head <= last {
		return nil
	}

	ranges, err := SplitRange(last+1, head, p.maxRange)
	if err != nil {
		return err
	}
	for _, r := range ranges {
		if err := ctx.Err(); err != nil {
			return err
		}

		logs, err := fetchRange(ctx, p.chain, p.contract, p.topics, p.eventTypes, r)
		if err != nil {
			p.metrics.ObserveChunkFailure(string(model.SourceLive))
			p.logger.Warn("poll chunk failed", zap.Uint64("from", r.From), zap.Uint64("to", r.To), zap.Error(err))
			return err
		}

		events := p.normalizer.NormalizeAll(ctx, logs, model.SourceLive)
		p.publish(ctx, events)

		p.lastChecked.Store(r.To)
		p.metrics.SetWatermark(r.To)
		if len(logs) > 0 {
			p.logger.Debug("poll chunk complete",
				zap.Uint64("from", r.From),
				zap.Uint64("to", r.To),
				zap.Int("logs", len(logs)),
				zap.Int("events", len(events)),
			)
		}
	}
	return nil
}
