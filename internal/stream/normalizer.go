package stream

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/enliven17/somnia-predict/internal/market"
	"github.com/enliven17/somnia-predict/internal/metrics"
	"github.com/enliven17/somnia-predict/internal/model"
)

// ChainReader is the node access the stream needs.
type ChainReader interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, address common.Address, topic0 []common.Hash) ([]types.Log, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// MarketReader loads market info by id.
type MarketReader interface {
	GetMarket(ctx context.Context, marketID string) (model.MarketInfo, error)
}

// Normalizer turns raw logs into MarketEvents, gated by the Ledger.
type Normalizer struct {
	decoder *market.Decoder
	ledger  *Ledger
	chain   ChainReader
	markets MarketReader
	cache   *market.InfoCache
	group   singleflight.Group
	retry   RetryPolicy
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func newNormalizer(
	decoder *market.Decoder,
	ledger *Ledger,
	chain ChainReader,
	markets MarketReader,
	cache *market.InfoCache,
	retry RetryPolicy,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Normalizer {
	if cache == nil {
		cache = market.NewInfoCache()
	}
	return &Normalizer{
		decoder: decoder,
		ledger:  ledger,
		chain:   chain,
		markets: markets,
		cache:   cache,
		retry:   retry,
		now:     time.Now,
		logger:  logger,
		metrics: m,
	}
}

// NormalizeAll normalizes logs in order, keeping only newly observed events.
func (n *Normalizer) NormalizeAll(ctx context.Context, logs []types.Log, source model.Source) []model.MarketEvent {
	events := make([]model.MarketEvent, 0, len(logs))
	for _, log := range logs {
		event, ok := n.Normalize(ctx, log, source)
		if ok {
			events = append(events, event)
		}
	}
	return events
}

// Normalize decodes a log and claims its id. It returns false for malformed
// logs and for ids the ledger already holds; only claimed events are enriched.
func (n *Normalizer) Normalize(ctx context.Context, log types.Log, source model.Source) (model.MarketEvent, bool) {
	decoded, err := n.decoder.Decode(log)
	if err != nil {
		n.metrics.ObserveDecodeFailure()
		n.logger.Warn("decode log failed",
			zap.Uint64("block_number", log.BlockNumber),
			zap.Uint("log_index", log.Index),
			zap.String("tx_hash", log.TxHash.Hex()),
			zap.Error(err),
		)
		return model.MarketEvent{}, false
	}

	marketID := decoded.MarketID
	if marketID == "" {
		marketID = model.UnscopedMarket
	}
	id := model.EventID(log.BlockNumber, log.Index, decoded.Type, marketID, decoded.Data.Actor())
	if !n.ledger.ObserveIfNew(id) {
		n.metrics.ObserveDuplicate(string(source))
		return model.MarketEvent{}, false
	}
	n.metrics.ObserveEvent(string(decoded.Type), string(source))

	data := decoded.Data
	info := n.marketInfo(ctx, marketID)
	data.MarketTitle = info.Title
	data.OptionA = info.OptionA
	data.OptionB = info.OptionB
	if decoded.Type == model.EventMarketCreated && data.Title != "" && info.Title == model.FallbackMarketInfo(marketID).Title {
		data.MarketTitle = data.Title
	}

	return model.MarketEvent{
		ID:          id,
		Type:        decoded.Type,
		MarketID:    marketID,
		Data:        data,
		Timestamp:   n.timestamp(ctx, data.RawTimestamp, log.BlockNumber),
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
		TxHash:      log.TxHash.Hex(),
		Source:      source,
	}, true
}

// timestamp prefers the payload, then the block header, then the wall clock.
func (n *Normalizer) timestamp(ctx context.Context, raw uint64, blockNumber uint64) int64 {
	if raw > 0 {
		return int64(raw) * 1000
	}

	var ts uint64
	err := withRetry(ctx, n.retry, func(ctx context.Context) error {
		var err error
		ts, err = n.chain.BlockTimestamp(ctx, blockNumber)
		return err
	})
	if err == nil && ts > 0 {
		return int64(ts) * 1000
	}
	if err != nil {
		n.logger.Warn("block timestamp fetch failed", zap.Uint64("block_number", blockNumber), zap.Error(err))
	}
	return n.now().UnixMilli()
}

// marketInfo reads through the cache. Concurrent misses for one market share a
// single getMarket call. Fallbacks are returned but never cached.
func (n *Normalizer) marketInfo(ctx context.Context, marketID string) model.MarketInfo {
	if marketID == model.UnscopedMarket || n.markets == nil {
		return model.FallbackMarketInfo(marketID)
	}
	if info, ok := n.cache.Get(marketID); ok {
		return info
	}

	value, err, _ := n.group.Do(marketID, func() (interface{}, error) {
		if info, ok := n.cache.Get(marketID); ok {
			return info, nil
		}
		var info model.MarketInfo
		err := withRetry(ctx, n.retry, func(ctx context.Context) error {
			var err error
			info, err = n.markets.GetMarket(ctx, marketID)
			return err
		})
		if err != nil {
			return nil, err
		}
		if info.Title == "" {
			info.Title = model.FallbackMarketInfo(marketID).Title
		}
		n.cache.Set(marketID, info)
		return info, nil
	})
	if err != nil {
		n.logger.Warn("market info lookup failed", zap.String("market_id", marketID), zap.Error(err))
		return model.FallbackMarketInfo(marketID)
	}
	return value.(model.MarketInfo)
}

// fetchRange pulls every watched event type in [from, to] and returns the logs
// in chain order. The first failing type fails the whole range.
func fetchRange(
	ctx context.Context,
	chain ChainReader,
	contract common.Address,
	topics map[model.EventType][]common.Hash,
	eventTypes []model.EventType,
	r BlockRange,
) ([]types.Log, error) {
	var all []types.Log
	for _, eventType := range eventTypes {
		logs, err := chain.FilterLogs(ctx, r.From, r.To, contract, topics[eventType])
		if err != nil {
			return nil, fmt.Errorf("filter %s logs [%d,%d]: %w", eventType, r.From, r.To, err)
		}
		all = append(all, logs...)
	}
	sortLogs(all)
	return all, nil
}

func sortLogs(logs []types.Log) {
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
}
