package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/enliven17/somnia-predict/internal/model"
)

// MarketStats is the live bet counter of one market.
type MarketStats struct {
	MarketID  string `json:"marketId"`
	BetCount  uint64 `json:"betCount"`
	Volume    string `json:"volume"`
	VolumeWei string `json:"volumeWei"`
	Seeded    bool   `json:"seeded"`
}

// Seeder loads the starting bet count and wei volume of a market. The values
// must only cover bets mined before the live stream started.
type Seeder interface {
	SeedStats(ctx context.Context, marketID string) (uint64, decimal.Decimal, error)
}

// SeederFunc adapts a function to Seeder.
type SeederFunc func(ctx context.Context, marketID string) (uint64, decimal.Decimal, error)

func (f SeederFunc) SeedStats(ctx context.Context, marketID string) (uint64, decimal.Decimal, error) {
	return f(ctx, marketID)
}

// marketCounters keeps the seeded baseline apart from live increments.
type marketCounters struct {
	baseCount  uint64
	baseVolume decimal.Decimal
	liveCount  uint64
	liveVolume decimal.Decimal
	seeded     bool
}

// LiveStats counts bets and volume per market from live notifications, on
// top of an optional baseline loaded on first lookup.
type LiveStats struct {
	mu      sync.RWMutex
	markets map[string]*marketCounters
	seeder  Seeder
	group   singleflight.Group
}

// NewLiveStats builds LiveStats. seeder may be nil.
func NewLiveStats(seeder Seeder) *LiveStats {
	return &LiveStats{markets: make(map[string]*marketCounters), seeder: seeder}
}

func (s *LiveStats) countersLocked(marketID string) *marketCounters {
	counters, ok := s.markets[marketID]
	if !ok {
		counters = &marketCounters{baseVolume: decimal.Zero, liveVolume: decimal.Zero}
		s.markets[marketID] = counters
	}
	return counters
}

// Seed sets the baseline of a market. Live increments are kept.
func (s *LiveStats) Seed(marketID string, betCount uint64, volumeWei decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counters := s.countersLocked(marketID)
	counters.baseCount = betCount
	counters.baseVolume = volumeWei
	counters.seeded = true
}

// Observe increments the counters for a live BetPlaced event.
func (s *LiveStats) Observe(event model.MarketEvent) {
	if event.Type != model.EventBetPlaced || event.Source != model.SourceLive {
		return
	}
	amount, err := model.ParseWei(event.Data.Amount)
	if err != nil {
		amount = decimal.Zero
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	counters := s.countersLocked(event.MarketID)
	counters.liveCount++
	counters.liveVolume = counters.liveVolume.Add(amount)
}

// Get returns the counters of a market without seeding; unseen markets report zero.
func (s *LiveStats) Get(marketID string) MarketStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := MarketStats{MarketID: marketID, Volume: model.FormatTokens(decimal.Zero), VolumeWei: "0"}
	if counters, ok := s.markets[marketID]; ok {
		volume := counters.baseVolume.Add(counters.liveVolume)
		stats.BetCount = counters.baseCount + counters.liveCount
		stats.Volume = model.FormatTokens(volume)
		stats.VolumeWei = volume.String()
		stats.Seeded = counters.seeded
	}
	return stats
}

// Lookup seeds the market on its first lookup and returns its counters. A
// failed seed is retried on the next lookup; the live counters are returned
// together with the error.
func (s *LiveStats) Lookup(ctx context.Context, marketID string) (MarketStats, error) {
	if s.seeder == nil || s.isSeeded(marketID) {
		return s.Get(marketID), nil
	}

	_, err, _ := s.group.Do(marketID, func() (interface{}, error) {
		if s.isSeeded(marketID) {
			return nil, nil
		}
		count, volume, err := s.seeder.SeedStats(ctx, marketID)
		if err != nil {
			return nil, err
		}
		s.Seed(marketID, count, volume)
		return nil, nil
	})
	if err != nil {
		return s.Get(marketID), fmt.Errorf("seed market %s stats: %w", marketID, err)
	}
	return s.Get(marketID), nil
}

func (s *LiveStats) isSeeded(marketID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counters, ok := s.markets[marketID]
	return ok && counters.seeded
}
