package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/enliven17/somnia-predict/internal/model"
)

type archivedStats interface {
	LoadMarketStatsUpTo(ctx context.Context, marketID string, block uint64) (uint64, decimal.Decimal, error)
}

type marketStateReader interface {
	GetMarketAt(ctx context.Context, marketID string, blockNumber *big.Int) (model.MarketInfo, error)
}

// statsSeeder loads the baseline of a market as of the block the live stream
// started after. Live increments cover the blocks above it.
type statsSeeder struct {
	archive    archivedStats
	markets    marketStateReader
	startBlock func() (uint64, bool)
}

func (s *statsSeeder) SeedStats(ctx context.Context, marketID string) (uint64, decimal.Decimal, error) {
	block, ok := s.startBlock()
	if !ok {
		return 0, decimal.Zero, fmt.Errorf("stream not started")
	}
	if s.archive != nil {
		return s.archive.LoadMarketStatsUpTo(ctx, marketID, block)
	}

	info, err := s.markets.GetMarketAt(ctx, marketID, new(big.Int).SetUint64(block))
	if err != nil {
		return 0, decimal.Zero, err
	}
	if info.TotalPool == "" {
		return 0, decimal.Zero, nil
	}
	volume, err := model.ParseWei(info.TotalPool)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("total pool: %w", err)
	}
	return 0, volume, nil
}
