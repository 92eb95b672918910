package main

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/enliven17/somnia-predict/internal/model"
)

type fakeArchive struct {
	block uint64
}

func (f *fakeArchive) LoadMarketStatsUpTo(_ context.Context, _ string, block uint64) (uint64, decimal.Decimal, error) {
	f.block = block
	return 3, decimal.RequireFromString("4000000000000000000"), nil
}

type fakeMarketState struct {
	block *big.Int
	err   error
}

func (f *fakeMarketState) GetMarketAt(_ context.Context, marketID string, blockNumber *big.Int) (model.MarketInfo, error) {
	f.block = blockNumber
	if f.err != nil {
		return model.MarketInfo{}, f.err
	}
	return model.MarketInfo{ID: marketID, TotalPool: "7500000000000000000"}, nil
}

func startedAt(block uint64) func() (uint64, bool) {
	return func() (uint64, bool) { return block, true }
}

func TestStatsSeederPrefersArchive(t *testing.T) {
	archive := &fakeArchive{}
	markets := &fakeMarketState{}
	seeder := &statsSeeder{archive: archive, markets: markets, startBlock: startedAt(880)}

	count, volume, err := seeder.SeedStats(context.Background(), "2")
	require.NoError(t, err)
	require.Equal(t, uint64(3), count)
	require.Equal(t, "4.00", model.FormatTokens(volume))
	require.Equal(t, uint64(880), archive.block)
	require.Nil(t, markets.block)
}

func TestStatsSeederFallsBackToTotalPool(t *testing.T) {
	markets := &fakeMarketState{}
	seeder := &statsSeeder{markets: markets, startBlock: startedAt(881)}

	count, volume, err := seeder.SeedStats(context.Background(), "2")
	require.NoError(t, err)
	require.Equal(t, uint64(0), count)
	require.Equal(t, "7.50", model.FormatTokens(volume))
	require.Equal(t, uint64(881), markets.block.Uint64())

	markets.err = errors.New("execution reverted")
	_, _, err = seeder.SeedStats(context.Background(), "2")
	require.Error(t, err)
}

func TestStatsSeederWaitsForStream(t *testing.T) {
	seeder := &statsSeeder{
		markets:    &fakeMarketState{},
		startBlock: func() (uint64, bool) { return 0, false },
	}
	_, _, err := seeder.SeedStats(context.Background(), "2")
	require.Error(t, err)
}
