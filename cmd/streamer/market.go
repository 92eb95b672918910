package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/enliven17/somnia-predict/internal/model"
	"github.com/enliven17/somnia-predict/internal/storage/postgres"
)

type marketOutput struct {
	model.MarketInfo
	StatusName string  `json:"statusName"`
	BetCount   *uint64 `json:"betCount,omitempty"`
	Volume     string  `json:"volume,omitempty"`
}

func runMarket(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	marketID := args[0]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, _, reader, err := connectChain(ctx, cfg)
	if err != nil {
		return err
	}
	defer chainClient.Close()

	info, err := reader.GetMarket(ctx, marketID)
	if err != nil {
		return fmt.Errorf("get market %s: %w", marketID, err)
	}
	out := marketOutput{MarketInfo: info, StatusName: info.Status.String()}

	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()

		count, volume, err := store.LoadMarketStats(ctx, marketID)
		if err != nil {
			logger.Warn("load archived stats failed", zap.String("market_id", marketID), zap.Error(err))
		} else {
			out.BetCount = &count
			out.Volume = model.FormatTokens(volume)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
