package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/enliven17/somnia-predict/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:          "streamer",
		Short:        "Prediction market live event stream",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Stream live market events and serve the API",
		RunE:  runStream,
	}
	addChainFlags(runCmd.Flags())
	addStreamFlags(runCmd.Flags())
	runCmd.Flags().Bool("history-on-start", false, "load recent history once connected")
	runCmd.Flags().String("token-symbol", config.DefaultTokenSymbol, "native token symbol used in notifications")
	runCmd.Flags().String("explorer-url", config.DefaultExplorerURL, "block explorer base URL for transaction links")
	runCmd.Flags().String("listen", ":8080", "HTTP listen address")
	runCmd.Flags().String("telegram-token", "", "Telegram bot token")
	runCmd.Flags().String("telegram-chat-id", "", "Telegram chat id")
	runCmd.Flags().Duration("notify-timeout", 10*time.Second, "timeout of one notification request")
	runCmd.Flags().Int("notify-queue-size", 256, "notifications buffered per sink before dropping")

	root.AddCommand(runCmd)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Load recent history once and write the feed as JSONL",
		RunE:  runHistory,
	}
	addChainFlags(historyCmd.Flags())
	addStreamFlags(historyCmd.Flags())
	historyCmd.Flags().String("out", "-", "output JSONL path, - for stdout")

	root.AddCommand(historyCmd)

	marketCmd := &cobra.Command{
		Use:   "market <id>",
		Short: "Print market info read from the contract",
		Args:  cobra.ExactArgs(1),
		RunE:  runMarket,
	}
	addChainFlags(marketCmd.Flags())
	marketCmd.Flags().String("pg-dsn", "", "Postgres DSN for archived bet stats")

	root.AddCommand(marketCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addChainFlags(flags *pflag.FlagSet) {
	flags.String("rpc", config.DefaultRPCURL, "RPC URL")
	flags.String("contract", "", "prediction market contract address")
	flags.Float64("rpc-rate-limit", 0, "max RPC requests per second, 0 means unlimited")
	flags.Int("max-retries", 2, "retry attempts for timestamp and market lookups")
	flags.Duration("retry-backoff", 250*time.Millisecond, "initial retry backoff")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func addStreamFlags(flags *pflag.FlagSet) {
	flags.StringSlice("events", nil, "event types to watch (comma-separated), default all")
	flags.Duration("poll-interval", time.Second, "live poll interval")
	flags.Uint64("max-block-range", 1000, "max blocks per log query")
	flags.Uint64("history-depth", 5000, "blocks loaded by a history request")
	flags.Int("history-concurrency", 1, "parallel history chunk queries")
	flags.Int("feed-size", 50, "events kept per feed scope")
	flags.String("archive-jsonl", "", "append observed events to this JSONL file")
	flags.String("pg-dsn", "", "Postgres DSN for the event archive")
}

// loadConfig reads .env, then merges config file, env and flags.
func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	if err := loadDotEnv(); err != nil {
		return config.Config{}, nil, err
	}

	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
