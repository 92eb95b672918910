package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Default values shared by flags and viper.
const (
	DefaultRPCURL      = "https://dream-rpc.somnia.network"
	DefaultExplorerURL = "https://somnia-testnet.blockscout.com"
	DefaultTokenSymbol = "STT"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL   string
	Contract string
	Events   []string

	PollInterval       time.Duration
	MaxBlockRange      uint64
	HistoryDepth       uint64
	HistoryConcurrency int
	HistoryOnStart     bool

	FeedSize     int
	MaxRetries   int
	RetryBackoff time.Duration
	RPCRateLimit float64

	TokenSymbol string
	ExplorerURL string

	Listen         string
	ArchiveJSONL   string
	PGDSN          string
	TelegramToken  string
	TelegramChatID string

	NotifyTimeout   time.Duration
	NotifyQueueSize int

	LogLevel string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STREAMER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("rpc", DefaultRPCURL)
	v.SetDefault("poll-interval", time.Second)
	v.SetDefault("max-block-range", uint64(1000))
	v.SetDefault("history-depth", uint64(5000))
	v.SetDefault("history-concurrency", 1)
	v.SetDefault("history-on-start", false)
	v.SetDefault("feed-size", 50)
	v.SetDefault("max-retries", 2)
	v.SetDefault("retry-backoff", 250*time.Millisecond)
	v.SetDefault("rpc-rate-limit", 0.0)
	v.SetDefault("token-symbol", DefaultTokenSymbol)
	v.SetDefault("explorer-url", DefaultExplorerURL)
	v.SetDefault("listen", ":8080")
	v.SetDefault("notify-timeout", 10*time.Second)
	v.SetDefault("notify-queue-size", 256)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:             v.GetString("rpc"),
		Contract:           strings.TrimSpace(v.GetString("contract")),
		Events:             getStringSlice(v, "events"),
		PollInterval:       v.GetDuration("poll-interval"),
		MaxBlockRange:      v.GetUint64("max-block-range"),
		HistoryDepth:       v.GetUint64("history-depth"),
		HistoryConcurrency: v.GetInt("history-concurrency"),
		HistoryOnStart:     v.GetBool("history-on-start"),
		FeedSize:           v.GetInt("feed-size"),
		MaxRetries:         v.GetInt("max-retries"),
		RetryBackoff:       v.GetDuration("retry-backoff"),
		RPCRateLimit:       v.GetFloat64("rpc-rate-limit"),
		TokenSymbol:        v.GetString("token-symbol"),
		ExplorerURL:        v.GetString("explorer-url"),
		Listen:             v.GetString("listen"),
		ArchiveJSONL:       v.GetString("archive-jsonl"),
		PGDSN:              v.GetString("pg-dsn"),
		TelegramToken:      v.GetString("telegram-token"),
		TelegramChatID:     v.GetString("telegram-chat-id"),
		NotifyTimeout:      v.GetDuration("notify-timeout"),
		NotifyQueueSize:    v.GetInt("notify-queue-size"),
		LogLevel:           v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the settings needed to stream.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.Contract == "" {
		return fmt.Errorf("contract address is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be greater than zero")
	}
	if c.MaxBlockRange == 0 {
		return fmt.Errorf("max block range must be greater than zero")
	}
	if c.HistoryDepth == 0 {
		return fmt.Errorf("history depth must be greater than zero")
	}
	if c.HistoryConcurrency <= 0 {
		return fmt.Errorf("history concurrency must be greater than zero")
	}
	if c.FeedSize <= 0 {
		return fmt.Errorf("feed size must be greater than zero")
	}
	if c.RPCRateLimit < 0 {
		return fmt.Errorf("rpc rate limit must not be negative")
	}
	if (c.TelegramToken == "") != (c.TelegramChatID == "") {
		return fmt.Errorf("telegram token and chat id must be set together")
	}
	return nil
}

// TelegramEnabled reports whether the Telegram sink is configured.
func (c Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != ""
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return splitAndClean(strings.Join(typed, ","))
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
