package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes notifications to the structured log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, n Notification) error {
	s.logger.Info("notification",
		zap.String("kind", string(n.Kind)),
		zap.String("title", n.Title),
		zap.String("description", n.Description),
		zap.String("market_id", n.MarketID),
		zap.String("event_id", n.EventID),
		zap.String("link", n.Link),
	)
	return nil
}
