package storage

import (
	"context"

	"github.com/enliven17/somnia-predict/internal/model"
)

// Sink archives newly observed market events.
type Sink interface {
	PutEventBatch(ctx context.Context, events []model.MarketEvent) error
}

// Multi writes every batch to each sink in order and returns the first error.
type Multi []Sink

func (m Multi) PutEventBatch(ctx context.Context, events []model.MarketEvent) error {
	var firstErr error
	for _, sink := range m {
		if err := sink.PutEventBatch(ctx, events); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
