package model

import (
	"fmt"
	"strings"
)

// EventType names a prediction-market contract event.
type EventType string

const (
	EventBetPlaced      EventType = "BetPlaced"
	EventMarketResolved EventType = "MarketResolved"
	EventMarketCreated  EventType = "MarketCreated"
)

// UnscopedMarket is the market id used when an event is not tied to one market.
const UnscopedMarket = "all"

// AllEventTypes lists every event type the stream understands.
func AllEventTypes() []EventType {
	return []EventType{EventBetPlaced, EventMarketResolved, EventMarketCreated}
}

// ParseEventType accepts the canonical name case-insensitively.
func ParseEventType(input string) (EventType, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "betplaced", "bet_placed":
		return EventBetPlaced, nil
	case "marketresolved", "market_resolved":
		return EventMarketResolved, nil
	case "marketcreated", "market_created":
		return EventMarketCreated, nil
	default:
		return "", fmt.Errorf("unsupported event type: %s", input)
	}
}

// Source tells how an event was discovered.
type Source string

const (
	SourceLive    Source = "live"
	SourceHistory Source = "history"
)

// MarketEvent is a normalized contract event. It is never mutated after construction.
type MarketEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	MarketID    string    `json:"marketId"`
	Data        EventData `json:"data"`
	Timestamp   int64     `json:"timestamp"`
	BlockNumber uint64    `json:"blockNumber"`
	LogIndex    uint      `json:"logIndex"`
	TxHash      string    `json:"txHash"`
	Source      Source    `json:"source"`
}

// EventID derives the deduplication key of a log.
func EventID(blockNumber uint64, logIndex uint, eventType EventType, marketID, actor string) string {
	return fmt.Sprintf("%d-%d-%s-%s-%s", blockNumber, logIndex, eventType, marketID, strings.ToLower(actor))
}

// Less orders events newest first: timestamp, then block, then log index, all descending.
func Less(a, b MarketEvent) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	if a.BlockNumber != b.BlockNumber {
		return a.BlockNumber > b.BlockNumber
	}
	return a.LogIndex > b.LogIndex
}
