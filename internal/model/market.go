package model

import "fmt"

// Default option labels used when a market cannot be read.
const (
	DefaultOptionA = "Yes"
	DefaultOptionB = "No"
)

// MarketStatus mirrors the contract's status enum.
type MarketStatus uint8

const (
	MarketActive MarketStatus = iota
	MarketPaused
	MarketResolvedStatus
	MarketCancelled
)

func (s MarketStatus) String() string {
	switch s {
	case MarketActive:
		return "Active"
	case MarketPaused:
		return "Paused"
	case MarketResolvedStatus:
		return "Resolved"
	case MarketCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// MarketInfo is the subset of getMarket used to enrich events.
type MarketInfo struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	OptionA   string       `json:"optionA"`
	OptionB   string       `json:"optionB"`
	Creator   string       `json:"creator,omitempty"`
	EndTime   uint64       `json:"endTime,omitempty"`
	Status    MarketStatus `json:"status"`
	Resolved  bool         `json:"resolved"`
	Outcome   uint8        `json:"outcome"`
	TotalPool string       `json:"totalPool,omitempty"`
}

// FallbackMarketInfo is used when getMarket fails.
func FallbackMarketInfo(marketID string) MarketInfo {
	return MarketInfo{
		ID:      marketID,
		Title:   fmt.Sprintf("Market #%s", marketID),
		OptionA: DefaultOptionA,
		OptionB: DefaultOptionB,
	}
}
