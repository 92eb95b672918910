package model

import "time"

// BetActivity is the off-chain activity row recorded for each bet.
type BetActivity struct {
	ID          string    `json:"id"`
	MarketID    string    `json:"market_id"`
	UserAddress string    `json:"user_address"`
	Option      uint8     `json:"option"`
	Amount      string    `json:"amount"`
	Shares      string    `json:"shares"`
	TxHash      string    `json:"tx_hash"`
	MarketTitle string    `json:"market_title,omitempty"`
	OptionA     string    `json:"option_a,omitempty"`
	OptionB     string    `json:"option_b,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// BetActivityFromEvent builds an activity row from a BetPlaced event.
func BetActivityFromEvent(event MarketEvent) (BetActivity, bool) {
	if event.Type != EventBetPlaced || event.Data.Option == nil {
		return BetActivity{}, false
	}
	return BetActivity{
		ID:          event.ID,
		MarketID:    event.MarketID,
		UserAddress: event.Data.User,
		Option:      *event.Data.Option,
		Amount:      event.Data.Amount,
		Shares:      event.Data.Shares,
		TxHash:      event.TxHash,
		MarketTitle: event.Data.MarketTitle,
		OptionA:     event.Data.OptionA,
		OptionB:     event.Data.OptionB,
		CreatedAt:   time.UnixMilli(event.Timestamp).UTC(),
	}, true
}
