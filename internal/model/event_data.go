package model

// EventData is the decoded payload of a MarketEvent, enriched with market info.
// Amounts are wei encoded as decimal strings.
type EventData struct {
	User     string `json:"user,omitempty"`
	Option   *uint8 `json:"option,omitempty"`
	Amount   string `json:"amount,omitempty"`
	Shares   string `json:"shares,omitempty"`
	Outcome  *uint8 `json:"outcome,omitempty"`
	Resolver string `json:"resolver,omitempty"`
	Creator  string `json:"creator,omitempty"`
	Title    string `json:"title,omitempty"`

	// RawTimestamp is the payload timestamp in seconds, zero when the event has none.
	RawTimestamp uint64 `json:"rawTimestamp,omitempty"`

	MarketTitle string `json:"marketTitle,omitempty"`
	OptionA     string `json:"optionA,omitempty"`
	OptionB     string `json:"optionB,omitempty"`
}

// Actor returns the address that caused the event.
func (d EventData) Actor() string {
	switch {
	case d.User != "":
		return d.User
	case d.Resolver != "":
		return d.Resolver
	default:
		return d.Creator
	}
}

// SelectedLabel maps the bet option or resolved outcome to its label.
func (d EventData) SelectedLabel() string {
	selected := d.Option
	if selected == nil {
		selected = d.Outcome
	}
	if selected == nil {
		return ""
	}
	if *selected == 0 {
		return d.OptionA
	}
	return d.OptionB
}
