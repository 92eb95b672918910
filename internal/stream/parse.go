package stream

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/enliven17/somnia-predict/internal/model"
)

// ParseAddress converts a hex string into common.Address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %s", input)
	}
	return common.HexToAddress(input), nil
}

// ParseEventTypes parses event names, dropping blanks and duplicates.
// An empty list selects every event type.
func ParseEventTypes(inputs []string) ([]model.EventType, error) {
	seen := make(map[model.EventType]struct{}, len(inputs))
	out := make([]model.EventType, 0, len(inputs))
	for _, input := range inputs {
		if strings.TrimSpace(input) == "" {
			continue
		}
		eventType, err := model.ParseEventType(input)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[eventType]; ok {
			continue
		}
		seen[eventType] = struct{}{}
		out = append(out, eventType)
	}
	if len(out) == 0 {
		return model.AllEventTypes(), nil
	}
	return out, nil
}
