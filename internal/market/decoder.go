package market

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/enliven17/somnia-predict/internal/model"
)

// Decoded is a log whose arguments were unpacked against the contract ABI.
type Decoded struct {
	Type     model.EventType
	MarketID string
	Data     model.EventData
}

// Decoder decodes prediction market logs.
type Decoder struct {
	events map[common.Hash]abi.Event
	types  map[common.Hash]model.EventType
	topics map[model.EventType][]common.Hash
}

// NewDecoder builds a decoder for every event in the prediction market ABI.
func NewDecoder() (*Decoder, error) {
	contractABI, err := PredictionMarketABI()
	if err != nil {
		return nil, fmt.Errorf("parse prediction market abi: %w", err)
	}

	d := &Decoder{
		events: make(map[common.Hash]abi.Event),
		types:  make(map[common.Hash]model.EventType),
		topics: make(map[model.EventType][]common.Hash),
	}
	for _, event := range contractABI.Events {
		eventType, err := model.ParseEventType(event.RawName)
		if err != nil {
			return nil, err
		}
		d.events[event.ID] = event
		d.types[event.ID] = eventType
		d.topics[eventType] = append(d.topics[eventType], event.ID)
	}
	for _, topics := range d.topics {
		sort.Slice(topics, func(i, j int) bool {
			return bytes.Compare(topics[i][:], topics[j][:]) < 0
		})
	}
	return d, nil
}

// Topics returns the topic0 values that identify an event type.
func (d *Decoder) Topics(eventType model.EventType) []common.Hash {
	return append([]common.Hash(nil), d.topics[eventType]...)
}

// Decode unpacks the indexed and non-indexed arguments of a log.
func (d *Decoder) Decode(log types.Log) (Decoded, error) {
	if log.Removed {
		return Decoded{}, fmt.Errorf("log removed by reorg")
	}
	if len(log.Topics) == 0 {
		return Decoded{}, fmt.Errorf("missing topics")
	}
	event, ok := d.events[log.Topics[0]]
	if !ok {
		return Decoded{}, fmt.Errorf("unsupported topic0: %s", log.Topics[0].Hex())
	}

	indexed := indexedArguments(event.Inputs)
	if len(log.Topics) != len(indexed)+1 {
		return Decoded{}, fmt.Errorf("expected %d topics, got %d", len(indexed)+1, len(log.Topics))
	}

	args := make(map[string]interface{}, len(event.Inputs))
	if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
		return Decoded{}, fmt.Errorf("parse topics: %w", err)
	}
	if err := event.Inputs.NonIndexed().UnpackIntoMap(args, log.Data); err != nil {
		return Decoded{}, fmt.Errorf("unpack %s: %w", event.Name, err)
	}

	marketID, err := asBigInt(args["marketId"])
	if err != nil {
		return Decoded{}, fmt.Errorf("marketId: %w", err)
	}

	eventType := d.types[event.ID]
	out := Decoded{Type: eventType, MarketID: marketID.String()}

	switch eventType {
	case model.EventBetPlaced:
		out.Data, err = betPlacedData(args)
	case model.EventMarketResolved:
		out.Data, err = marketResolvedData(args)
	case model.EventMarketCreated:
		out.Data, err = marketCreatedData(args)
	default:
		err = fmt.Errorf("unsupported event type: %s", eventType)
	}
	if err != nil {
		return Decoded{}, fmt.Errorf("%s: %w", eventType, err)
	}
	return out, nil
}

func betPlacedData(args map[string]interface{}) (model.EventData, error) {
	user, err := asAddress(args["user"])
	if err != nil {
		return model.EventData{}, fmt.Errorf("user: %w", err)
	}
	option, err := asUint8(args["option"])
	if err != nil {
		return model.EventData{}, fmt.Errorf("option: %w", err)
	}
	amount, err := asBigInt(args["amount"])
	if err != nil {
		return model.EventData{}, fmt.Errorf("amount: %w", err)
	}
	shares, err := asBigInt(args["shares"])
	if err != nil {
		return model.EventData{}, fmt.Errorf("shares: %w", err)
	}

	data := model.EventData{
		User:   user.Hex(),
		Option: &option,
		Amount: amount.String(),
		Shares: shares.String(),
	}
	if raw, ok := args["timestamp"]; ok {
		ts, err := asBigInt(raw)
		if err != nil {
			return model.EventData{}, fmt.Errorf("timestamp: %w", err)
		}
		if ts.IsUint64() {
			data.RawTimestamp = ts.Uint64()
		}
	}
	return data, nil
}

func marketResolvedData(args map[string]interface{}) (model.EventData, error) {
	outcome, err := asUint8(args["outcome"])
	if err != nil {
		return model.EventData{}, fmt.Errorf("outcome: %w", err)
	}
	resolver, err := asAddress(args["resolver"])
	if err != nil {
		return model.EventData{}, fmt.Errorf("resolver: %w", err)
	}
	return model.EventData{Outcome: &outcome, Resolver: resolver.Hex()}, nil
}

func marketCreatedData(args map[string]interface{}) (model.EventData, error) {
	title, ok := args["title"].(string)
	if !ok {
		return model.EventData{}, fmt.Errorf("title: unsupported type %T", args["title"])
	}
	creator, err := asAddress(args["creator"])
	if err != nil {
		return model.EventData{}, fmt.Errorf("creator: %w", err)
	}
	return model.EventData{Title: title, Creator: creator.Hex()}, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return nil, fmt.Errorf("nil int")
		}
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		if v == nil || !v.IsUint64() || v.Uint64() > 255 {
			return 0, fmt.Errorf("uint8 overflow")
		}
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}
