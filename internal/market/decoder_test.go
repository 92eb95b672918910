package market

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/enliven17/somnia-predict/internal/model"
)

func TestDecoderBetPlaced(t *testing.T) {
	contractABI, err := PredictionMarketABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	user := common.HexToAddress("0x2222222222222222222222222222222222222222")
	event := contractABI.Events["BetPlaced"]
	data, err := event.Inputs.NonIndexed().Pack(uint8(1), big.NewInt(2500000000000000000), big.NewInt(42))
	if err != nil {
		t.Fatalf("pack bet: %v", err)
	}

	log := buildLog(event.ID, data, []common.Hash{common.BigToHash(big.NewInt(7)), topicFromAddress(user)})
	decoded, err := decoder.Decode(log)
	if err != nil {
		t.Fatalf("decode bet: %v", err)
	}

	if decoded.Type != model.EventBetPlaced || decoded.MarketID != "7" {
		t.Fatalf("header mismatch: %+v", decoded)
	}
	if decoded.Data.User != user.Hex() {
		t.Fatalf("user mismatch: %s", decoded.Data.User)
	}
	if decoded.Data.Option == nil || *decoded.Data.Option != 1 {
		t.Fatalf("option mismatch: %+v", decoded.Data)
	}
	if decoded.Data.Amount != "2500000000000000000" || decoded.Data.Shares != "42" {
		t.Fatalf("amounts mismatch: %+v", decoded.Data)
	}
	if decoded.Data.RawTimestamp != 0 {
		t.Fatalf("unexpected timestamp: %d", decoded.Data.RawTimestamp)
	}
}

func TestDecoderBetPlacedWithTimestamp(t *testing.T) {
	contractABI, err := PredictionMarketABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	var timestamped abi.Event
	for _, event := range contractABI.Events {
		if event.RawName == "BetPlaced" && len(event.Inputs) == 6 {
			timestamped = event
		}
	}
	if timestamped.RawName == "" {
		t.Fatalf("timestamped BetPlaced not found")
	}
	if topics := decoder.Topics(model.EventBetPlaced); len(topics) != 2 {
		t.Fatalf("expected two BetPlaced topics, got %d", len(topics))
	}

	data, err := timestamped.Inputs.NonIndexed().Pack(uint8(0), big.NewInt(10), big.NewInt(10), big.NewInt(1700000123))
	if err != nil {
		t.Fatalf("pack bet: %v", err)
	}
	user := common.HexToAddress("0x3333333333333333333333333333333333333333")
	log := buildLog(timestamped.ID, data, []common.Hash{common.BigToHash(big.NewInt(3)), topicFromAddress(user)})

	decoded, err := decoder.Decode(log)
	if err != nil {
		t.Fatalf("decode bet: %v", err)
	}
	if decoded.Type != model.EventBetPlaced {
		t.Fatalf("type mismatch: %s", decoded.Type)
	}
	if decoded.Data.RawTimestamp != 1700000123 {
		t.Fatalf("timestamp mismatch: %d", decoded.Data.RawTimestamp)
	}
}

func TestDecoderResolvedAndCreated(t *testing.T) {
	contractABI, err := PredictionMarketABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	resolver := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	resolvedData, err := contractABI.Events["MarketResolved"].Inputs.NonIndexed().Pack(uint8(1))
	if err != nil {
		t.Fatalf("pack resolved: %v", err)
	}
	resolved, err := decoder.Decode(buildLog(contractABI.Events["MarketResolved"].ID, resolvedData, []common.Hash{
		common.BigToHash(big.NewInt(12)),
		topicFromAddress(resolver),
	}))
	if err != nil {
		t.Fatalf("decode resolved: %v", err)
	}
	if resolved.Data.Outcome == nil || *resolved.Data.Outcome != 1 || resolved.Data.Resolver != resolver.Hex() {
		t.Fatalf("resolved mismatch: %+v", resolved.Data)
	}

	creator := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	createdData, err := contractABI.Events["MarketCreated"].Inputs.NonIndexed().Pack("Will BTC close above 100k?")
	if err != nil {
		t.Fatalf("pack created: %v", err)
	}
	created, err := decoder.Decode(buildLog(contractABI.Events["MarketCreated"].ID, createdData, []common.Hash{
		common.BigToHash(big.NewInt(13)),
		topicFromAddress(creator),
	}))
	if err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if created.MarketID != "13" || created.Data.Title != "Will BTC close above 100k?" || created.Data.Creator != creator.Hex() {
		t.Fatalf("created mismatch: %+v", created)
	}
}

func TestDecoderRejectsMalformedLogs(t *testing.T) {
	contractABI, err := PredictionMarketABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	event := contractABI.Events["BetPlaced"]

	if _, err := decoder.Decode(types.Log{}); err == nil {
		t.Fatalf("expected error for missing topics")
	}
	if _, err := decoder.Decode(buildLog(event.ID, nil, []common.Hash{common.BigToHash(big.NewInt(1))})); err == nil {
		t.Fatalf("expected error for missing indexed topic")
	}
	user := topicFromAddress(common.HexToAddress("0x01"))
	if _, err := decoder.Decode(buildLog(event.ID, []byte{0x01}, []common.Hash{common.BigToHash(big.NewInt(1)), user})); err == nil {
		t.Fatalf("expected error for truncated data")
	}

	removed := buildLog(event.ID, nil, nil)
	removed.Removed = true
	if _, err := decoder.Decode(removed); err == nil {
		t.Fatalf("expected error for removed log")
	}
}

type fakeCaller struct {
	resp  []byte
	err   error
	hits  int
	block *big.Int
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.hits++
	f.block = blockNumber
	return f.resp, f.err
}

func TestReaderGetMarket(t *testing.T) {
	contractABI, err := PredictionMarketABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	resp, err := contractABI.Methods["getMarket"].Outputs.Pack(marketTuple{
		Id:                 big.NewInt(5),
		Title:              "ETH above 5k by June?",
		OptionA:            "Above",
		OptionB:            "Below",
		Creator:            common.HexToAddress("0x4444444444444444444444444444444444444444"),
		CreatedAt:          big.NewInt(1),
		EndTime:            big.NewInt(1800000000),
		MinBet:             big.NewInt(1),
		MaxBet:             big.NewInt(100),
		Status:             2,
		Outcome:            1,
		Resolved:           true,
		TotalOptionAShares: big.NewInt(0),
		TotalOptionBShares: big.NewInt(0),
		TotalPool:          big.NewInt(900),
	})
	if err != nil {
		t.Fatalf("pack market: %v", err)
	}

	caller := &fakeCaller{resp: resp}
	reader, err := NewReader(caller, common.HexToAddress("0x5555555555555555555555555555555555555555"))
	if err != nil {
		t.Fatalf("reader: %v", err)
	}

	info, err := reader.GetMarket(context.Background(), "5")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if info.Title != "ETH above 5k by June?" || info.OptionA != "Above" || info.OptionB != "Below" {
		t.Fatalf("info mismatch: %+v", info)
	}
	if info.Status != model.MarketResolvedStatus || !info.Resolved || info.TotalPool != "900" {
		t.Fatalf("status mismatch: %+v", info)
	}
	if caller.block != nil {
		t.Fatalf("GetMarket should read the latest block, got %v", caller.block)
	}

	if _, err := reader.GetMarketAt(context.Background(), "5", big.NewInt(1200)); err != nil {
		t.Fatalf("get market at: %v", err)
	}
	if caller.block == nil || caller.block.Uint64() != 1200 {
		t.Fatalf("block = %v, want 1200", caller.block)
	}

	if _, err := reader.GetMarket(context.Background(), "not-a-number"); err == nil {
		t.Fatalf("expected error for invalid id")
	}

	failing := &fakeCaller{err: fmt.Errorf("execution reverted")}
	reader, _ = NewReader(failing, common.Address{})
	if _, err := reader.GetMarket(context.Background(), "5"); err == nil {
		t.Fatalf("expected call error")
	}
}

func buildLog(topic0 common.Hash, data []byte, indexed []common.Hash) types.Log {
	topics := make([]common.Hash, 0, len(indexed)+1)
	topics = append(topics, topic0)
	topics = append(topics, indexed...)
	return types.Log{
		Address:     common.HexToAddress("0x5555555555555555555555555555555555555555"),
		Topics:      topics,
		Data:        data,
		BlockNumber: 12345,
		TxHash:      common.HexToHash("0xdef"),
		Index:       1,
	}
}

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}
