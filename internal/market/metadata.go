package market

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/enliven17/somnia-predict/internal/model"
)

// ContractCaller executes eth_call requests.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// marketTuple matches the getMarket output tuple field for field.
type marketTuple struct {
	Id                 *big.Int
	Title              string
	Description        string
	OptionA            string
	OptionB            string
	Category           uint8
	Creator            common.Address
	CreatedAt          *big.Int
	EndTime            *big.Int
	MinBet             *big.Int
	MaxBet             *big.Int
	Status             uint8
	Outcome            uint8
	Resolved           bool
	TotalOptionAShares *big.Int
	TotalOptionBShares *big.Int
	TotalPool          *big.Int
	ImageUrl           string
}

// Reader reads market state from the prediction market contract.
type Reader struct {
	caller   ContractCaller
	contract common.Address
	abi      abi.ABI
}

// NewReader builds a Reader bound to the contract address.
func NewReader(caller ContractCaller, contract common.Address) (*Reader, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller is nil")
	}
	parsed, err := PredictionMarketABI()
	if err != nil {
		return nil, fmt.Errorf("parse prediction market abi: %w", err)
	}
	return &Reader{caller: caller, contract: contract, abi: parsed}, nil
}

// GetMarket loads a market by its decimal id at the latest block.
func (r *Reader) GetMarket(ctx context.Context, marketID string) (model.MarketInfo, error) {
	return r.GetMarketAt(ctx, marketID, nil)
}

// GetMarketAt loads a market as of blockNumber; nil means latest.
func (r *Reader) GetMarketAt(ctx context.Context, marketID string, blockNumber *big.Int) (model.MarketInfo, error) {
	id, ok := new(big.Int).SetString(marketID, 10)
	if !ok {
		return model.MarketInfo{}, fmt.Errorf("invalid market id: %s", marketID)
	}

	data, err := r.abi.Pack("getMarket", id)
	if err != nil {
		return model.MarketInfo{}, fmt.Errorf("pack getMarket: %w", err)
	}
	msg := ethereum.CallMsg{To: &r.contract, Data: data}
	resp, err := r.caller.CallContract(ctx, msg, blockNumber)
	if err != nil {
		return model.MarketInfo{}, fmt.Errorf("call getMarket: %w", err)
	}
	values, err := r.abi.Unpack("getMarket", resp)
	if err != nil {
		return model.MarketInfo{}, fmt.Errorf("unpack getMarket: %w", err)
	}
	if len(values) != 1 {
		return model.MarketInfo{}, fmt.Errorf("unexpected getMarket values: %d", len(values))
	}

	tuple := *abi.ConvertType(values[0], new(marketTuple)).(*marketTuple)
	info := model.MarketInfo{
		ID:       marketID,
		Title:    tuple.Title,
		OptionA:  tuple.OptionA,
		OptionB:  tuple.OptionB,
		Creator:  tuple.Creator.Hex(),
		Status:   model.MarketStatus(tuple.Status),
		Resolved: tuple.Resolved,
		Outcome:  tuple.Outcome,
	}
	if tuple.EndTime != nil && tuple.EndTime.IsUint64() {
		info.EndTime = tuple.EndTime.Uint64()
	}
	if tuple.TotalPool != nil {
		info.TotalPool = tuple.TotalPool.String()
	}
	if info.OptionA == "" {
		info.OptionA = model.DefaultOptionA
	}
	if info.OptionB == "" {
		info.OptionB = model.DefaultOptionB
	}
	return info, nil
}

// InfoCache caches market info by market id. Entries are never invalidated.
type InfoCache struct {
	mu   sync.RWMutex
	data map[string]model.MarketInfo
}

func NewInfoCache() *InfoCache {
	return &InfoCache{data: make(map[string]model.MarketInfo)}
}

func (c *InfoCache) Get(marketID string) (model.MarketInfo, bool) {
	c.mu.RLock()
	info, ok := c.data[marketID]
	c.mu.RUnlock()
	return info, ok
}

func (c *InfoCache) Set(marketID string, info model.MarketInfo) {
	c.mu.Lock()
	c.data[marketID] = info
	c.mu.Unlock()
}
