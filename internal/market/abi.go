package market

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// predictionMarketABIJSON holds the events and view methods the stream consumes.
// BetPlaced is declared twice: older deployments emit it without a timestamp.
const predictionMarketABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "marketId", "type": "uint256"},
      {"indexed": false, "internalType": "string", "name": "title", "type": "string"},
      {"indexed": true, "internalType": "address", "name": "creator", "type": "address"}
    ],
    "name": "MarketCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "marketId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"},
      {"indexed": false, "internalType": "uint8", "name": "option", "type": "uint8"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "shares", "type": "uint256"}
    ],
    "name": "BetPlaced",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "marketId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"},
      {"indexed": false, "internalType": "uint8", "name": "option", "type": "uint8"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "shares", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "timestamp", "type": "uint256"}
    ],
    "name": "BetPlaced",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "marketId", "type": "uint256"},
      {"indexed": false, "internalType": "uint8", "name": "outcome", "type": "uint8"},
      {"indexed": true, "internalType": "address", "name": "resolver", "type": "address"}
    ],
    "name": "MarketResolved",
    "type": "event"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "_marketId", "type": "uint256"}],
    "name": "getMarket",
    "outputs": [
      {
        "components": [
          {"name": "id", "type": "uint256"},
          {"name": "title", "type": "string"},
          {"name": "description", "type": "string"},
          {"name": "optionA", "type": "string"},
          {"name": "optionB", "type": "string"},
          {"name": "category", "type": "uint8"},
          {"name": "creator", "type": "address"},
          {"name": "createdAt", "type": "uint256"},
          {"name": "endTime", "type": "uint256"},
          {"name": "minBet", "type": "uint256"},
          {"name": "maxBet", "type": "uint256"},
          {"name": "status", "type": "uint8"},
          {"name": "outcome", "type": "uint8"},
          {"name": "resolved", "type": "bool"},
          {"name": "totalOptionAShares", "type": "uint256"},
          {"name": "totalOptionBShares", "type": "uint256"},
          {"name": "totalPool", "type": "uint256"},
          {"name": "imageUrl", "type": "string"}
        ],
        "internalType": "struct PredictionMarket.Market",
        "name": "",
        "type": "tuple"
      }
    ],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	predictionMarketABI     abi.ABI
	predictionMarketABIOnce sync.Once
	predictionMarketABIErr  error
)

// PredictionMarketABI returns the parsed prediction market ABI.
func PredictionMarketABI() (abi.ABI, error) {
	predictionMarketABIOnce.Do(func() {
		predictionMarketABI, predictionMarketABIErr = abi.JSON(strings.NewReader(predictionMarketABIJSON))
	})
	return predictionMarketABI, predictionMarketABIErr
}
