package stream

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/enliven17/somnia-predict/internal/feed"
	"github.com/enliven17/somnia-predict/internal/market"
	"github.com/enliven17/somnia-predict/internal/model"
)

var (
	testContract = common.HexToAddress("0x5555555555555555555555555555555555555555")
	testUser     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testCreator  = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

type filterCall struct {
	From, To uint64
	Topics   []common.Hash
}

type fakeChain struct {
	mu         sync.Mutex
	head       uint64
	headErr    error
	logs       []types.Log
	filterErr  func(from, to uint64, topics []common.Hash) error
	gate       chan struct{}
	timestamps map[uint64]uint64
	tsErr      error
	calls      []filterCall
}

func (f *fakeChain) setHead(head uint64, err error) {
	f.mu.Lock()
	f.head = head
	f.headErr = err
	f.mu.Unlock()
}

func (f *fakeChain) addLogs(logs ...types.Log) {
	f.mu.Lock()
	f.logs = append(f.logs, logs...)
	f.mu.Unlock()
}

func (f *fakeChain) LatestBlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, f.headErr
}

func (f *fakeChain) FilterLogs(ctx context.Context, from, to uint64, address common.Address, topic0 []common.Hash) ([]types.Log, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, filterCall{From: from, To: to, Topics: topic0})
	if f.filterErr != nil {
		if err := f.filterErr(from, to, topic0); err != nil {
			return nil, err
		}
	}

	wanted := make(map[common.Hash]struct{}, len(topic0))
	for _, topic := range topic0 {
		wanted[topic] = struct{}{}
	}
	var out []types.Log
	for _, log := range f.logs {
		if log.Address != address || log.BlockNumber < from || log.BlockNumber > to {
			continue
		}
		if _, ok := wanted[log.Topics[0]]; !ok {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func (f *fakeChain) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tsErr != nil {
		return 0, f.tsErr
	}
	if ts, ok := f.timestamps[number]; ok {
		return ts, nil
	}
	return 1_700_000_000 + number, nil
}

func (f *fakeChain) filterCalls() []filterCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]filterCall(nil), f.calls...)
}

type fakeMarkets struct {
	mu    sync.Mutex
	infos map[string]model.MarketInfo
	err   error
	delay time.Duration
	hits  int
}

func (f *fakeMarkets) GetMarket(_ context.Context, marketID string) (model.MarketInfo, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits++
	if f.err != nil {
		return model.MarketInfo{}, f.err
	}
	info, ok := f.infos[marketID]
	if !ok {
		return model.MarketInfo{}, errors.New("market not found")
	}
	return info, nil
}

func (f *fakeMarkets) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeMarkets) hitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []model.MarketEvent
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event model.MarketEvent) {
	d.mu.Lock()
	d.events = append(d.events, event)
	d.mu.Unlock()
}

func (d *recordingDispatcher) dispatched() []model.MarketEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.MarketEvent(nil), d.events...)
}

type testEnv struct {
	chain      *fakeChain
	markets    *fakeMarkets
	ledger     *Ledger
	feed       *feed.Store
	dispatcher *recordingDispatcher
	engine     *Engine
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	env := &testEnv{
		chain: &fakeChain{},
		markets: &fakeMarkets{infos: map[string]model.MarketInfo{
			"1": {ID: "1", Title: "Will BTC close above 100k?", OptionA: "Above", OptionB: "Below"},
			"2": {ID: "2", Title: "Rain in Lisbon tomorrow?", OptionA: "Yes", OptionB: "No"},
		}},
		ledger:     NewLedger(),
		feed:       feed.NewStore(feed.DefaultSize, nil),
		dispatcher: &recordingDispatcher{},
	}
	env.engine = env.newEngine(t, cfg)
	return env
}

// newEngine builds another engine sharing the env's ledger, feed and chain.
func (env *testEnv) newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	cfg.Contract = testContract
	if cfg.Retry.Backoff == 0 {
		cfg.Retry.Backoff = time.Millisecond
	}
	engine, err := NewEngine(cfg, Deps{
		Chain:       env.chain,
		Markets:     env.markets,
		Ledger:      env.ledger,
		MarketCache: market.NewInfoCache(),
		Feed:        env.feed,
		Dispatcher:  env.dispatcher,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func betLog(t *testing.T, block uint64, index uint, marketID int64, amount int64) types.Log {
	t.Helper()
	contractABI, err := market.PredictionMarketABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	event := contractABI.Events["BetPlaced"]
	data, err := event.Inputs.NonIndexed().Pack(uint8(0), big.NewInt(amount), big.NewInt(amount))
	if err != nil {
		t.Fatalf("pack bet: %v", err)
	}
	return buildLog(event.ID, data, block, index, common.BigToHash(big.NewInt(marketID)), common.BytesToHash(testUser.Bytes()))
}

func timestampedBetLog(t *testing.T, block uint64, index uint, marketID int64, ts int64) types.Log {
	t.Helper()
	contractABI, err := market.PredictionMarketABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	event := contractABI.Events["BetPlaced0"]
	data, err := event.Inputs.NonIndexed().Pack(uint8(1), big.NewInt(10), big.NewInt(10), big.NewInt(ts))
	if err != nil {
		t.Fatalf("pack bet: %v", err)
	}
	return buildLog(event.ID, data, block, index, common.BigToHash(big.NewInt(marketID)), common.BytesToHash(testUser.Bytes()))
}

func createdLog(t *testing.T, block uint64, index uint, marketID int64, title string) types.Log {
	t.Helper()
	contractABI, err := market.PredictionMarketABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	event := contractABI.Events["MarketCreated"]
	data, err := event.Inputs.NonIndexed().Pack(title)
	if err != nil {
		t.Fatalf("pack created: %v", err)
	}
	return buildLog(event.ID, data, block, index, common.BigToHash(big.NewInt(marketID)), common.BytesToHash(testCreator.Bytes()))
}

func resolvedLog(t *testing.T, block uint64, index uint, marketID int64, outcome uint8) types.Log {
	t.Helper()
	contractABI, err := market.PredictionMarketABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	event := contractABI.Events["MarketResolved"]
	data, err := event.Inputs.NonIndexed().Pack(outcome)
	if err != nil {
		t.Fatalf("pack resolved: %v", err)
	}
	return buildLog(event.ID, data, block, index, common.BigToHash(big.NewInt(marketID)), common.BytesToHash(testCreator.Bytes()))
}

func buildLog(topic0 common.Hash, data []byte, block uint64, index uint, indexed ...common.Hash) types.Log {
	return types.Log{
		Address:     testContract,
		Topics:      append([]common.Hash{topic0}, indexed...),
		Data:        data,
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(index))),
	}
}

func eventIDs(events []model.MarketEvent) []string {
	ids := make([]string, 0, len(events))
	for _, event := range events {
		ids = append(ids, event.ID)
	}
	return ids
}
