package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/enliven17/somnia-predict/internal/feed"
	"github.com/enliven17/somnia-predict/internal/metrics"
	"github.com/enliven17/somnia-predict/internal/model"
	"github.com/enliven17/somnia-predict/internal/notify"
	"github.com/enliven17/somnia-predict/internal/stream"
)

type fakeEngine struct {
	mu      sync.Mutex
	status  stream.Status
	events  map[string][]model.MarketEvent
	loads   int
	loadErr error
}

func (f *fakeEngine) Status() stream.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeEngine) Events(scope string) []model.MarketEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[scope]
}

func (f *fakeEngine) LoadHistory(context.Context) (stream.HistoryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return stream.HistoryResult{}, f.loadErr
}

func (f *fakeEngine) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

func newTestServer(t *testing.T, engine *fakeEngine) (*Server, *httptest.Server, *feed.LiveStats) {
	t.Helper()
	return newTestServerWithStats(t, engine, feed.NewLiveStats(nil))
}

func newTestServerWithStats(t *testing.T, engine *fakeEngine, stats *feed.LiveStats) (*Server, *httptest.Server, *feed.LiveStats) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics.New(reg)
	server := NewServer(":0", engine, stats, NewHub(nil), reg, nil)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(func() {
		server.hub.Close()
		ts.Close()
	})
	return server, ts, stats
}

func TestHealthAndStatus(t *testing.T) {
	engine := &fakeEngine{status: stream.Status{IsStreaming: true, IsConnected: true, LastCheckedBlock: 42, SeenEvents: 3}}
	_, ts, _ := newTestServer(t, engine)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, true, body["isStreaming"])
	require.Equal(t, true, body["isConnected"])
	require.Equal(t, false, body["isLoadingHistory"])
	require.Equal(t, float64(42), body["lastCheckedBlock"])
	require.Equal(t, float64(3), body["seenEvents"])
}

func TestEventsScope(t *testing.T) {
	engine := &fakeEngine{events: map[string][]model.MarketEvent{
		model.UnscopedMarket: {{ID: "a", MarketID: "1"}, {ID: "b", MarketID: "2"}},
		"2":                  {{ID: "b", MarketID: "2"}},
	}}
	_, ts, _ := newTestServer(t, engine)

	for scope, want := range map[string]int{"": 2, "2": 1} {
		resp, err := http.Get(ts.URL + "/events?market=" + scope)
		require.NoError(t, err)
		var body eventsResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()
		require.Len(t, body.Events, want, "scope %q", scope)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	engine := &fakeEngine{status: stream.Status{IsConnected: false}}
	_, ts, _ := newTestServer(t, engine)

	resp, err := http.Post(ts.URL+"/history", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	engine.mu.Lock()
	engine.status = stream.Status{IsConnected: true, IsLoadingHistory: true}
	engine.mu.Unlock()
	resp, err = http.Post(ts.URL+"/history", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	engine.mu.Lock()
	engine.status = stream.Status{IsConnected: true}
	engine.mu.Unlock()
	resp, err = http.Post(ts.URL+"/history", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool { return engine.loadCount() == 1 }, time.Second, time.Millisecond)
}

func TestMarketStatsAndMetrics(t *testing.T) {
	engine := &fakeEngine{}
	_, ts, stats := newTestServer(t, engine)
	option := uint8(0)
	stats.Observe(model.MarketEvent{
		Type:     model.EventBetPlaced,
		MarketID: "7",
		Source:   model.SourceLive,
		Data:     model.EventData{Option: &option, Amount: "3000000000000000000"},
	})

	resp, err := http.Get(ts.URL + "/markets/7/stats")
	require.NoError(t, err)
	var body feed.MarketStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	require.Equal(t, "7", body.MarketID)
	require.Equal(t, uint64(1), body.BetCount)
	require.Equal(t, "3.00", body.Volume)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func getStats(t *testing.T, ts *httptest.Server, marketID string) feed.MarketStats {
	t.Helper()
	resp, err := http.Get(ts.URL + "/markets/" + marketID + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body feed.MarketStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestMarketStatsSeededOnFirstLookup(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}
	seeder := feed.SeederFunc(func(_ context.Context, marketID string) (uint64, decimal.Decimal, error) {
		mu.Lock()
		defer mu.Unlock()
		calls[marketID]++
		if marketID == "9" && calls[marketID] == 1 {
			return 0, decimal.Zero, errors.New("archive unavailable")
		}
		return 4, decimal.RequireFromString("10000000000000000000"), nil
	})
	_, ts, stats := newTestServerWithStats(t, &fakeEngine{}, feed.NewLiveStats(seeder))

	option := uint8(1)
	stats.Observe(model.MarketEvent{
		Type:     model.EventBetPlaced,
		MarketID: "7",
		Source:   model.SourceLive,
		Data:     model.EventData{Option: &option, Amount: "2000000000000000000"},
	})

	body := getStats(t, ts, "7")
	require.True(t, body.Seeded)
	require.Equal(t, uint64(5), body.BetCount)
	require.Equal(t, "12.00", body.Volume)
	getStats(t, ts, "7")

	failed := getStats(t, ts, "9")
	require.False(t, failed.Seeded)
	require.Equal(t, uint64(0), failed.BetCount)
	retried := getStats(t, ts, "9")
	require.True(t, retried.Seeded)
	require.Equal(t, "10.00", retried.Volume)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls["7"])
	require.Equal(t, 2, calls["9"])
}

func dial(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var greeting Message
	require.NoError(t, conn.ReadJSON(&greeting))
	require.Equal(t, FrameHello, greeting.Type)
	return conn
}

func TestWebSocketFrames(t *testing.T) {
	server, ts, _ := newTestServer(t, &fakeEngine{})
	all := dial(t, ts, "")
	scoped := dial(t, ts, "?market=2")
	require.Eventually(t, func() bool { return server.hub.ClientCount() == 2 }, time.Second, time.Millisecond)

	server.hub.BroadcastEvent(model.MarketEvent{ID: "x", MarketID: "1"})
	server.hub.BroadcastEvent(model.MarketEvent{ID: "y", MarketID: "2"})
	require.NoError(t, server.hub.Send(context.Background(), notify.Notification{Title: "New Bet", MarketID: "2"}))

	var msg Message
	require.NoError(t, all.ReadJSON(&msg))
	require.Equal(t, FrameEvent, msg.Type)
	var event model.MarketEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &event))
	require.Equal(t, "x", event.ID)

	require.NoError(t, scoped.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, scoped.ReadJSON(&msg))
	require.Equal(t, FrameEvent, msg.Type)
	require.NoError(t, json.Unmarshal(msg.Payload, &event))
	require.Equal(t, "y", event.ID, "scoped client only receives its market")

	require.NoError(t, scoped.ReadJSON(&msg))
	require.Equal(t, FrameNotification, msg.Type)
	var n notify.Notification
	require.NoError(t, json.Unmarshal(msg.Payload, &n))
	require.Equal(t, "New Bet", n.Title)
}

func TestHubRunForwardsFeed(t *testing.T) {
	server, ts, _ := newTestServer(t, &fakeEngine{})
	conn := dial(t, ts, "")
	require.Eventually(t, func() bool { return server.hub.ClientCount() == 1 }, time.Second, time.Millisecond)

	store := feed.NewStore(10, nil)
	sub := store.Subscribe(model.UnscopedMarket, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.hub.Run(ctx, sub)

	store.Insert([]model.MarketEvent{{ID: "z", MarketID: "9"}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, FrameEvent, msg.Type)
}
