// Package feed keeps the bounded, newest-first event feeds served to consumers.
package feed

import (
	"sort"
	"sync"

	"github.com/enliven17/somnia-predict/internal/metrics"
	"github.com/enliven17/somnia-predict/internal/model"
)

const (
	// DefaultSize is the number of events kept per scope.
	DefaultSize = 50
	// DefaultSubscriberBuffer is the channel capacity of a Subscription.
	DefaultSubscriberBuffer = 64
)

// Subscription delivers events inserted into one scope after it was created.
// Events are dropped when the consumer falls behind.
type Subscription struct {
	C <-chan model.MarketEvent

	ch    chan model.MarketEvent
	scope string
	store *Store
	once  sync.Once
}

// Scope returns the subscribed scope.
func (s *Subscription) Scope() string {
	return s.scope
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.store.unsubscribe(s)
	})
}

// Store holds one feed per scope: the global feed plus each tracked market.
type Store struct {
	mu      sync.RWMutex
	size    int
	feeds   map[string][]model.MarketEvent
	subs    map[string]map[*Subscription]struct{}
	metrics *metrics.Metrics
}

// NewStore builds a Store that keeps at most size events per scope.
func NewStore(size int, m *metrics.Metrics) *Store {
	if size <= 0 {
		size = DefaultSize
	}
	return &Store{
		size:    size,
		feeds:   map[string][]model.MarketEvent{model.UnscopedMarket: nil},
		subs:    make(map[string]map[*Subscription]struct{}),
		metrics: m,
	}
}

// Track creates the feed for a market scope, seeded from the global feed.
func (s *Store) Track(scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackLocked(scope)
}

func (s *Store) trackLocked(scope string) {
	if scope == "" {
		scope = model.UnscopedMarket
	}
	if _, ok := s.feeds[scope]; ok {
		return
	}
	seeded := make([]model.MarketEvent, 0)
	for _, event := range s.feeds[model.UnscopedMarket] {
		if event.MarketID == scope {
			seeded = append(seeded, event)
		}
	}
	s.feeds[scope] = seeded
}

// Insert merges newly observed events into the global feed and their market feed.
func (s *Store) Insert(events []model.MarketEvent) {
	if len(events) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	global, added := merge(s.feeds[model.UnscopedMarket], events, s.size)
	s.feeds[model.UnscopedMarket] = global
	s.deliverLocked(model.UnscopedMarket, added)

	byMarket := make(map[string][]model.MarketEvent)
	for _, event := range events {
		if event.MarketID == model.UnscopedMarket {
			continue
		}
		if _, ok := s.feeds[event.MarketID]; !ok {
			continue
		}
		byMarket[event.MarketID] = append(byMarket[event.MarketID], event)
	}
	for scope, scoped := range byMarket {
		merged, scopedAdded := merge(s.feeds[scope], scoped, s.size)
		s.feeds[scope] = merged
		s.deliverLocked(scope, scopedAdded)
	}
}

// Snapshot returns a copy of the scope's feed, newest first.
func (s *Store) Snapshot(scope string) []model.MarketEvent {
	if scope == "" {
		scope = model.UnscopedMarket
	}

	s.mu.RLock()
	events, ok := s.feeds[scope]
	if ok {
		out := append([]model.MarketEvent(nil), events...)
		s.mu.RUnlock()
		return out
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackLocked(scope)
	return append([]model.MarketEvent(nil), s.feeds[scope]...)
}

// Subscribe tracks the scope and returns a Subscription for its new events.
func (s *Store) Subscribe(scope string, buffer int) *Subscription {
	if scope == "" {
		scope = model.UnscopedMarket
	}
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	ch := make(chan model.MarketEvent, buffer)
	sub := &Subscription{C: ch, ch: ch, scope: scope, store: s}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackLocked(scope)
	if s.subs[scope] == nil {
		s.subs[scope] = make(map[*Subscription]struct{})
	}
	s.subs[scope][sub] = struct{}{}
	return sub
}

func (s *Store) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subs, ok := s.subs[sub.scope]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(s.subs, sub.scope)
		}
	}
	close(sub.ch)
}

func (s *Store) deliverLocked(scope string, events []model.MarketEvent) {
	subs := s.subs[scope]
	if len(subs) == 0 {
		return
	}
	// Oldest first, matching the order events were discovered.
	for i := len(events) - 1; i >= 0; i-- {
		for sub := range subs {
			select {
			case sub.ch <- events[i]:
			default:
				s.metrics.ObserveFeedDrop(scope)
			}
		}
	}
}

// merge adds incoming events not already present, sorts newest first and
// truncates to size. It returns the merged feed and the added events that
// survived truncation.
func merge(existing, incoming []model.MarketEvent, size int) ([]model.MarketEvent, []model.MarketEvent) {
	ids := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]model.MarketEvent, 0, len(existing)+len(incoming))
	for _, event := range existing {
		ids[event.ID] = struct{}{}
		out = append(out, event)
	}

	fresh := make(map[string]struct{}, len(incoming))
	for _, event := range incoming {
		if _, ok := ids[event.ID]; ok {
			continue
		}
		ids[event.ID] = struct{}{}
		fresh[event.ID] = struct{}{}
		out = append(out, event)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return model.Less(out[i], out[j])
	})
	if len(out) > size {
		out = out[:size]
	}

	added := make([]model.MarketEvent, 0, len(fresh))
	for _, event := range out {
		if _, ok := fresh[event.ID]; ok {
			added = append(added, event)
		}
	}
	return out, added
}
