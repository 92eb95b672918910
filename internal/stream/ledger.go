package stream

import "sync"

// Ledger is the set of event ids already observed by this process.
// One Ledger is shared by every engine so a restarted subscription never
// re-announces an event. Entries are never removed.
type Ledger struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewLedger() *Ledger {
	return &Ledger{ids: make(map[string]struct{})}
}

func (l *Ledger) Seen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.ids[id]
	return ok
}

func (l *Ledger) Mark(id string) {
	l.mu.Lock()
	l.ids[id] = struct{}{}
	l.mu.Unlock()
}

// ObserveIfNew marks id and reports whether it was absent before.
func (l *Ledger) ObserveIfNew(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ids[id]; ok {
		return false
	}
	l.ids[id] = struct{}{}
	return true
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

// Reset forgets every id.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.ids = make(map[string]struct{})
	l.mu.Unlock()
}
