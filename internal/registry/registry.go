// Package registry implements the market registry (component C): the set
// of currently tracked markets and their discovered->active->expired+grace
// ->removed lifecycle. The registry owns no prices; it only iterates.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/sdibella/scalp-engine/internal/model"
)

// Grace is the window past end_time a market stays evaluable before prune
// removes it.
const Grace = 600 * time.Second

// Registry holds registered markets keyed by id.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]model.Market
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{markets: make(map[string]model.Market)}
}

// Register adds a market. A market whose end_time is already in the past
// at discovery is rejected (clock-vs-market mismatch).
func (r *Registry) Register(m model.Market, now time.Time) error {
	if !m.EndTime.After(now) {
		return fmt.Errorf("registry: market %s end_time %s is already past at discovery", m.ID, m.EndTime)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.markets[m.ID] = m
	return nil
}

// ForEachActive invokes fn for every registered market, in no particular
// order. "Active" here means registered and not yet pruned; callers
// combine this with the order-book mirror to determine whether both
// tokens have a valid best ask.
func (r *Registry) ForEachActive(fn func(model.Market)) {
	r.mu.RLock()
	snapshot := make([]model.Market, 0, len(r.markets))
	for _, m := range r.markets {
		snapshot = append(snapshot, m)
	}
	r.mu.RUnlock()

	for _, m := range snapshot {
		fn(m)
	}
}

// Get returns the market for id, if registered.
func (r *Registry) Get(id string) (model.Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[id]
	return m, ok
}

// Prune removes markets where now > end_time + grace, returning their ids
// so callers can discard associated ledger/exit-coordinator state.
func (r *Registry) Prune(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, m := range r.markets {
		if now.After(m.EndTime.Add(Grace)) {
			removed = append(removed, id)
			delete(r.markets, id)
		}
	}
	return removed
}

// Count returns the number of currently registered markets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}
