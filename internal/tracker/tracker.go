// Package tracker decides whether a change set warrants a notification.
package tracker

import (
	"maps"
	"sync"

	"github.com/andygrunwald/fuel-price-watcher/internal/models"
)

// Fingerprint is the resulting price state of a change set: station code -> fuel type -> new price.
type Fingerprint map[int]map[string]string

// Equal reports whether both fingerprints describe the same prices.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return maps.EqualFunc(f, other, func(a, b map[string]string) bool {
		return maps.Equal(a, b)
	})
}

// NewFingerprint computes the fingerprint of a change set.
// Prices are compared in canonical decimal form so 150.9 and 150.90 are the same.
func NewFingerprint(cs models.ChangeSet) Fingerprint {
	fp := make(Fingerprint, len(cs))
	for code, st := range cs {
		prices := make(map[string]string, len(st.FuelEntries))
		for fuel, e := range st.FuelEntries {
			prices[fuel] = e.PriceNew.String()
		}
		fp[code] = prices
	}
	return fp
}

// Tracker remembers the fingerprint of the last dispatched change set.
type Tracker struct {
	mu   sync.Mutex
	last Fingerprint
}

// New creates a Tracker that has not dispatched anything yet.
func New() *Tracker {
	return &Tracker{}
}

// ShouldNotify returns true if cs is non-empty and differs from the last dispatched change set.
func (t *Tracker) ShouldNotify(cs models.ChangeSet) bool {
	if len(cs) == 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return true
	}
	return !NewFingerprint(cs).Equal(t.last)
}

// MarkDispatched records cs as the last successfully dispatched change set.
func (t *Tracker) MarkDispatched(cs models.ChangeSet) {
	fp := NewFingerprint(cs)
	t.mu.Lock()
	t.last = fp
	t.mu.Unlock()
}

// Last returns a copy of the last dispatched fingerprint, or nil.
func (t *Tracker) Last() Fingerprint {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return nil
	}
	out := make(Fingerprint, len(t.last))
	for code, prices := range t.last {
		out[code] = maps.Clone(prices)
	}
	return out
}
