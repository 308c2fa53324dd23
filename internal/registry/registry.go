// Package registry holds the canonical in-memory state of all tracked stations.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/andygrunwald/fuel-price-watcher/internal/models"
	"github.com/andygrunwald/fuel-price-watcher/internal/variance"
)

// UnknownStationError is returned when a price references a station that was never ensured.
type UnknownStationError struct {
	Code int
}

func (e *UnknownStationError) Error() string {
	return fmt.Sprintf("unknown station %d", e.Code)
}

// Registry is the single mutable source of truth for stations and their fuel entries.
// Stations and entries are only ever added or updated, never removed.
type Registry struct {
	mu       sync.RWMutex
	stations map[int]*models.Station
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		stations: make(map[int]*models.Station),
	}
}

// EnsureStation inserts the station if it is not tracked yet and returns a copy of it.
// Metadata of an already tracked station is left untouched.
func (r *Registry) EnsureStation(code int, metadata models.StationMetadata) models.Station {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.stations[code]
	if !ok {
		st = &models.Station{
			Code:        code,
			Metadata:    metadata,
			FuelEntries: make(map[string]models.FuelEntry),
		}
		r.stations[code] = st
	}
	return st.Clone()
}

// ApplyPrice records an observed price and reports whether it changed the entry.
//
// The first observation of a fuel type creates the entry without counting as a change.
// Re-observing the current price is a no-op.
func (r *Registry) ApplyPrice(code int, fuelType string, price decimal.Decimal, observedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.stations[code]
	if !ok {
		return false, &UnknownStationError{Code: code}
	}

	entry, seen := st.FuelEntries[fuelType]
	if !seen {
		st.FuelEntries[fuelType] = models.FuelEntry{
			PriceOld:      price,
			PriceNew:      price,
			LastUpdated:   observedAt,
			Variance:      decimal.Zero,
			VarianceClass: models.VarianceUnchanged,
		}
		return false, nil
	}

	if entry.PriceNew.Equal(price) {
		return false, nil
	}

	entry.PriceOld = entry.PriceNew
	entry.PriceNew = price
	entry.LastUpdated = observedAt
	entry.Variance, entry.VarianceClass = variance.Classify(entry.PriceOld, entry.PriceNew)
	st.FuelEntries[fuelType] = entry
	st.LastUpdatedFlag = true
	return true, nil
}

// ResetUpdatedFlags clears the updated flag of every station.
func (r *Registry) ResetUpdatedFlags() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.stations {
		st.LastUpdatedFlag = false
	}
}

// Updated returns deep copies of all stations flagged as updated.
func (r *Registry) Updated() models.ChangeSet {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cs := make(models.ChangeSet)
	for code, st := range r.stations {
		if st.LastUpdatedFlag {
			cs[code] = st.Clone()
		}
	}
	return cs
}

// CurrentState returns a deep copy of all tracked stations.
func (r *Registry) CurrentState() map[int]models.Station {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state := make(map[int]models.Station, len(r.stations))
	for code, st := range r.stations {
		state[code] = st.Clone()
	}
	return state
}

// Station returns a copy of a single station.
func (r *Registry) Station(code int) (models.Station, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.stations[code]
	if !ok {
		return models.Station{}, false
	}
	return st.Clone(), true
}

// Codes returns the tracked station codes in ascending order.
func (r *Registry) Codes() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	codes := make([]int, 0, len(r.stations))
	for code := range r.stations {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

// Len returns the number of tracked stations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stations)
}
