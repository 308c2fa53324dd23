// Package reconciler merges provider snapshots into the station registry.
package reconciler

import (
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/andygrunwald/fuel-price-watcher/internal/models"
	"github.com/andygrunwald/fuel-price-watcher/internal/registry"
	"github.com/andygrunwald/fuel-price-watcher/internal/variance"
)

// timestampLayouts are the provider timestamp formats, tried in order.
var timestampLayouts = []string{
	"02/01/2006 15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Stats counts what happened to the records of one snapshot.
type Stats struct {
	StationsSeen          int
	StationsEnsured       int
	PricesSeen            int
	PricesApplied         int
	PricesChanged         int
	SkippedFiltered       int
	SkippedUnknownStation int
	SkippedMalformed      int
}

// Skipped returns the number of whitelisted price records that were not applied.
func (s Stats) Skipped() int {
	return s.SkippedUnknownStation + s.SkippedMalformed
}

// Reconciler applies whitelisted snapshot records to a registry.
type Reconciler struct {
	registry *registry.Registry
	stations map[int]struct{}
	fuels    map[string]struct{}
	location *time.Location
	now      func() time.Time
	logger   zerolog.Logger
}

// New creates a Reconciler. Provider timestamps without zone information are read in loc.
func New(reg *registry.Registry, stationWhitelist []int, fuelTypeWhitelist []string, loc *time.Location, logger zerolog.Logger) *Reconciler {
	if loc == nil {
		loc = time.UTC
	}
	stations := make(map[int]struct{}, len(stationWhitelist))
	for _, c := range stationWhitelist {
		stations[c] = struct{}{}
	}
	fuels := make(map[string]struct{}, len(fuelTypeWhitelist))
	for _, f := range fuelTypeWhitelist {
		fuels[strings.ToUpper(strings.TrimSpace(f))] = struct{}{}
	}
	return &Reconciler{
		registry: reg,
		stations: stations,
		fuels:    fuels,
		location: loc,
		now:      time.Now,
		logger:   logger.With().Str("component", "reconciler").Logger(),
	}
}

// Reconcile merges the snapshot into the registry and returns the stations that changed.
// Individual bad records are skipped and never abort the whole snapshot.
func (r *Reconciler) Reconcile(snapshot models.Snapshot) (models.ChangeSet, Stats) {
	var stats Stats
	pollTime := r.now().UTC()

	r.registry.ResetUpdatedFlags()

	for _, st := range snapshot.Stations {
		stats.StationsSeen++
		if !r.stationAllowed(st.Code) {
			continue
		}
		r.registry.EnsureStation(st.Code, st.Metadata)
		stats.StationsEnsured++
	}

	for _, p := range snapshot.Prices {
		stats.PricesSeen++
		fuelType := strings.ToUpper(strings.TrimSpace(p.FuelType))
		if !r.stationAllowed(p.StationCode) || !r.fuelAllowed(fuelType) {
			stats.SkippedFiltered++
			continue
		}

		price, err := variance.ParsePrice(p.Price)
		if err != nil {
			stats.SkippedMalformed++
			r.logger.Warn().
				Err(err).
				Int("station", p.StationCode).
				Str("fuel_type", fuelType).
				Msg("skipping malformed price")
			continue
		}

		observedAt := r.normalizeTimestamp(p.LastUpdated, pollTime)

		changed, err := r.registry.ApplyPrice(p.StationCode, fuelType, price, observedAt)
		if err != nil {
			var use *registry.UnknownStationError
			if errors.As(err, &use) {
				stats.SkippedUnknownStation++
				r.logger.Warn().
					Int("station", p.StationCode).
					Str("fuel_type", fuelType).
					Msg("skipping price for unknown station")
				continue
			}
			r.logger.Error().Err(err).Int("station", p.StationCode).Msg("failed to apply price")
			continue
		}

		stats.PricesApplied++
		if changed {
			stats.PricesChanged++
			r.logger.Debug().
				Int("station", p.StationCode).
				Str("fuel_type", fuelType).
				Str("price", price.String()).
				Msg("price changed")
		}
	}

	cs := r.registry.Updated()

	r.logger.Debug().
		Str("mode", string(snapshot.Mode)).
		Int("stations_seen", stats.StationsSeen).
		Int("prices_seen", stats.PricesSeen).
		Int("prices_applied", stats.PricesApplied).
		Int("changed_stations", len(cs)).
		Msg("snapshot reconciled")

	return cs, stats
}

func (r *Reconciler) stationAllowed(code int) bool {
	_, ok := r.stations[code]
	return ok
}

func (r *Reconciler) fuelAllowed(fuelType string) bool {
	_, ok := r.fuels[fuelType]
	return ok
}

// normalizeTimestamp parses a provider timestamp and converts it to UTC.
// Unparsable values fall back to the poll time.
func (r *Reconciler) normalizeTimestamp(raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, raw, r.location); err == nil {
			return t.UTC()
		}
	}
	r.logger.Debug().Str("timestamp", raw).Msg("unparsable timestamp, using poll time")
	return fallback
}
