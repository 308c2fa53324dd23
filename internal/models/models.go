// Package models provides shared data types for the fuel price watcher.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// VarianceClass classifies the direction of a price change.
type VarianceClass string

const (
	// VarianceUnchanged means the price did not move.
	VarianceUnchanged VarianceClass = "unchanged"
	// VarianceIncrease means the price went up.
	VarianceIncrease VarianceClass = "increase"
	// VarianceDecrease means the price went down.
	VarianceDecrease VarianceClass = "decrease"
)

// SnapshotMode selects which provider snapshot a poll fetches.
type SnapshotMode string

const (
	// SnapshotFull is the complete list of stations and prices.
	SnapshotFull SnapshotMode = "full"
	// SnapshotIncremental contains only records changed since the last provider call.
	SnapshotIncremental SnapshotMode = "incremental"
)

// StationMetadata holds the provider-supplied descriptive fields of a station.
// It is passed through unchanged.
type StationMetadata struct {
	Name      string  `json:"name"`
	Brand     string  `json:"brand"`
	Address   string  `json:"address"`
	BrandID   string  `json:"brand_id,omitempty"`
	StationID string  `json:"station_id,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// FuelEntry is the price history of one fuel type at one station.
type FuelEntry struct {
	// PriceOld is the price the current variance was computed against.
	PriceOld decimal.Decimal `json:"price_old"`
	// PriceNew is the most recently observed price.
	PriceNew decimal.Decimal `json:"price_new"`
	// LastUpdated is when PriceNew was observed, in UTC.
	LastUpdated time.Time `json:"last_updated"`
	// Variance is PriceNew - PriceOld rounded to two decimal places.
	Variance      decimal.Decimal `json:"variance"`
	VarianceClass VarianceClass   `json:"variance_class"`
}

// Station is one tracked fuel outlet.
type Station struct {
	Code        int                  `json:"code"`
	Metadata    StationMetadata      `json:"metadata"`
	FuelEntries map[string]FuelEntry `json:"fuel_entries"`
	// LastUpdatedFlag is true if at least one fuel entry changed in the most recent poll.
	LastUpdatedFlag bool `json:"last_updated_flag"`
}

// Clone returns a deep copy of the station.
func (s Station) Clone() Station {
	entries := make(map[string]FuelEntry, len(s.FuelEntries))
	for k, v := range s.FuelEntries {
		entries[k] = v
	}
	s.FuelEntries = entries
	return s
}

// ChangeSet maps station codes to the state of every station that changed during one poll.
// It is created per poll and must not be retained beyond it.
type ChangeSet map[int]Station

// StationRecord is a station as reported by the provider.
type StationRecord struct {
	Code     int
	Metadata StationMetadata
}

// PriceRecord is a single price as reported by the provider.
type PriceRecord struct {
	StationCode int
	FuelType    string
	// Price is the raw provider value. Parsing is left to the reconciler.
	Price string
	// LastUpdated is the raw provider timestamp.
	LastUpdated string
}

// Snapshot is one batch of station and price records fetched from the provider.
type Snapshot struct {
	Mode      SnapshotMode
	Stations  []StationRecord
	Prices    []PriceRecord
	FetchedAt time.Time
}

// PollResult summarises a completed poll cycle.
type PollResult struct {
	Mode            SnapshotMode  `json:"mode"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	StationsSeen    int           `json:"stations_seen"`
	PricesSeen      int           `json:"prices_seen"`
	PricesApplied   int           `json:"prices_applied"`
	PricesSkipped   int           `json:"prices_skipped"`
	ChangedStations int           `json:"changed_stations"`
	Notified        bool          `json:"notified"`
}

// WatcherStatus holds the operational status of the poll cycle.
type WatcherStatus struct {
	Provider           string     `json:"provider"`
	LastPollAt         *time.Time `json:"last_poll_at"`
	LastPollMode       string     `json:"last_poll_mode,omitempty"`
	LastPollSuccess    bool       `json:"last_poll_success"`
	LastResponseTimeMs int64      `json:"last_response_time_ms"`
	LastError          *string    `json:"last_error"`
	LastChangeSetSize  int        `json:"last_change_set_size"`
	TotalPolls         int64      `json:"total_polls"`
	TotalErrors        int64      `json:"total_errors"`
	TotalNotifications int64      `json:"total_notifications"`
	NotifyErrors       int64      `json:"notify_errors"`
	StationsTracked    int        `json:"stations_tracked"`
}

// StatusResponse is the response for the /status endpoint.
type StatusResponse struct {
	Status              string         `json:"status"`
	UptimeSeconds       int64          `json:"uptime_seconds"`
	SchedulerRunning    bool           `json:"scheduler_running"`
	SchedulerState      string         `json:"scheduler_state"`
	NextPollAt          *time.Time     `json:"next_poll_at,omitempty"`
	LastScheduledPollAt *time.Time     `json:"last_scheduled_poll_at,omitempty"`
	Watcher             WatcherStatus  `json:"watcher"`
	Database            DatabaseStatus `json:"database"`
}

// DatabaseStatus holds the change outbox connection status.
type DatabaseStatus struct {
	Enabled            bool  `json:"enabled"`
	Connected          bool  `json:"connected"`
	TotalChangesStored int64 `json:"total_changes_stored"`
}

// PriceChange is a stored change outbox row.
type PriceChange struct {
	ID            uint64
	NotifiedAt    time.Time
	StationCode   int
	StationName   string
	FuelType      string
	PriceOld      decimal.Decimal
	PriceNew      decimal.Decimal
	Variance      decimal.Decimal
	VarianceClass VarianceClass
	LastUpdated   time.Time
}
