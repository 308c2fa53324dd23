// Package watcher runs one poll cycle: fetch a snapshot, reconcile it into the
// registry and hand novel change sets to the notifier.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/andygrunwald/fuel-price-watcher/internal/api"
	"github.com/andygrunwald/fuel-price-watcher/internal/models"
	"github.com/andygrunwald/fuel-price-watcher/internal/notify"
	"github.com/andygrunwald/fuel-price-watcher/internal/reconciler"
	"github.com/andygrunwald/fuel-price-watcher/internal/registry"
	"github.com/andygrunwald/fuel-price-watcher/internal/tracker"
)

// FetchError is returned when the provider snapshot could not be fetched.
// The registry and tracker are untouched when it occurs.
type FetchError struct {
	Provider string
	Mode     models.SnapshotMode
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s snapshot from %s: %v", e.Mode, e.Provider, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// MetricsRecorder receives poll metrics. The Prometheus metrics of the HTTP server implement it.
type MetricsRecorder interface {
	RecordPoll(mode, status string, duration time.Duration)
	RecordLastPoll(t time.Time)
	RecordChangeSet(size int)
	RecordSkipped(reason string, count int)
	RecordPrice(stationCode int, fuelType string, price, variance float64)
	RecordStationsTracked(count int)
}

// Metrics holds poll metrics.
type Metrics struct {
	mu                 sync.RWMutex
	TotalPolls         int64
	TotalErrors        int64
	TotalNotifications int64
	NotifyErrors       int64
	LastPollAt         *time.Time
	LastSuccessAt      *time.Time
	LastPollMode       models.SnapshotMode
	LastPollSuccess    bool
	LastResponseTime   time.Duration
	LastChangeSetSize  int
	LastError          *string
}

// GetSnapshot returns a thread-safe snapshot of the metrics.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MetricsSnapshot{
		TotalPolls:         m.TotalPolls,
		TotalErrors:        m.TotalErrors,
		TotalNotifications: m.TotalNotifications,
		NotifyErrors:       m.NotifyErrors,
		LastPollAt:         m.LastPollAt,
		LastSuccessAt:      m.LastSuccessAt,
		LastPollMode:       m.LastPollMode,
		LastPollSuccess:    m.LastPollSuccess,
		LastResponseTime:   m.LastResponseTime,
		LastChangeSetSize:  m.LastChangeSetSize,
		LastError:          m.LastError,
	}
}

// MetricsSnapshot is a thread-safe copy of Metrics data.
type MetricsSnapshot struct {
	TotalPolls         int64
	TotalErrors        int64
	TotalNotifications int64
	NotifyErrors       int64
	LastPollAt         *time.Time
	LastSuccessAt      *time.Time
	LastPollMode       models.SnapshotMode
	LastPollSuccess    bool
	LastResponseTime   time.Duration
	LastChangeSetSize  int
	LastError          *string
}

// Watcher orchestrates poll cycles. Polls are serialized.
type Watcher struct {
	provider   api.Provider
	reconciler *reconciler.Reconciler
	tracker    *tracker.Tracker
	notifier   notify.Notifier
	registry   *registry.Registry
	metrics    *Metrics
	recorder   MetricsRecorder
	logger     zerolog.Logger
	now        func() time.Time

	pollMu sync.Mutex
}

// New creates a new Watcher.
func New(provider api.Provider, rec *reconciler.Reconciler, trk *tracker.Tracker, notifier notify.Notifier, reg *registry.Registry, logger zerolog.Logger) *Watcher {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Watcher{
		provider:   provider,
		reconciler: rec,
		tracker:    trk,
		notifier:   notifier,
		registry:   reg,
		metrics:    &Metrics{},
		logger:     logger.With().Str("component", "watcher").Logger(),
		now:        time.Now,
	}
}

// SetMetricsRecorder sets the recorder that receives poll metrics.
func (w *Watcher) SetMetricsRecorder(r MetricsRecorder) {
	w.recorder = r
}

// GetMetrics returns the poll metrics.
func (w *Watcher) GetMetrics() *Metrics {
	return w.metrics
}

// ProviderName returns the name of the configured provider.
func (w *Watcher) ProviderName() string {
	return w.provider.Name()
}

// CurrentState returns a copy of every tracked station.
func (w *Watcher) CurrentState() map[int]models.Station {
	return w.registry.CurrentState()
}

// LastPollTimestamp returns when the last successful poll finished. It is zero before the first one.
func (w *Watcher) LastPollTimestamp() time.Time {
	m := w.metrics.GetSnapshot()
	if m.LastSuccessAt == nil {
		return time.Time{}
	}
	return *m.LastSuccessAt
}

// Poll runs one poll cycle. A fetch failure returns a *FetchError and leaves all state
// untouched. A notifier failure is logged and counted but does not fail the poll: the
// registry changes stand and the change set is not retried.
func (w *Watcher) Poll(ctx context.Context, mode models.SnapshotMode) (models.PollResult, error) {
	w.pollMu.Lock()
	defer w.pollMu.Unlock()

	start := w.now()
	result := models.PollResult{Mode: mode, StartedAt: start.UTC()}

	w.logger.Info().Str("mode", string(mode)).Msg("polling provider")

	w.metrics.mu.Lock()
	w.metrics.TotalPolls++
	w.metrics.mu.Unlock()

	snapshot, err := w.fetch(ctx, mode)
	duration := w.now().Sub(start)
	result.Duration = duration

	if err != nil {
		errStr := err.Error()
		failed := w.now()
		w.metrics.mu.Lock()
		w.metrics.TotalErrors++
		w.metrics.LastPollAt = &failed
		w.metrics.LastPollSuccess = false
		w.metrics.LastResponseTime = duration
		w.metrics.LastPollMode = mode
		w.metrics.LastError = &errStr
		w.metrics.mu.Unlock()

		if w.recorder != nil {
			w.recorder.RecordPoll(string(mode), "error", duration)
		}

		w.logger.Error().
			Err(err).
			Str("mode", string(mode)).
			Dur("duration", duration).
			Msg("failed to fetch snapshot")

		return result, &FetchError{Provider: w.provider.Name(), Mode: mode, Err: err}
	}

	cs, stats := w.reconciler.Reconcile(snapshot)

	result.StationsSeen = stats.StationsSeen
	result.PricesSeen = stats.PricesSeen
	result.PricesApplied = stats.PricesApplied
	result.PricesSkipped = stats.Skipped()
	result.ChangedStations = len(cs)

	finished := w.now()
	w.metrics.mu.Lock()
	w.metrics.LastPollAt = &finished
	w.metrics.LastSuccessAt = &finished
	w.metrics.LastPollSuccess = true
	w.metrics.LastPollMode = mode
	w.metrics.LastResponseTime = duration
	w.metrics.LastChangeSetSize = len(cs)
	w.metrics.LastError = nil
	w.metrics.mu.Unlock()

	w.record(mode, duration, finished, len(cs), stats)

	w.logger.Info().
		Str("mode", string(mode)).
		Int("stations", stats.StationsSeen).
		Int("prices", stats.PricesSeen).
		Int("applied", stats.PricesApplied).
		Int("skipped", stats.Skipped()).
		Int("changed_stations", len(cs)).
		Dur("duration", duration).
		Msg("reconciled snapshot")

	if !w.tracker.ShouldNotify(cs) {
		if len(cs) > 0 {
			w.logger.Debug().Int("changed_stations", len(cs)).Msg("change set already dispatched, skipping notification")
		}
		return result, nil
	}

	if err := w.notifier.Notify(ctx, cs); err != nil {
		w.metrics.mu.Lock()
		w.metrics.NotifyErrors++
		w.metrics.mu.Unlock()

		var ne *notify.Error
		if !errors.As(err, &ne) {
			err = &notify.Error{Notifier: w.notifier.Name(), Err: err}
		}
		w.logger.Error().
			Err(err).
			Int("changed_stations", len(cs)).
			Msg("failed to notify about price changes")
		return result, nil
	}

	w.tracker.MarkDispatched(cs)
	result.Notified = true

	w.metrics.mu.Lock()
	w.metrics.TotalNotifications++
	w.metrics.mu.Unlock()

	w.logger.Info().
		Int("changed_stations", len(cs)).
		Str("notifier", w.notifier.Name()).
		Msg("notified about price changes")

	return result, nil
}

func (w *Watcher) fetch(ctx context.Context, mode models.SnapshotMode) (models.Snapshot, error) {
	if mode == models.SnapshotIncremental {
		return w.provider.FetchIncrementalSnapshot(ctx)
	}
	return w.provider.FetchFullSnapshot(ctx)
}

func (w *Watcher) record(mode models.SnapshotMode, duration time.Duration, finished time.Time, changed int, stats reconciler.Stats) {
	if w.recorder == nil {
		return
	}

	w.recorder.RecordPoll(string(mode), "success", duration)
	w.recorder.RecordLastPoll(finished)
	w.recorder.RecordChangeSet(changed)
	w.recorder.RecordSkipped("filtered", stats.SkippedFiltered)
	w.recorder.RecordSkipped("unknown_station", stats.SkippedUnknownStation)
	w.recorder.RecordSkipped("malformed", stats.SkippedMalformed)

	state := w.registry.CurrentState()
	for code, st := range state {
		for fuelType, e := range st.FuelEntries {
			w.recorder.RecordPrice(code, fuelType, e.PriceNew.InexactFloat64(), e.Variance.InexactFloat64())
		}
	}
	w.recorder.RecordStationsTracked(len(state))
}

// Status returns the operational status of the poll cycle.
func (w *Watcher) Status() models.WatcherStatus {
	m := w.metrics.GetSnapshot()
	return models.WatcherStatus{
		Provider:           w.provider.Name(),
		LastPollAt:         m.LastPollAt,
		LastPollMode:       string(m.LastPollMode),
		LastPollSuccess:    m.LastPollSuccess,
		LastResponseTimeMs: m.LastResponseTime.Milliseconds(),
		LastError:          m.LastError,
		LastChangeSetSize:  m.LastChangeSetSize,
		TotalPolls:         m.TotalPolls,
		TotalErrors:        m.TotalErrors,
		TotalNotifications: m.TotalNotifications,
		NotifyErrors:       m.NotifyErrors,
		StationsTracked:    w.registry.Len(),
	}
}
