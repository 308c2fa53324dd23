// Package http provides the HTTP server for the price page, status and metrics endpoints.
package http

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the watcher.
type Metrics struct {
	// Poll metrics
	PollsTotal        *prometheus.CounterVec
	PollDuration      *prometheus.HistogramVec
	LastPollTimestamp prometheus.Gauge
	ChangeSetSize     prometheus.Gauge
	SkippedRecords    *prometheus.CounterVec

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec

	// State metrics
	CurrentPrice    *prometheus.GaugeVec
	CurrentVariance *prometheus.GaugeVec
	StationsTracked prometheus.Gauge
}

// NewMetrics creates metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PollsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuelwatcher_polls_total",
				Help: "Total number of polls by snapshot mode and status",
			},
			[]string{"mode", "status"},
		),
		PollDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fuelwatcher_poll_duration_seconds",
				Help:    "Snapshot fetch duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		LastPollTimestamp: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "fuelwatcher_last_poll_timestamp",
				Help: "Timestamp of the last successful poll",
			},
		),
		ChangeSetSize: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "fuelwatcher_change_set_size",
				Help: "Number of stations that changed in the last successful poll",
			},
		),
		SkippedRecords: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuelwatcher_skipped_records_total",
				Help: "Total number of price records not applied, by reason",
			},
			[]string{"reason"},
		),
		NotificationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuelwatcher_notifications_total",
				Help: "Total number of change set deliveries by notifier and status",
			},
			[]string{"notifier", "status"},
		),
		CurrentPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fuelwatcher_current_price",
				Help: "Current fuel price in cents per litre",
			},
			[]string{"station", "fuel_type"},
		),
		CurrentVariance: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fuelwatcher_current_variance",
				Help: "Difference between the current and the previous price in cents per litre",
			},
			[]string{"station", "fuel_type"},
		),
		StationsTracked: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "fuelwatcher_stations_tracked",
				Help: "Number of stations in the registry",
			},
		),
	}
}

// RecordPoll records a poll metric.
func (m *Metrics) RecordPoll(mode, status string, duration time.Duration) {
	m.PollsTotal.WithLabelValues(mode, status).Inc()
	m.PollDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordLastPoll records the last successful poll timestamp.
func (m *Metrics) RecordLastPoll(t time.Time) {
	m.LastPollTimestamp.Set(float64(t.Unix()))
}

// RecordChangeSet records the size of the last change set.
func (m *Metrics) RecordChangeSet(size int) {
	m.ChangeSetSize.Set(float64(size))
}

// RecordSkipped records skipped price records.
func (m *Metrics) RecordSkipped(reason string, count int) {
	if count <= 0 {
		return
	}
	m.SkippedRecords.WithLabelValues(reason).Add(float64(count))
}

// RecordPrice records the current price and variance of a fuel type at a station.
func (m *Metrics) RecordPrice(stationCode int, fuelType string, price, variance float64) {
	station := strconv.Itoa(stationCode)
	m.CurrentPrice.WithLabelValues(station, fuelType).Set(price)
	m.CurrentVariance.WithLabelValues(station, fuelType).Set(variance)
}

// RecordStationsTracked records the number of tracked stations.
func (m *Metrics) RecordStationsTracked(count int) {
	m.StationsTracked.Set(float64(count))
}

// RecordNotification records a delivery attempt of a notifier.
func (m *Metrics) RecordNotification(notifier string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.NotificationsTotal.WithLabelValues(notifier, status).Inc()
}
