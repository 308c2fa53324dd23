package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/andygrunwald/fuel-price-watcher/internal/database"
	"github.com/andygrunwald/fuel-price-watcher/internal/models"
	"github.com/andygrunwald/fuel-price-watcher/internal/scheduler"
	"github.com/andygrunwald/fuel-price-watcher/internal/watcher"
)

// StatusHandler handles the /status endpoint.
type StatusHandler struct {
	watcher   *watcher.Watcher
	scheduler *scheduler.Scheduler
	db        *database.DB
	startTime time.Time
}

// NewStatusHandler creates a new StatusHandler. sched and db may be nil.
func NewStatusHandler(w *watcher.Watcher, sched *scheduler.Scheduler, db *database.DB) *StatusHandler {
	return &StatusHandler{
		watcher:   w,
		scheduler: sched,
		db:        db,
		startTime: time.Now(),
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	response := models.StatusResponse{
		Status:         "healthy",
		UptimeSeconds:  int64(time.Since(h.startTime).Seconds()),
		SchedulerState: string(scheduler.StateIdle),
		Watcher:        h.watcher.Status(),
	}

	if h.scheduler != nil {
		response.SchedulerRunning = h.scheduler.IsRunning()
		response.SchedulerState = string(h.scheduler.State())
		response.LastScheduledPollAt = h.scheduler.LastPollAt()
		nextPoll := h.scheduler.NextPollAt()
		if !nextPoll.IsZero() {
			response.NextPollAt = &nextPoll
		}
	}

	if response.Watcher.TotalPolls > 0 && !response.Watcher.LastPollSuccess {
		response.Status = "degraded"
	}

	response.Database = h.getDatabaseStatus(ctx)

	writeJSON(w, http.StatusOK, response)
}

func (h *StatusHandler) getDatabaseStatus(ctx context.Context) models.DatabaseStatus {
	status := models.DatabaseStatus{}

	if h.db == nil {
		return status
	}
	status.Enabled = true

	if err := h.db.Ping(); err != nil {
		return status
	}
	status.Connected = true

	count, err := h.db.GetTotalChangesCount(ctx)
	if err == nil {
		status.TotalChangesStored = count
	}

	return status
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
