package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/andygrunwald/fuel-price-watcher/internal/database"
	"github.com/andygrunwald/fuel-price-watcher/internal/models"
	"github.com/andygrunwald/fuel-price-watcher/internal/reconciler"
	"github.com/andygrunwald/fuel-price-watcher/internal/registry"
	"github.com/andygrunwald/fuel-price-watcher/internal/scheduler"
	"github.com/andygrunwald/fuel-price-watcher/internal/tracker"
	"github.com/andygrunwald/fuel-price-watcher/internal/views"
	"github.com/andygrunwald/fuel-price-watcher/internal/watcher"
)

type fakeProvider struct {
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) snapshot(mode models.SnapshotMode) (models.Snapshot, error) {
	if p.entered != nil {
		p.entered <- struct{}{}
	}
	if p.block != nil {
		<-p.block
	}
	if p.err != nil {
		return models.Snapshot{}, p.err
	}
	return models.Snapshot{
		Mode: mode,
		Stations: []models.StationRecord{
			{Code: 322, Metadata: models.StationMetadata{Name: "7-Eleven Stanmore"}},
			{Code: 63, Metadata: models.StationMetadata{Name: "Caltex Annandale"}},
		},
		Prices: []models.PriceRecord{
			{StationCode: 63, FuelType: "E10", Price: "150.9", LastUpdated: "16/10/2026 08:15:00"},
			{StationCode: 322, FuelType: "U91", Price: "162.9", LastUpdated: "16/10/2026 08:15:00"},
		},
	}, nil
}

func (p *fakeProvider) FetchFullSnapshot(context.Context) (models.Snapshot, error) {
	return p.snapshot(models.SnapshotFull)
}

func (p *fakeProvider) FetchIncrementalSnapshot(context.Context) (models.Snapshot, error) {
	return p.snapshot(models.SnapshotIncremental)
}

type testEnv struct {
	server  *Server
	watcher *watcher.Watcher
	sched   *scheduler.Scheduler
}

func newTestEnv(t *testing.T, p *fakeProvider, db *database.DB) *testEnv {
	t.Helper()
	if err := views.LoadTemplates(); err != nil {
		t.Fatalf("LoadTemplates(): %v", err)
	}
	reg := registry.New()
	rec := reconciler.New(reg, []int{63, 322}, []string{"E10", "U91"}, time.UTC, zerolog.Nop())
	w := watcher.New(p, rec, tracker.New(), nil, reg, zerolog.Nop())
	sched := scheduler.New(w, time.Hour, zerolog.Nop())
	srv := NewServer(":0", w, sched, db, PageOptions{FuelTypes: []string{"E10", "U91"}}, zerolog.Nop())
	w.SetMetricsRecorder(srv.Metrics())
	return &testEnv{server: srv, watcher: w, sched: sched}
}

func (e *testEnv) do(method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{}, nil)
	rec := env.do(http.MethodGet, "/health")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("GET /health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestPollAndStations(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{}, nil)

	rec := env.do(http.MethodPost, "/poll")
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /poll = %d: %s", rec.Code, rec.Body.String())
	}
	var res models.PollResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding poll result: %v", err)
	}
	if res.Mode != models.SnapshotFull || res.PricesApplied != 2 {
		t.Errorf("poll result = %+v; want full poll with 2 prices applied", res)
	}

	rec = env.do(http.MethodGet, "/api/stations")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/stations = %d", rec.Code)
	}
	var body StationsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding stations: %v", err)
	}
	if len(body.Stations) != 2 || body.Stations[0].Code != 63 || body.Stations[1].Code != 322 {
		t.Fatalf("stations = %+v; want 63, 322", body.Stations)
	}
	if body.LastPollAt == nil {
		t.Error("last_poll_at missing after a poll")
	}
	if got := body.Stations[0].FuelEntries["E10"].PriceNew.String(); got != "150.9" {
		t.Errorf("E10 price = %s; want 150.9", got)
	}
}

func TestPollMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{}, nil)
	if rec := env.do(http.MethodGet, "/poll"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /poll = %d; want 405", rec.Code)
	}
}

func TestPollFetchError(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{err: errors.New("connection refused")}, nil)
	rec := env.do(http.MethodPost, "/poll")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("POST /poll = %d; want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "connection refused") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestPollConflict(t *testing.T) {
	p := &fakeProvider{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	env := newTestEnv(t, p, nil)

	done := make(chan int, 1)
	go func() { done <- env.do(http.MethodPost, "/poll").Code }()
	<-p.entered

	if rec := env.do(http.MethodPost, "/poll"); rec.Code != http.StatusConflict {
		t.Errorf("concurrent POST /poll = %d; want 409", rec.Code)
	}

	close(p.block)
	if code := <-done; code != http.StatusOK {
		t.Errorf("first POST /poll = %d; want 200", code)
	}
}

func TestIndex(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{}, nil)
	if _, err := env.watcher.Poll(context.Background(), models.SnapshotFull); err != nil {
		t.Fatalf("Poll() = %v", err)
	}

	rec := env.do(http.MethodGet, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET / = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	for _, want := range []string{"Caltex Annandale", "7-Eleven Stanmore", "150.9"} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("page missing %q", want)
		}
	}

	if rec := env.do(http.MethodGet, "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("GET /nope = %d; want 404", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	db, err := database.New("sqlite:"+filepath.Join(t.TempDir(), "changes.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("database.New() = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	env := newTestEnv(t, &fakeProvider{}, db)
	if rec := env.do(http.MethodPost, "/poll"); rec.Code != http.StatusOK {
		t.Fatalf("POST /poll = %d", rec.Code)
	}

	rec := env.do(http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /status = %d", rec.Code)
	}
	var status models.StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if status.Status != "healthy" || status.SchedulerState != "idle" || status.SchedulerRunning {
		t.Errorf("status = %+v", status)
	}
	if status.Watcher.Provider != "fake" || status.Watcher.TotalPolls != 1 || status.Watcher.StationsTracked != 2 {
		t.Errorf("watcher status = %+v", status.Watcher)
	}
	if !status.Database.Enabled || !status.Database.Connected {
		t.Errorf("database status = %+v", status.Database)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{}, nil)
	if rec := env.do(http.MethodPost, "/poll"); rec.Code != http.StatusOK {
		t.Fatalf("POST /poll = %d", rec.Code)
	}

	rec := env.do(http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`fuelwatcher_polls_total{mode="full",status="success"} 1`,
		`fuelwatcher_current_price{fuel_type="E10",station="63"} 150.9`,
		`fuelwatcher_stations_tracked 2`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}
