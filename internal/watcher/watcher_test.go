package watcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/andygrunwald/fuel-price-watcher/internal/models"
	"github.com/andygrunwald/fuel-price-watcher/internal/notify"
	"github.com/andygrunwald/fuel-price-watcher/internal/reconciler"
	"github.com/andygrunwald/fuel-price-watcher/internal/registry"
	"github.com/andygrunwald/fuel-price-watcher/internal/tracker"
)

type fakeProvider struct {
	full        models.Snapshot
	incremental []models.Snapshot
	err         error
	fullCalls   int
	incCalls    int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) FetchFullSnapshot(context.Context) (models.Snapshot, error) {
	p.fullCalls++
	if p.err != nil {
		return models.Snapshot{}, p.err
	}
	return p.full, nil
}

func (p *fakeProvider) FetchIncrementalSnapshot(context.Context) (models.Snapshot, error) {
	p.incCalls++
	if p.err != nil {
		return models.Snapshot{}, p.err
	}
	if len(p.incremental) == 0 {
		return models.Snapshot{Mode: models.SnapshotIncremental}, nil
	}
	s := p.incremental[0]
	p.incremental = p.incremental[1:]
	return s, nil
}

type fakeNotifier struct {
	err      error
	received []models.ChangeSet
}

func (n *fakeNotifier) Name() string { return "fake" }

func (n *fakeNotifier) Notify(_ context.Context, cs models.ChangeSet) error {
	n.received = append(n.received, cs)
	return n.err
}

type fakeRecorder struct {
	polls    map[string]int
	prices   map[string]float64
	tracked  int
	lastSize int
}

func (r *fakeRecorder) RecordPoll(mode, status string, _ time.Duration) {
	r.polls[mode+"/"+status]++
}
func (r *fakeRecorder) RecordLastPoll(time.Time)        {}
func (r *fakeRecorder) RecordChangeSet(size int)        { r.lastSize = size }
func (r *fakeRecorder) RecordSkipped(string, int)       {}
func (r *fakeRecorder) RecordStationsTracked(count int) { r.tracked = count }
func (r *fakeRecorder) RecordPrice(_ int, fuelType string, price, _ float64) {
	r.prices[fuelType] = price
}

func price(code int, fuel, value string) models.PriceRecord {
	return models.PriceRecord{StationCode: code, FuelType: fuel, Price: value, LastUpdated: "16/10/2026 08:15:00"}
}

func fullSnapshot() models.Snapshot {
	return models.Snapshot{
		Mode: models.SnapshotFull,
		Stations: []models.StationRecord{
			{Code: 63, Metadata: models.StationMetadata{Name: "Caltex Annandale"}},
			{Code: 322, Metadata: models.StationMetadata{Name: "7-Eleven Stanmore"}},
			{Code: 999, Metadata: models.StationMetadata{Name: "Not tracked"}},
		},
		Prices: []models.PriceRecord{
			price(63, "E10", "150.9"),
			price(63, "U91", "160.9"),
			price(322, "U91", "165.9"),
			price(999, "U91", "155.9"),
		},
	}
}

func incremental(prices ...models.PriceRecord) models.Snapshot {
	return models.Snapshot{Mode: models.SnapshotIncremental, Prices: prices}
}

func newTestWatcher(p *fakeProvider, n *fakeNotifier) (*Watcher, *registry.Registry) {
	reg := registry.New()
	rec := reconciler.New(reg, []int{63, 322}, []string{"E10", "U91"}, time.UTC, zerolog.Nop())
	return New(p, rec, tracker.New(), n, reg, zerolog.Nop()), reg
}

func TestBootstrapDoesNotNotify(t *testing.T) {
	p := &fakeProvider{full: fullSnapshot()}
	n := &fakeNotifier{}
	w, reg := newTestWatcher(p, n)

	res, err := w.Poll(context.Background(), models.SnapshotFull)
	if err != nil {
		t.Fatalf("Poll() = %v", err)
	}
	if res.ChangedStations != 0 || res.Notified {
		t.Errorf("result = %+v; want no changes and no notification", res)
	}
	if len(n.received) != 0 {
		t.Errorf("notifier called %d times on bootstrap", len(n.received))
	}
	if reg.Len() != 2 {
		t.Errorf("registry has %d stations; want 2", reg.Len())
	}
	if res.PricesApplied != 3 || res.PricesSeen != 4 {
		t.Errorf("applied %d of %d prices; want 3 of 4", res.PricesApplied, res.PricesSeen)
	}
	if w.LastPollTimestamp().IsZero() {
		t.Error("LastPollTimestamp() is zero after a successful poll")
	}
}

func TestChangeNotifiesOnce(t *testing.T) {
	p := &fakeProvider{
		full: fullSnapshot(),
		incremental: []models.Snapshot{
			incremental(price(63, "E10", "152.9")),
			incremental(price(63, "E10", "152.9")),
			incremental(price(63, "E10", "152.90")),
		},
	}
	n := &fakeNotifier{}
	w, _ := newTestWatcher(p, n)
	ctx := context.Background()

	if _, err := w.Poll(ctx, models.SnapshotFull); err != nil {
		t.Fatalf("bootstrap Poll() = %v", err)
	}

	res, err := w.Poll(ctx, models.SnapshotIncremental)
	if err != nil {
		t.Fatalf("Poll() = %v", err)
	}
	if !res.Notified || res.ChangedStations != 1 {
		t.Fatalf("result = %+v; want one changed station notified", res)
	}
	if len(n.received) != 1 {
		t.Fatalf("notifier called %d times; want 1", len(n.received))
	}
	e := n.received[0][63].FuelEntries["E10"]
	if e.PriceOld.String() != "150.9" || e.PriceNew.String() != "152.9" || e.VarianceClass != models.VarianceIncrease {
		t.Errorf("entry = %s -> %s (%s)", e.PriceOld, e.PriceNew, e.VarianceClass)
	}

	for i := 0; i < 2; i++ {
		res, err := w.Poll(ctx, models.SnapshotIncremental)
		if err != nil {
			t.Fatalf("Poll() = %v", err)
		}
		if res.Notified || res.ChangedStations != 0 {
			t.Errorf("re-poll %d result = %+v; want no-op", i, res)
		}
	}
	if len(n.received) != 1 {
		t.Errorf("notifier called %d times; want 1 after identical re-polls", len(n.received))
	}
}

func TestFetchErrorLeavesStateUntouched(t *testing.T) {
	p := &fakeProvider{full: fullSnapshot()}
	n := &fakeNotifier{}
	w, reg := newTestWatcher(p, n)
	ctx := context.Background()

	if _, err := w.Poll(ctx, models.SnapshotFull); err != nil {
		t.Fatalf("bootstrap Poll() = %v", err)
	}
	before := reg.CurrentState()
	lastPoll := w.LastPollTimestamp()

	p.err = errors.New("connection refused")
	_, err := w.Poll(ctx, models.SnapshotIncremental)

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("Poll() error = %v; want *FetchError", err)
	}
	if fe.Mode != models.SnapshotIncremental || fe.Provider != "fake" {
		t.Errorf("FetchError = %+v", fe)
	}

	after := reg.CurrentState()
	if len(after) != len(before) || !after[63].FuelEntries["E10"].PriceNew.Equal(before[63].FuelEntries["E10"].PriceNew) {
		t.Error("registry changed after a failed fetch")
	}
	if !w.LastPollTimestamp().Equal(lastPoll) {
		t.Error("LastPollTimestamp() moved after a failed fetch")
	}

	st := w.Status()
	if st.LastPollSuccess || st.LastError == nil || st.TotalErrors != 1 || st.TotalPolls != 2 {
		t.Errorf("status = %+v", st)
	}
}

func TestNotifyFailureKeepsRegistryChanges(t *testing.T) {
	p := &fakeProvider{
		full: fullSnapshot(),
		incremental: []models.Snapshot{
			incremental(price(322, "U91", "162.9")),
			incremental(price(322, "U91", "161.9")),
		},
	}
	n := &fakeNotifier{err: &notify.Error{Notifier: "mail", Err: errors.New("sendmail exited 1")}}
	w, reg := newTestWatcher(p, n)
	ctx := context.Background()

	if _, err := w.Poll(ctx, models.SnapshotFull); err != nil {
		t.Fatalf("bootstrap Poll() = %v", err)
	}

	res, err := w.Poll(ctx, models.SnapshotIncremental)
	if err != nil {
		t.Fatalf("Poll() = %v; notifier failures must not fail the poll", err)
	}
	if res.Notified {
		t.Error("Notified = true after notifier failure")
	}
	st, _ := reg.Station(322)
	if st.FuelEntries["U91"].PriceNew.String() != "162.9" {
		t.Errorf("registry price = %s; want 162.9 to stand", st.FuelEntries["U91"].PriceNew)
	}

	// The failed change set was never marked dispatched, so the next change is delivered.
	n.err = nil
	res, err = w.Poll(ctx, models.SnapshotIncremental)
	if err != nil {
		t.Fatalf("Poll() = %v", err)
	}
	if !res.Notified {
		t.Error("next change was not delivered")
	}

	status := w.Status()
	if status.NotifyErrors != 1 || status.TotalNotifications != 1 {
		t.Errorf("status = %+v; want 1 notify error and 1 notification", status)
	}
}

func TestMalformedAndUnknownRecordsSkipped(t *testing.T) {
	p := &fakeProvider{
		full: fullSnapshot(),
		incremental: []models.Snapshot{
			incremental(
				price(63, "E10", "abc"),
				price(63, "U91", "-1"),
				price(322, "U91", "163.9"),
			),
		},
	}
	n := &fakeNotifier{}
	w, _ := newTestWatcher(p, n)
	ctx := context.Background()

	if _, err := w.Poll(ctx, models.SnapshotFull); err != nil {
		t.Fatalf("bootstrap Poll() = %v", err)
	}
	res, err := w.Poll(ctx, models.SnapshotIncremental)
	if err != nil {
		t.Fatalf("Poll() = %v", err)
	}
	if res.PricesSkipped != 2 || res.PricesApplied != 1 || res.ChangedStations != 1 {
		t.Errorf("result = %+v; want 2 skipped, 1 applied, 1 changed", res)
	}
	if len(n.received) != 1 {
		t.Fatalf("notifier called %d times; want 1", len(n.received))
	}
	if _, ok := n.received[0][63]; ok {
		t.Error("station 63 should not be in the change set")
	}
}

func TestMetricsRecorder(t *testing.T) {
	p := &fakeProvider{full: fullSnapshot(), incremental: []models.Snapshot{incremental(price(63, "E10", "149.9"))}}
	w, _ := newTestWatcher(p, &fakeNotifier{})
	rec := &fakeRecorder{polls: map[string]int{}, prices: map[string]float64{}}
	w.SetMetricsRecorder(rec)
	ctx := context.Background()

	if _, err := w.Poll(ctx, models.SnapshotFull); err != nil {
		t.Fatalf("Poll() = %v", err)
	}
	if _, err := w.Poll(ctx, models.SnapshotIncremental); err != nil {
		t.Fatalf("Poll() = %v", err)
	}
	p.err = errors.New("boom")
	_, _ = w.Poll(ctx, models.SnapshotIncremental)

	if rec.polls["full/success"] != 1 || rec.polls["incremental/success"] != 1 || rec.polls["incremental/error"] != 1 {
		t.Errorf("polls = %v", rec.polls)
	}
	if rec.tracked != 2 || rec.lastSize != 1 {
		t.Errorf("tracked = %d, last change set = %d; want 2, 1", rec.tracked, rec.lastSize)
	}
	if rec.prices["E10"] != 149.9 {
		t.Errorf("E10 price gauge = %v; want 149.9", rec.prices["E10"])
	}
}
