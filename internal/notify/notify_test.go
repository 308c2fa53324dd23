package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/andygrunwald/fuel-price-watcher/internal/models"
)

type recordingNotifier struct {
	name  string
	err   error
	calls int
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Notify(_ context.Context, _ models.ChangeSet) error {
	r.calls++
	return r.err
}

func TestMultiDeliversToAll(t *testing.T) {
	a := &recordingNotifier{name: "a"}
	b := &recordingNotifier{name: "b", err: errors.New("smtp down")}
	c := &recordingNotifier{name: "c"}

	m := NewMulti(zerolog.Nop(), a, b, c)
	results := map[string]bool{}
	m.OnResult(func(name string, err error) { results[name] = err == nil })
	err := m.Notify(context.Background(), models.ChangeSet{63: {Code: 63}})

	if a.calls != 1 || b.calls != 1 || c.calls != 1 {
		t.Fatalf("calls = %d/%d/%d; want 1/1/1", a.calls, b.calls, c.calls)
	}

	var ne *Error
	if !errors.As(err, &ne) {
		t.Fatalf("Notify() error = %v; want *Error", err)
	}
	if ne.Notifier != "b" {
		t.Errorf("Error.Notifier = %q; want b", ne.Notifier)
	}
	if !results["a"] || results["b"] || !results["c"] || len(results) != 3 {
		t.Errorf("results = %v; want a and c succeeded, b failed", results)
	}
}

func TestMultiSuccess(t *testing.T) {
	m := NewMulti(zerolog.Nop(), &recordingNotifier{name: "a"}, Nop{})
	if err := m.Notify(context.Background(), models.ChangeSet{}); err != nil {
		t.Fatalf("Notify() = %v; want nil", err)
	}
	if m.Len() != 2 {
		t.Errorf("Len() = %d; want 2", m.Len())
	}
}
