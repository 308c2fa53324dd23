// Package notify defines how change sets are delivered to the outside world.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/andygrunwald/fuel-price-watcher/internal/models"
)

// Notifier delivers a change set.
type Notifier interface {
	// Name returns the notifier identifier.
	Name() string

	// Notify sends a message describing the change set.
	Notify(ctx context.Context, cs models.ChangeSet) error
}

// Error is returned when a notifier fails to deliver a change set.
type Error struct {
	Notifier string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("notifier %s: %v", e.Notifier, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Multi fans a change set out to several notifiers.
type Multi struct {
	notifiers []Notifier
	onResult  func(notifier string, err error)
	logger    zerolog.Logger
}

// NewMulti creates a notifier that delivers to all given notifiers.
func NewMulti(logger zerolog.Logger, notifiers ...Notifier) *Multi {
	return &Multi{
		notifiers: notifiers,
		logger:    logger.With().Str("component", "notify").Logger(),
	}
}

// Name returns the notifier identifier.
func (m *Multi) Name() string {
	return "multi"
}

// OnResult registers a callback invoked after every delivery attempt.
func (m *Multi) OnResult(fn func(notifier string, err error)) {
	m.onResult = fn
}

// Len returns the number of configured notifiers.
func (m *Multi) Len() int {
	return len(m.notifiers)
}

// Notify delivers to every notifier, even if some fail. The joined error contains one *Error per failure.
func (m *Multi) Notify(ctx context.Context, cs models.ChangeSet) error {
	var errs []error
	for _, n := range m.notifiers {
		err := n.Notify(ctx, cs)
		if m.onResult != nil {
			m.onResult(n.Name(), err)
		}
		if err != nil {
			m.logger.Error().
				Err(err).
				Str("notifier", n.Name()).
				Int("stations", len(cs)).
				Msg("failed to deliver change set")
			errs = append(errs, &Error{Notifier: n.Name(), Err: err})
			continue
		}
		m.logger.Info().
			Str("notifier", n.Name()).
			Int("stations", len(cs)).
			Msg("delivered change set")
	}
	return errors.Join(errs...)
}

// Nop discards change sets. It is used when no notifier is configured.
type Nop struct{}

// Name returns the notifier identifier.
func (Nop) Name() string {
	return "nop"
}

// Notify does nothing.
func (Nop) Notify(context.Context, models.ChangeSet) error {
	return nil
}
