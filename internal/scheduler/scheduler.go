// Package scheduler drives poll cycles on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/andygrunwald/fuel-price-watcher/internal/models"
)

// ErrPollInProgress is returned when a poll is requested while another one is running.
var ErrPollInProgress = errors.New("poll already in progress")

// State is the scheduler state.
type State string

const (
	// StateIdle means no poll is running.
	StateIdle State = "idle"
	// StatePolling means a snapshot fetch and reconciliation is in flight.
	StatePolling State = "polling"
)

// Poller runs a single poll cycle.
type Poller interface {
	Poll(ctx context.Context, mode models.SnapshotMode) (models.PollResult, error)
}

// Scheduler runs a full poll on start and an incremental poll every interval.
// Until a full poll has succeeded, scheduled polls keep fetching the full snapshot.
type Scheduler struct {
	poller   Poller
	interval time.Duration
	logger   zerolog.Logger

	mu           sync.RWMutex
	state        State
	nextPollAt   time.Time
	lastPollAt   *time.Time
	running      bool
	bootstrapped bool

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a new Scheduler.
func New(p Poller, interval time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		poller:   p,
		interval: interval,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		state:    StateIdle,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the bootstrap poll and then blocks, polling every interval, until ctx is
// cancelled or Stop is called. A poll in flight at that moment runs to completion.
// Start must only be called once.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.nextPollAt = time.Time{}
		s.mu.Unlock()
		close(s.done)
	}()

	s.logger.Info().Dur("interval", s.interval).Msg("starting scheduler")

	s.runScheduled(ctx, models.SnapshotFull)

	timer := time.NewTimer(s.arm())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-s.stopCh:
			s.logger.Info().Msg("scheduler stopped")
			return nil
		case <-timer.C:
			s.runScheduled(ctx, s.nextMode())
			timer.Reset(s.arm())
		}
	}
}

// arm records the next poll time and returns the delay until then.
func (s *Scheduler) arm() time.Duration {
	next := time.Now().Add(s.interval)
	s.mu.Lock()
	s.nextPollAt = next
	s.mu.Unlock()

	s.logger.Debug().Time("next_poll", next).Msg("next poll scheduled")
	return s.interval
}

func (s *Scheduler) nextMode() models.SnapshotMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.bootstrapped {
		return models.SnapshotIncremental
	}
	return models.SnapshotFull
}

func (s *Scheduler) runScheduled(ctx context.Context, mode models.SnapshotMode) {
	s.logger.Info().Str("mode", string(mode)).Msg("running scheduled poll")

	_, err := s.runPoll(ctx, mode)
	switch {
	case errors.Is(err, ErrPollInProgress):
		s.logger.Warn().Msg("skipping scheduled poll, another poll is in progress")
	case err != nil:
		s.logger.Error().Err(err).Str("mode", string(mode)).Msg("scheduled poll failed")
	default:
		s.logger.Info().Str("mode", string(mode)).Msg("scheduled poll completed")
	}
}

// runPoll runs one poll unless another one is in flight. The poll itself is not
// cancelled with ctx, so shutdown never interrupts a reconciliation half way.
func (s *Scheduler) runPoll(ctx context.Context, mode models.SnapshotMode) (models.PollResult, error) {
	s.mu.Lock()
	if s.state == StatePolling {
		s.mu.Unlock()
		return models.PollResult{}, ErrPollInProgress
	}
	s.state = StatePolling
	now := time.Now()
	s.lastPollAt = &now
	s.mu.Unlock()

	res, err := s.poller.Poll(context.WithoutCancel(ctx), mode)

	s.mu.Lock()
	if err == nil && mode == models.SnapshotFull {
		s.bootstrapped = true
	}
	s.state = StateIdle
	s.mu.Unlock()

	return res, err
}

// TriggerPoll runs an out-of-band poll. It uses the full snapshot until one full poll
// has succeeded and the incremental snapshot afterwards.
func (s *Scheduler) TriggerPoll(ctx context.Context) (models.PollResult, error) {
	mode := s.nextMode()
	s.logger.Info().Str("mode", string(mode)).Msg("running manual poll")
	return s.runPoll(ctx, mode)
}

// Stop prevents future polls. It does not wait; use Done for that.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Done is closed when Start returns.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// State returns the current scheduler state.
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// NextPollAt returns the time of the next scheduled poll. It is zero when the scheduler is not running.
func (s *Scheduler) NextPollAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextPollAt
}

// LastPollAt returns when the last poll started.
func (s *Scheduler) LastPollAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPollAt
}

// IsRunning returns whether the scheduler is currently running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
