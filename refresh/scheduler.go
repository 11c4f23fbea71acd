package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/scandocs/scandocs-go/credentials"
	"github.com/scandocs/scandocs-go/events"
	"github.com/scandocs/scandocs-go/internal/clock"
	"github.com/scandocs/scandocs-go/token"
)

const (
	defaultPollInterval   = 30 * time.Second
	defaultSafetyMargin   = 5 * time.Minute
	defaultFloorInterval  = 1 * time.Minute
	defaultRequestTimeout = 30 * time.Second
)

// Scheduler renews the access token before it expires. A single pending wake
// timer drives re-checks; the refreshing guard ensures at most one refresh
// request is ever in flight. Refresh failure is terminal for the session: the
// store is cleared, TOKEN_EXPIRED is emitted and nothing is rescheduled —
// a fresh login must Start the scheduler again.
type Scheduler struct {
	store     credentials.Store
	inspector *token.Inspector
	bus       *events.Bus
	refresher Refresher
	clk       clock.Clock

	pollInterval   time.Duration
	safetyMargin   time.Duration
	floorInterval  time.Duration
	requestTimeout time.Duration

	mu         sync.Mutex
	timer      clock.Timer
	refreshing bool
	running    bool
	generation int // bumped by Start/Stop; stale timer and request callbacks check it
}

// SchedulerOption modifies a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock replaces the wall clock (primarily for testing).
func WithClock(clk clock.Clock) SchedulerOption {
	return func(s *Scheduler) {
		s.clk = clk
	}
}

// WithPollInterval sets the re-check interval used while no credential is
// stored.
func WithPollInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.pollInterval = d
	}
}

// WithSafetyMargin sets how long before expiry the next check aims to land.
func WithSafetyMargin(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.safetyMargin = d
	}
}

// WithFloorInterval sets the minimum sleep between checks.
func WithFloorInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.floorInterval = d
	}
}

// WithRequestTimeout bounds the refresh HTTP call.
func WithRequestTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.requestTimeout = d
	}
}

// NewScheduler initializes a Scheduler with required dependencies.
func NewScheduler(
	store credentials.Store,
	inspector *token.Inspector,
	bus *events.Bus,
	refresher Refresher,
	options ...SchedulerOption,
) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("[NewScheduler] store is required")
	}
	if inspector == nil {
		return nil, errors.New("[NewScheduler] inspector is required")
	}
	if bus == nil {
		return nil, errors.New("[NewScheduler] bus is required")
	}
	if refresher == nil {
		return nil, errors.New("[NewScheduler] refresher is required")
	}

	scheduler := &Scheduler{
		store:          store,
		inspector:      inspector,
		bus:            bus,
		refresher:      refresher,
		clk:            clock.New(),
		pollInterval:   defaultPollInterval,
		safetyMargin:   defaultSafetyMargin,
		floorInterval:  defaultFloorInterval,
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range options {
		opt(scheduler)
	}
	return scheduler, nil
}

// Start begins (or restarts) scheduling from the current store state. Safe
// to call while already running. If the stored token is already expired or
// inside the safety margin, the first refresh runs before Start returns.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.running = true
	s.stopTimerLocked()
	s.mu.Unlock()
	s.scheduleNext(gen)
}

// Stop cancels the pending wake timer. An in-flight refresh is allowed to
// finish but its result is discarded. The refreshing guard is left alone so
// that in-flight request can drain normally.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.running = false
	s.stopTimerLocked()
}

// RefreshNow forces a refresh attempt outside the normal schedule. It is a
// no-op when the scheduler is stopped or a refresh is already in flight.
func (s *Scheduler) RefreshNow() {
	s.mu.Lock()
	gen := s.generation
	running := s.running
	s.mu.Unlock()
	if !running {
		return
	}
	s.performRefresh(gen)
}

// scheduleNext inspects the stored credential and either polls, refreshes
// immediately, or sleeps until just before expiry.
func (s *Scheduler) scheduleNext(gen int) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}

	cred, _, err := s.store.Get()
	if err != nil || cred == nil || cred.AccessToken == "" {
		// Never attempt a refresh without a credential; poll until a login
		// stores one.
		s.armLocked(s.pollInterval, func() { s.scheduleNext(gen) })
		s.mu.Unlock()
		return
	}

	info := s.inspector.Inspect(cred.AccessToken)
	if info.IsExpired || info.WillExpireSoon {
		s.mu.Unlock()
		s.performRefresh(gen)
		return
	}

	wait := info.TimeUntilExpiration - s.safetyMargin
	if wait < s.floorInterval {
		wait = s.floorInterval
	}
	log.Debug().Dur("wait", wait).Msg("Next token refresh check scheduled")
	s.armLocked(wait, func() { s.scheduleNext(gen) })
	s.mu.Unlock()
}

// performRefresh runs one refresh attempt. The refreshing guard makes
// overlapping invocations collapse into a single request. The guard is
// cleared before the success-path reschedule: a renewed token that is
// already inside the safety margin must chain into another refresh, not be
// swallowed by the guard it itself still holds.
func (s *Scheduler) performRefresh(gen int) {
	s.mu.Lock()
	if gen != s.generation || s.refreshing {
		s.mu.Unlock()
		return
	}
	s.refreshing = true
	s.mu.Unlock()

	renewed := s.runRefresh(gen)

	s.mu.Lock()
	s.refreshing = false
	s.mu.Unlock()

	if renewed {
		s.scheduleNext(gen)
	}
}

// runRefresh performs the network exchange and persists the renewed
// credential. It reports whether the scheduler should chain into the next
// schedule check.
func (s *Scheduler) runRefresh(gen int) bool {
	cred, _, err := s.store.Get()
	if err != nil || cred == nil || cred.RefreshToken == "" {
		log.Warn().Msg("Refresh attempted with no refresh token, ending session")
		s.bus.Emit(events.TokenExpired, "no refresh token available")
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
	defer cancel()
	pair, refreshErr := s.refresher.Refresh(ctx, cred.RefreshToken)

	// Discard the outcome if Stop or a newer Start raced the request.
	s.mu.Lock()
	stale := gen != s.generation
	s.mu.Unlock()
	if stale {
		return false
	}

	if refreshErr != nil {
		s.failSession("token refresh failed: " + refreshErr.Error())
		return false
	}

	// Re-read the profile now rather than trusting a pre-request snapshot:
	// a profile update landing while the request was in flight must not be
	// reverted by the write-back below.
	_, profile, err := s.store.Get()
	if err != nil || profile == nil {
		// The session was torn down while the request was in flight; a
		// credential must never be persisted without its profile.
		s.failSession("profile missing during refresh")
		return false
	}

	newCred := credentials.Credential{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}
	if err := s.store.SetAll(newCred, *profile); err != nil {
		s.failSession("persisting refreshed credential failed: " + err.Error())
		return false
	}

	log.Debug().Msg("Access token refreshed")
	return true
}

func (s *Scheduler) failSession(message string) {
	log.Warn().Str("reason", message).Msg("Ending session after refresh failure")
	if err := s.store.Clear(); err != nil {
		log.Err(err).Msg("Failed to clear credential store")
	}
	s.bus.Emit(events.TokenExpired, message)
}

func (s *Scheduler) armLocked(d time.Duration, fn func()) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.clk.AfterFunc(d, fn)
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
