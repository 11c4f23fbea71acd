package refresh_test

import (
	"context"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/scandocs/scandocs-go/credentials"
	"github.com/scandocs/scandocs-go/credentials/storefakes"
	"github.com/scandocs/scandocs-go/events"
	"github.com/scandocs/scandocs-go/internal/clock/clockfakes"
	"github.com/scandocs/scandocs-go/refresh"
	"github.com/scandocs/scandocs-go/token"
)

var (
	schedulerEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	testProfile    = credentials.Profile{ID: "user-1", Name: "Jane Doe", Email: "jane@example.com", Role: "admin"}
)

func mintToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": "user-1",
		"exp": expiresAt.Unix(),
	})
	raw, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

var _ refresh.Refresher = (*fakeRefresher)(nil)

// fakeRefresher counts refresh requests. When started/release are set it
// blocks inside Refresh so tests can overlap invocations deterministically.
// pairs, when set, are handed out call by call (the last one repeats).
type fakeRefresher struct {
	mu      sync.Mutex
	calls   int
	pair    *refresh.TokenPair
	pairs   []*refresh.TokenPair
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeRefresher) Refresh(_ context.Context, _ string) (*refresh.TokenPair, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pairs) > 0 {
		idx := call - 1
		if idx >= len(f.pairs) {
			idx = len(f.pairs) - 1
		}
		return f.pairs[idx], nil
	}
	return f.pair, nil
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type schedulerFixture struct {
	store     *storefakes.FakeStore
	clk       *clockfakes.FakeClock
	bus       *events.Bus
	refresher *fakeRefresher
	scheduler *refresh.Scheduler

	eventMu sync.Mutex
	events  []events.Event
}

func setupScheduler(t *testing.T, refresher *fakeRefresher, options ...refresh.SchedulerOption) *schedulerFixture {
	t.Helper()

	f := &schedulerFixture{
		store:     storefakes.NewFakeStore(),
		clk:       clockfakes.NewFakeClock(schedulerEpoch),
		bus:       events.NewBus(),
		refresher: refresher,
	}
	f.bus.Subscribe(func(e events.Event) {
		f.eventMu.Lock()
		defer f.eventMu.Unlock()
		f.events = append(f.events, e)
	})

	inspector := token.NewInspector(token.WithNowTime(f.clk.Now))
	options = append([]refresh.SchedulerOption{refresh.WithClock(f.clk)}, options...)
	scheduler, err := refresh.NewScheduler(f.store, inspector, f.bus, refresher, options...)
	require.NoError(t, err)
	f.scheduler = scheduler
	t.Cleanup(scheduler.Stop)
	return f
}

func (f *schedulerFixture) seedToken(t *testing.T, expiresAt time.Time) {
	t.Helper()
	cred := credentials.Credential{AccessToken: mintToken(t, expiresAt), RefreshToken: "r1"}
	require.NoError(t, f.store.SetAll(cred, testProfile))
}

func (f *schedulerFixture) emitted() []events.Event {
	f.eventMu.Lock()
	defer f.eventMu.Unlock()
	out := make([]events.Event, len(f.events))
	copy(out, f.events)
	return out
}

func TestScheduler_AdaptiveSchedule(t *testing.T) {
	t.Run("wakes safety margin before expiry", func(t *testing.T) {
		f := setupScheduler(t, &fakeRefresher{},
			refresh.WithSafetyMargin(6*time.Minute),
			refresh.WithFloorInterval(1*time.Minute),
		)
		f.seedToken(t, schedulerEpoch.Add(10*time.Minute))

		f.scheduler.Start()

		wake, ok := f.clk.NextWake()
		require.True(t, ok)
		require.Equal(t, 4*time.Minute, wake)
		require.Zero(t, f.refresher.callCount())
	})

	t.Run("floor interval prevents a too-short sleep", func(t *testing.T) {
		f := setupScheduler(t, &fakeRefresher{},
			refresh.WithSafetyMargin(6*time.Minute),
			refresh.WithFloorInterval(1*time.Minute),
		)
		f.seedToken(t, schedulerEpoch.Add(6*time.Minute+30*time.Second))

		f.scheduler.Start()

		wake, ok := f.clk.NextWake()
		require.True(t, ok)
		require.Equal(t, 1*time.Minute, wake)
	})

	t.Run("token inside the margin refreshes immediately", func(t *testing.T) {
		refresher := &fakeRefresher{pair: &refresh.TokenPair{
			AccessToken:  mintToken(t, schedulerEpoch.Add(1*time.Hour)),
			RefreshToken: "r2",
		}}
		f := setupScheduler(t, refresher, refresh.WithSafetyMargin(6*time.Minute))
		f.seedToken(t, schedulerEpoch.Add(2*time.Minute))

		f.scheduler.Start()

		require.Equal(t, 1, refresher.callCount())
		cred, _, err := f.store.Get()
		require.NoError(t, err)
		require.Equal(t, "r2", cred.RefreshToken)
		// Renewed token reschedules the next check.
		_, ok := f.clk.NextWake()
		require.True(t, ok)
	})
}

func TestScheduler_NoCredential(t *testing.T) {
	f := setupScheduler(t, &fakeRefresher{}, refresh.WithPollInterval(30*time.Second))

	f.scheduler.Start()

	wake, ok := f.clk.NextWake()
	require.True(t, ok)
	require.Equal(t, 30*time.Second, wake)
	require.Zero(t, f.refresher.callCount())

	// A login mid-poll is picked up on the next wake.
	f.seedToken(t, schedulerEpoch.Add(2*time.Hour))
	f.clk.Advance(30 * time.Second)
	wake, ok = f.clk.NextWake()
	require.True(t, ok)
	require.Greater(t, wake, 30*time.Second)
}

func TestScheduler_RenewsBeforeExpiry(t *testing.T) {
	refresher := &fakeRefresher{pair: &refresh.TokenPair{
		AccessToken:  mintToken(t, schedulerEpoch.Add(2*time.Hour)),
		RefreshToken: "r2",
	}}
	f := setupScheduler(t, refresher)
	f.seedToken(t, schedulerEpoch.Add(1*time.Hour))

	f.scheduler.Start()
	require.Zero(t, refresher.callCount())

	// Walk virtual time forward; the token expires at +1h, so the refresh
	// must have fired by then.
	f.clk.Advance(59 * time.Minute)
	require.Equal(t, 1, refresher.callCount())
	cred, profile, err := f.store.Get()
	require.NoError(t, err)
	require.Equal(t, "r2", cred.RefreshToken)
	require.Equal(t, &testProfile, profile)
	require.Empty(t, f.emitted())
}

func TestScheduler_NoOverlap(t *testing.T) {
	refresher := &fakeRefresher{
		pair: &refresh.TokenPair{
			AccessToken:  mintToken(t, schedulerEpoch.Add(2*time.Hour)),
			RefreshToken: "r2",
		},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	f := setupScheduler(t, refresher)
	f.seedToken(t, schedulerEpoch.Add(1*time.Hour))
	f.scheduler.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.scheduler.RefreshNow()
	}()
	<-refresher.started

	// Second invocation while the first request is still in flight: the
	// refreshing guard must swallow it.
	f.scheduler.RefreshNow()

	close(refresher.release)
	<-done
	require.Equal(t, 1, refresher.callCount())
}

// A renewed token that is itself already inside the safety margin must
// chain straight into the next refresh; the refreshing guard only collapses
// overlapping attempts, it must not swallow the follow-up and leave the
// scheduler dormant with no timer armed.
func TestScheduler_ShortLivedRenewalChainsAnotherRefresh(t *testing.T) {
	refresher := &fakeRefresher{pairs: []*refresh.TokenPair{
		{AccessToken: mintToken(t, schedulerEpoch.Add(3*time.Minute)), RefreshToken: "r2"},
		{AccessToken: mintToken(t, schedulerEpoch.Add(1*time.Hour)), RefreshToken: "r3"},
	}}
	f := setupScheduler(t, refresher)
	f.seedToken(t, schedulerEpoch.Add(-1*time.Minute))

	f.scheduler.Start()

	require.Equal(t, 2, refresher.callCount())
	cred, _, err := f.store.Get()
	require.NoError(t, err)
	require.Equal(t, "r3", cred.RefreshToken)
	require.Empty(t, f.emitted())
	require.Equal(t, 1, f.clk.PendingTimers())
}

// A profile update landing while the refresh request is in flight must not
// be reverted by the credential write-back.
func TestScheduler_InFlightProfileUpdateSurvivesRefresh(t *testing.T) {
	refresher := &fakeRefresher{
		pair: &refresh.TokenPair{
			AccessToken:  mintToken(t, schedulerEpoch.Add(2*time.Hour)),
			RefreshToken: "r2",
		},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	f := setupScheduler(t, refresher)
	f.seedToken(t, schedulerEpoch.Add(1*time.Hour))
	f.scheduler.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.scheduler.RefreshNow()
	}()
	<-refresher.started

	updated := testProfile
	updated.Name = "Jane Smith"
	require.NoError(t, f.store.SetProfile(updated))

	close(refresher.release)
	<-done

	cred, profile, err := f.store.Get()
	require.NoError(t, err)
	require.Equal(t, "r2", cred.RefreshToken)
	require.Equal(t, "Jane Smith", profile.Name)
}

func TestScheduler_RefreshFailureEndsSession(t *testing.T) {
	refresher := &fakeRefresher{err: errors.New("boom")}
	f := setupScheduler(t, refresher)
	f.seedToken(t, schedulerEpoch.Add(-1*time.Minute))

	f.scheduler.Start()

	require.Equal(t, 1, refresher.callCount())
	cred, profile, err := f.store.Get()
	require.NoError(t, err)
	require.Nil(t, cred)
	require.Nil(t, profile)

	emitted := f.emitted()
	require.Len(t, emitted, 1)
	require.Equal(t, events.TokenExpired, emitted[0].Type)
	require.Contains(t, emitted[0].Message, "boom")

	// Terminal: nothing rescheduled.
	require.Zero(t, f.clk.PendingTimers())
}

func TestScheduler_MissingRefreshToken(t *testing.T) {
	f := setupScheduler(t, &fakeRefresher{})
	cred := credentials.Credential{AccessToken: mintToken(t, schedulerEpoch.Add(-1*time.Minute))}
	require.NoError(t, f.store.SetAll(cred, testProfile))

	f.scheduler.Start()

	require.Zero(t, f.refresher.callCount())
	emitted := f.emitted()
	require.Len(t, emitted, 1)
	require.Equal(t, events.TokenExpired, emitted[0].Type)
	require.Zero(t, f.clk.PendingTimers())
}

func TestScheduler_StopDiscardsInFlightResult(t *testing.T) {
	refresher := &fakeRefresher{
		pair: &refresh.TokenPair{
			AccessToken:  mintToken(t, schedulerEpoch.Add(2*time.Hour)),
			RefreshToken: "r2",
		},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	f := setupScheduler(t, refresher)
	f.seedToken(t, schedulerEpoch.Add(1*time.Hour))
	f.scheduler.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.scheduler.RefreshNow()
	}()
	<-refresher.started

	f.scheduler.Stop()
	close(refresher.release)
	<-done

	// The completed request must not resurrect session state.
	cred, _, err := f.store.Get()
	require.NoError(t, err)
	require.Equal(t, "r1", cred.RefreshToken)
	require.Zero(t, f.clk.PendingTimers())
	require.Empty(t, f.emitted())
}

func TestScheduler_StartStopIdempotent(t *testing.T) {
	f := setupScheduler(t, &fakeRefresher{})
	f.seedToken(t, schedulerEpoch.Add(1*time.Hour))

	f.scheduler.Start()
	f.scheduler.Start()
	require.Equal(t, 1, f.clk.PendingTimers())

	f.scheduler.Stop()
	require.Zero(t, f.clk.PendingTimers())
	f.scheduler.Stop()
	require.Zero(t, f.clk.PendingTimers())
}

func TestNewScheduler_RequiredDependencies(t *testing.T) {
	store := storefakes.NewFakeStore()
	inspector := token.NewInspector()
	bus := events.NewBus()

	_, err := refresh.NewScheduler(nil, inspector, bus, &fakeRefresher{})
	require.Error(t, err)
	_, err = refresh.NewScheduler(store, nil, bus, &fakeRefresher{})
	require.Error(t, err)
	_, err = refresh.NewScheduler(store, inspector, nil, &fakeRefresher{})
	require.Error(t, err)
	_, err = refresh.NewScheduler(store, inspector, bus, nil)
	require.Error(t, err)
}
