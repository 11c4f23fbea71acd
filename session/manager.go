package session

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/scandocs/scandocs-go/credentials"
	"github.com/scandocs/scandocs-go/events"
	"github.com/scandocs/scandocs-go/internal/utils"
	"github.com/scandocs/scandocs-go/token"
)

// Status is the session state.
type Status string

const (
	Anonymous     Status = "anonymous"
	Authenticated Status = "authenticated"
)

// Session is the in-memory view handed to callers. Profile is nil while
// anonymous.
type Session struct {
	Status  Status
	Profile *credentials.Profile
}

// Navigator receives the navigation side effects of session transitions.
// User-initiated logout and forced expiration are kept distinct so the
// frontend can route them differently (landing page vs. login screen).
type Navigator interface {
	LoggedIn()
	LoggedOut()
	SessionExpired()
}

// Runner is the refresh scheduler seam.
type Runner interface {
	Start()
	Stop()
}

// Manager is the session state machine. Every mutator updates the credential
// store and the in-memory state together, so the two never diverge for more
// than one synchronous tick.
type Manager struct {
	store     credentials.Store
	inspector *token.Inspector
	bus       *events.Bus
	scheduler Runner
	navigator Navigator

	mu          sync.Mutex
	status      Status
	profile     *credentials.Profile
	unsubscribe func()
}

// NewManager initializes a Manager with required dependencies and subscribes
// it to session signals on the bus.
func NewManager(
	store credentials.Store,
	inspector *token.Inspector,
	bus *events.Bus,
	scheduler Runner,
	navigator Navigator,
) (*Manager, error) {
	if store == nil {
		return nil, errors.New("[NewManager] store is required")
	}
	if inspector == nil {
		return nil, errors.New("[NewManager] inspector is required")
	}
	if bus == nil {
		return nil, errors.New("[NewManager] bus is required")
	}
	if scheduler == nil {
		return nil, errors.New("[NewManager] scheduler is required")
	}
	if navigator == nil {
		return nil, errors.New("[NewManager] navigator is required")
	}

	manager := &Manager{
		store:     store,
		inspector: inspector,
		bus:       bus,
		scheduler: scheduler,
		navigator: navigator,
		status:    Anonymous,
	}
	manager.unsubscribe = bus.Subscribe(manager.onEvent)
	return manager, nil
}

// Initialize restores the session from the credential store. Called exactly
// once at process start.
func (m *Manager) Initialize() {
	if credentials.IsAuthenticated(m.store, m.inspector) {
		_, profile, _ := m.store.Get()
		m.mu.Lock()
		m.status = Authenticated
		m.profile = profile
		m.mu.Unlock()
		m.scheduler.Start()
		log.Info().Msg("Session restored from stored credentials")
		return
	}

	// Wipe any stale partial state (e.g. a credential whose profile write
	// never landed).
	if err := m.store.Clear(); err != nil {
		log.Err(err).Msg("Failed to clear stale credentials")
	}
	m.mu.Lock()
	m.status = Anonymous
	m.profile = nil
	m.mu.Unlock()
}

// Login persists the credential pair and profile, marks the session
// authenticated and starts the refresh scheduler. The login navigation
// fires before the scheduler starts: Start may refresh an already-expired
// credential synchronously, and a failure there must leave the forced
// expiration redirect as the final navigation, not the logged-in one.
func (m *Manager) Login(cred credentials.Credential, profile credentials.Profile) error {
	if err := m.store.SetAll(cred, profile); err != nil {
		return errors.Wrap(err, "[Manager.Login] persisting credentials")
	}
	m.mu.Lock()
	m.status = Authenticated
	m.profile = utils.Ptr(profile)
	m.mu.Unlock()
	m.navigator.LoggedIn()
	m.scheduler.Start()
	return nil
}

// Logout is the user-initiated teardown: scheduler stopped, store cleared,
// state anonymous, navigation to the logged-out route.
func (m *Manager) Logout() error {
	m.scheduler.Stop()
	if err := m.store.Clear(); err != nil {
		return errors.Wrap(err, "[Manager.Logout] clearing credentials")
	}
	m.mu.Lock()
	m.status = Anonymous
	m.profile = nil
	m.mu.Unlock()
	m.navigator.LoggedOut()
	return nil
}

// UpdateProfile replaces the stored profile without touching the credential
// or the session status.
func (m *Manager) UpdateProfile(profile credentials.Profile) error {
	if err := m.store.SetProfile(profile); err != nil {
		return errors.Wrap(err, "[Manager.UpdateProfile] persisting profile")
	}
	m.mu.Lock()
	m.profile = utils.Ptr(profile)
	m.mu.Unlock()
	return nil
}

// Current returns a copy of the session state.
func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := Session{Status: m.status}
	if m.profile != nil {
		session.Profile = utils.Ptr(*m.profile)
	}
	return session
}

// IsAuthenticated reports the in-memory status.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status == Authenticated
}

// Close unsubscribes from the bus and stops the scheduler. For full
// teardown only.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	m.scheduler.Stop()
}

func (m *Manager) onEvent(event events.Event) {
	switch event.Type {
	case events.TokenExpired, events.Unauthorized:
		log.Warn().
			Str("event_type", string(event.Type)).
			Str("reason", event.Message).
			Msg("Session force-expired")
		m.forceLogout()
	case events.LogoutRequired:
		if err := m.Logout(); err != nil {
			log.Err(err).Msg("Requested logout failed")
		}
	}
}

// forceLogout ends the session like Logout but routes through the
// forced-expiration navigation path.
func (m *Manager) forceLogout() {
	m.scheduler.Stop()
	if err := m.store.Clear(); err != nil {
		log.Err(err).Msg("Failed to clear credentials on forced logout")
	}
	m.mu.Lock()
	m.status = Anonymous
	m.profile = nil
	m.mu.Unlock()
	m.navigator.SessionExpired()
}
