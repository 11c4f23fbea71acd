package storefakes

import (
	"sync"

	"github.com/scandocs/scandocs-go/credentials"
)

var _ credentials.Store = (*FakeStore)(nil)

// FakeStore is an in-memory credentials.Store for tests.
type FakeStore struct {
	lock    sync.RWMutex
	cred    *credentials.Credential
	profile *credentials.Profile

	// SetAllErr, when set, is returned by SetAll without writing anything.
	SetAllErr error
}

func NewFakeStore() *FakeStore {
	return &FakeStore{}
}

func (s *FakeStore) Get() (*credentials.Credential, *credentials.Profile, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	var cred *credentials.Credential
	var profile *credentials.Profile
	if s.cred != nil {
		c := *s.cred
		cred = &c
	}
	if s.profile != nil {
		p := *s.profile
		profile = &p
	}
	return cred, profile, nil
}

func (s *FakeStore) SetAll(cred credentials.Credential, profile credentials.Profile) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.SetAllErr != nil {
		return s.SetAllErr
	}
	s.cred = &cred
	s.profile = &profile
	return nil
}

func (s *FakeStore) SetProfile(profile credentials.Profile) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.profile = &profile
	return nil
}

func (s *FakeStore) Clear() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.cred = nil
	s.profile = nil
	return nil
}
