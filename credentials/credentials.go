package credentials

import (
	"github.com/pkg/errors"
)

// Credential is the bearer token pair issued by the ScanDocs auth service.
// Both tokens are opaque to this SDK except for expiry extraction from the
// access token (see the token package).
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Profile is the user identity shown by the frontend. The SDK stores it and
// hands it back; it never interprets the fields.
type Profile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	CompanyName string `json:"company_name,omitempty"`
}

// ErrNotSet is returned by Store.Get implementations when no credential has
// been persisted.
var ErrNotSet = errors.New("credentials not set")

// Store is durable persistence for the credential pair and profile. It is
// the single source of truth for authenticated-ness: no other component may
// hold a divergent copy it forgets to invalidate.
type Store interface {
	// Get returns the persisted credential and profile. Either may be nil
	// when absent; an empty store returns (nil, nil, nil).
	Get() (*Credential, *Profile, error)

	// SetAll persists both values atomically: on error nothing is written.
	SetAll(Credential, Profile) error

	// SetProfile updates the profile without touching the credential.
	SetProfile(Profile) error

	// Clear removes the credential and profile together.
	Clear() error
}

// ExpiryChecker reports whether a raw access token has expired. Implemented
// by token.Inspector.
type ExpiryChecker interface {
	IsExpired(rawToken string) bool
}

// IsAuthenticated reports whether the store holds a full credential pair and
// profile whose access token has not expired. Store read errors count as
// unauthenticated.
func IsAuthenticated(s Store, checker ExpiryChecker) bool {
	cred, profile, err := s.Get()
	if err != nil || cred == nil || profile == nil {
		return false
	}
	if cred.AccessToken == "" {
		return false
	}
	return !checker.IsExpired(cred.AccessToken)
}
