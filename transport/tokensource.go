package transport

import (
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/scandocs/scandocs-go/credentials"
)

// TokenSource adapts the credential store to oauth2.TokenSource so standard
// Go HTTP tooling can consume the session's tokens. Renewal stays with the
// refresh scheduler; this source only reads.
func TokenSource(store credentials.Store) oauth2.TokenSource {
	return &storeTokenSource{store: store}
}

type storeTokenSource struct {
	store credentials.Store
}

func (s *storeTokenSource) Token() (*oauth2.Token, error) {
	cred, _, err := s.store.Get()
	if err != nil {
		return nil, errors.Wrap(err, "[TokenSource] reading credential store")
	}
	if cred == nil || cred.AccessToken == "" {
		return nil, credentials.ErrNotSet
	}
	return &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    "Bearer",
	}, nil
}
