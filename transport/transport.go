package transport

import (
	"net/http"

	"github.com/scandocs/scandocs-go/credentials"
	"github.com/scandocs/scandocs-go/events"
)

var _ http.RoundTripper = (*RoundTripper)(nil)

// RoundTripper injects the stored bearer token into outgoing requests and
// surfaces server-side rejection: a 401 response emits UNAUTHORIZED on the
// bus (the session state machine reacts from there) and is then returned to
// the caller unmodified.
type RoundTripper struct {
	store credentials.Store
	bus   *events.Bus
	base  http.RoundTripper
}

// New wraps base (http.DefaultTransport when nil).
func New(store credentials.Store, bus *events.Bus, base http.RoundTripper) *RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RoundTripper{store: store, bus: bus, base: base}
}

func (t *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cred, _, err := t.store.Get()
	if err == nil && cred != nil && cred.AccessToken != "" {
		// Clone before mutating: RoundTrippers must not modify the request.
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		t.bus.Emit(events.Unauthorized, "request to "+req.URL.Path+" rejected")
	}
	return resp, nil
}
