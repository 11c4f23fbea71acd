package token

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

const defaultExpirySoonThreshold = 5 * time.Minute

// ExpirationInfo is derived from the access token's exp claim; it is never
// stored.
type ExpirationInfo struct {
	IsExpired           bool
	WillExpireSoon      bool
	TimeUntilExpiration time.Duration
}

// Inspector extracts expiry information from access tokens. Tokens are JWTs
// whose exp claim is a Unix-seconds timestamp; the signature is deliberately
// not verified — validation is the server's job, the client only needs the
// timing. A token that fails to parse or carries no exp claim is treated as
// expired.
type Inspector struct {
	expirySoonThreshold time.Duration
	nowTime             func() time.Time
}

// InspectorOption modifies an Inspector.
type InspectorOption func(*Inspector)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) InspectorOption {
	return func(i *Inspector) {
		i.nowTime = nowFunc
	}
}

// WithExpirySoonThreshold sets how close to expiry a token must be before it
// is reported as expiring soon.
func WithExpirySoonThreshold(d time.Duration) InspectorOption {
	return func(i *Inspector) {
		i.expirySoonThreshold = d
	}
}

// NewInspector creates an Inspector with a 5 minute expiring-soon threshold
// unless overridden.
func NewInspector(options ...InspectorOption) *Inspector {
	inspector := &Inspector{
		expirySoonThreshold: defaultExpirySoonThreshold,
		nowTime:             NowTimeFunc,
	}
	for _, opt := range options {
		opt(inspector)
	}
	return inspector
}

// Inspect decodes the exp claim from rawToken and compares it to now.
func (i *Inspector) Inspect(rawToken string) ExpirationInfo {
	expiresAt, ok := i.expiresAt(rawToken)
	if !ok {
		return ExpirationInfo{IsExpired: true, WillExpireSoon: true}
	}
	remaining := expiresAt.Sub(i.nowTime())
	if remaining <= 0 {
		return ExpirationInfo{IsExpired: true, WillExpireSoon: true}
	}
	return ExpirationInfo{
		WillExpireSoon:      remaining <= i.expirySoonThreshold,
		TimeUntilExpiration: remaining,
	}
}

// IsExpired implements credentials.ExpiryChecker.
func (i *Inspector) IsExpired(rawToken string) bool {
	return i.Inspect(rawToken).IsExpired
}

func (i *Inspector) expiresAt(rawToken string) (time.Time, bool) {
	if rawToken == "" {
		return time.Time{}, false
	}
	// Parse unverified: only the embedded claims are needed.
	unverifiedToken, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	claims, ok := unverifiedToken.Claims.(jwtlib.MapClaims)
	if !ok {
		return time.Time{}, false
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(exp), 0), true
}
