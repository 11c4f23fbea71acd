package config

import "time"

type SessionConfig interface {
	GetPollInterval() time.Duration
	GetSafetyMargin() time.Duration
	GetFloorInterval() time.Duration
	GetExpirySoonThreshold() time.Duration
	GetRequestTimeout() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

// GetPollInterval is the re-check interval while no credential is stored.
func (Session) GetPollInterval() time.Duration {
	return 30 * time.Second
}

// GetSafetyMargin is how long before token expiry a refresh check aims to
// land.
func (Session) GetSafetyMargin() time.Duration {
	return 5 * time.Minute
}

// GetFloorInterval is the minimum sleep between refresh checks.
func (Session) GetFloorInterval() time.Duration {
	return 1 * time.Minute
}

// GetExpirySoonThreshold is how close to expiry a token counts as expiring
// soon (and triggers an immediate refresh).
func (Session) GetExpirySoonThreshold() time.Duration {
	return 5 * time.Minute
}

// GetRequestTimeout bounds the refresh HTTP call.
func (Session) GetRequestTimeout() time.Duration {
	return 30 * time.Second
}
