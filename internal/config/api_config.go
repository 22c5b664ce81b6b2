package config

import (
	"strings"
	"time"
)

const (
	apiURLEnvVar      = "API_URL"
	apiTimeoutEnvVar  = "API_TIMEOUT"
	refreshModeEnvVar = "REFRESH_MODE"
	deviceIDEnvVar    = "DEVICE_ID"
)

// RefreshMode selects how the refresh credential travels to /auth/refresh.
type RefreshMode string

const (
	// RefreshModeCookie relies on an HTTP-only cookie set by the API. The
	// session store never sees the refresh secret.
	RefreshModeCookie RefreshMode = "cookie"

	// RefreshModeToken keeps the refresh token in the session record and sends
	// it in the request body.
	RefreshModeToken RefreshMode = "token"
)

type APIConfig interface {
	GetBaseURL() string
	GetRequestTimeout() time.Duration
	GetRefreshMode() RefreshMode
	GetDeviceID() string
	GetBootstrapPaths() []string
}

type API struct {
	source
}

var _ APIConfig = API{}

func (a API) GetBaseURL() string {
	return strings.TrimRight(a.get(apiURLEnvVar, "http://localhost:8080"), "/")
}

// GetRequestTimeout is applied to each network call individually.
func (a API) GetRequestTimeout() time.Duration {
	return a.duration(apiTimeoutEnvVar, 20*time.Second)
}

func (a API) GetRefreshMode() RefreshMode {
	return RefreshMode(strings.ToLower(a.get(refreshModeEnvVar, string(RefreshModeCookie))))
}

// GetDeviceID returns the configured device id, empty when one should be derived.
func (a API) GetDeviceID() string {
	return strings.TrimSpace(a.get(deviceIDEnvVar, ""))
}

// GetBootstrapPaths lists endpoints whose 401 can never be fixed by refreshing.
func (API) GetBootstrapPaths() []string {
	return []string{
		"/auth/login",
		"/auth/register",
		"/auth/verify-otp",
		"/auth/refresh",
		"/auth/logout",
	}
}
