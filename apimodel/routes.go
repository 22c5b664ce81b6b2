package apimodel

import "net/url"

// API route constants shared by the client services and the test backend.
const (
	RouteAuthRegister  = "/auth/register"
	RouteAuthLogin     = "/auth/login"
	RouteAuthVerifyOtp = "/auth/verify-otp"
	RouteAuthResendOtp = "/auth/resend-otp"
	RouteAuthRefresh   = "/auth/refresh"
	RouteAuthLogout    = "/auth/logout"

	RouteUsers  = "/api/users"
	RouteUserMe = "/api/users/me"
)

// UserPath is /api/users/{id}.
func UserPath(id string) string {
	return RouteUsers + "/" + url.PathEscape(id)
}

// UserByUsernamePath is /api/users/username/{username}.
func UserByUsernamePath(username string) string {
	return RouteUsers + "/username/" + url.PathEscape(username)
}

// ProfilePath is /api/users/{id}/profile.
func ProfilePath(userID string) string {
	return UserPath(userID) + "/profile"
}

// OwnProfilePath is /api/users/{id}/profile/me.
func OwnProfilePath(userID string) string {
	return ProfilePath(userID) + "/me"
}
