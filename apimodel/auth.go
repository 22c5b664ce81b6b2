package apimodel

// RegisterRequest creates an account and triggers an OTP email.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterResponse is returned by /auth/register.
type RegisterResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`

	// NeedsVerification is true until the OTP sent by email has been verified.
	NeedsVerification bool   `json:"needsVerification"`
	Message           string `json:"message,omitempty"`
}

// LoginRequest authenticates with a username or email.
type LoginRequest struct {
	// Account is either the username or the email address.
	Account  string `json:"account"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId,omitempty"`
}

// LoginResponse is returned by /auth/login, /auth/verify-otp and /auth/refresh.
// The refresh endpoint may only populate AccessToken.
type LoginResponse struct {
	// AccessToken is the short-lived bearer credential.
	// Usage: Authorization: Bearer <access_token>
	AccessToken string `json:"access_token"`

	// RefreshToken is only present when the API does not use an HTTP-only cookie.
	RefreshToken *string `json:"refresh_token,omitempty"`

	// TokenType is normally "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the access token lifetime in seconds. A hint only.
	ExpiresIn int `json:"expires_in,omitempty"`

	User *UserInfo `json:"user,omitempty"`
}

// UserInfo is the identity kept in the session.
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Roles    string `json:"roles"`
}

// UserPatch carries the identity fields to merge into the session user.
// Nil fields are left untouched.
type UserPatch struct {
	Username *string
	Email    *string
	Roles    *string
}

// Apply returns u with the non-nil fields of p merged in.
func (p UserPatch) Apply(u UserInfo) UserInfo {
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Roles != nil {
		u.Roles = *p.Roles
	}
	return u
}

// VerifyOtpRequest completes registration with the emailed code.
type VerifyOtpRequest struct {
	Email    string `json:"email"`
	Otp      string `json:"otp"`
	DeviceID string `json:"deviceId,omitempty"`
}

type ResendOtpRequest struct {
	Email string `json:"email"`
}

// RefreshRequest carries the refresh token in token refresh mode. In cookie
// mode it marshals to {} and the cookie carries the credential.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}
