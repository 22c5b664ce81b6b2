package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-elearn-client/apimodel"
	"golang.org/x/oauth2"
)

// StorageName is the default name of the persisted session record.
const StorageName = "auth-storage"

// Session is a point-in-time copy of the authenticated user's standing.
type Session struct {
	User     *apimodel.UserInfo // nil when logged out
	Token    *oauth2.Token      // nil when logged out
	Hydrated bool               // persisted state has been loaded
}

// IsAuthenticated is true iff both a user and an access token are present.
func (s Session) IsAuthenticated() bool {
	return s.User != nil && s.AccessToken() != ""
}

func (s Session) AccessToken() string {
	if s.Token == nil {
		return ""
	}
	return s.Token.AccessToken
}

func (s Session) RefreshToken() string {
	if s.Token == nil {
		return ""
	}
	return s.Token.RefreshToken
}

// Record is the durable form of a session.
type Record struct {
	User         *apimodel.UserInfo `json:"user,omitempty"`
	AccessToken  string             `json:"accessToken,omitempty"`
	RefreshToken string             `json:"refreshToken,omitempty"`
	TokenType    string             `json:"tokenType,omitempty"`
	Expiry       time.Time          `json:"expiry,omitzero"`

	// Cookies is only set on cookie records kept by CookieJar.
	Cookies []Cookie `json:"cookies,omitempty"`
}

// Cookie is a name/value pair held for the API host.
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (r Record) token() *oauth2.Token {
	if r.AccessToken == "" {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		Expiry:       r.Expiry,
	}
}

// TokenFromResponse converts a login, OTP verification or refresh payload to a token.
// Expiry comes from expires_in, falling back to the access token's exp claim.
func TokenFromResponse(resp apimodel.LoginResponse, now time.Time) *oauth2.Token {
	t := &oauth2.Token{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
	}
	if resp.RefreshToken != nil {
		t.RefreshToken = *resp.RefreshToken
	}
	if resp.ExpiresIn > 0 {
		t.Expiry = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	} else if exp, ok := AccessTokenExpiry(resp.AccessToken); ok {
		t.Expiry = exp
	}
	return t
}

// AccessTokenExpiry reads the exp claim of a JWT-shaped access token. The
// signature is not checked: the value only drives display and expiry hints,
// the API remains the authority on validity.
func AccessTokenExpiry(accessToken string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
