// Package apifake is an in-memory stand-in for the e-learning REST API. It
// speaks the same envelope and error shapes and exposes knobs for driving the
// client through expiry and refresh scenarios in tests.
package apifake

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-elearn-client/apimodel"
	"github.com/rs/zerolog/log"
)

const (
	RefreshCookieName = "refreshToken"

	defaultAccessTokenTTL = 15 * time.Minute
	defaultRoles          = "STUDENT"
)

type account struct {
	ID           string
	AccountID    string
	Username     string
	Email        string
	PasswordHash string
	Roles        string
	Verified     bool
	Status       apimodel.UserStatus
	Profile      apimodel.UserProfileResponse
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (a *account) info() apimodel.UserInfo {
	return apimodel.UserInfo{ID: a.ID, Username: a.Username, Email: a.Email, Roles: a.Roles}
}

func (a *account) response() apimodel.UserResponse {
	profile := a.Profile
	return apimodel.UserResponse{
		ID:        a.ID,
		AccountID: a.AccountID,
		Username:  a.Username,
		Email:     a.Email,
		Status:    a.Status,
		Profile:   &profile,
		CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type Server struct {
	mux    *http.ServeMux
	routes []string

	secret        []byte
	accessTTL     time.Duration
	refreshInBody bool
	nowFunc       func() time.Time

	lock          sync.RWMutex
	accounts      map[string]*account // by id
	usernames     map[string]string   // lower-cased username to id
	emails        map[string]string   // lower-cased email to id
	otps          map[string]string   // lower-cased email to pending code
	refreshTokens map[string]string   // refresh token to id
	generation    int64

	knobs knobs
}

type ServerOption func(*Server)

// WithAccessTokenTTL sets the lifetime of issued access tokens.
func WithAccessTokenTTL(ttl time.Duration) ServerOption {
	return func(s *Server) {
		s.accessTTL = ttl
	}
}

// WithRefreshTokenInBody returns refresh tokens in the response body as well
// as the HTTP-only cookie, for clients running in token refresh mode.
func WithRefreshTokenInBody() ServerOption {
	return func(s *Server) {
		s.refreshInBody = true
	}
}

func WithNowFunc(now func() time.Time) ServerOption {
	return func(s *Server) {
		s.nowFunc = now
	}
}

func WithSecret(secret []byte) ServerOption {
	return func(s *Server) {
		s.secret = secret
	}
}

func New(options ...ServerOption) *Server {
	s := &Server{
		mux:           http.NewServeMux(),
		secret:        []byte(uuid.NewString()),
		accessTTL:     defaultAccessTokenTTL,
		nowFunc:       time.Now,
		accounts:      make(map[string]*account),
		usernames:     make(map[string]string),
		emails:        make(map[string]string),
		otps:          make(map[string]string),
		refreshTokens: make(map[string]string),
		knobs:         knobs{calls: make(map[string]int)},
	}
	for _, opt := range options {
		opt(s)
	}
	s.initRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteFunc(pattern string, handler http.HandlerFunc) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// Routes lists the registered patterns in registration order.
func (s *Server) Routes() []string {
	return append([]string(nil), s.routes...)
}

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("POST "+apimodel.RouteAuthRegister, ChainMiddleware(s.RegisterHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+apimodel.RouteAuthLogin, ChainMiddleware(s.LoginHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+apimodel.RouteAuthVerifyOtp, ChainMiddleware(s.VerifyOtpHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+apimodel.RouteAuthResendOtp, ChainMiddleware(s.ResendOtpHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+apimodel.RouteAuthRefresh, ChainMiddleware(s.RefreshHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+apimodel.RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware()...))

	s.RegisterRouteFunc("GET "+apimodel.RouteUserMe, ChainMiddleware(s.CurrentUserHandler(), s.APIMiddleware(s.RequireBearer)...))
	s.RegisterRouteFunc("GET "+apimodel.RouteUsers, ChainMiddleware(s.ListUsersHandler(), s.APIMiddleware(s.RequireBearer)...))
	s.RegisterRouteFunc("GET "+apimodel.RouteUsers+"/{id}", ChainMiddleware(s.GetUserHandler(), s.APIMiddleware(s.RequireBearer)...))
	s.RegisterRouteFunc("PUT "+apimodel.RouteUsers+"/{id}", ChainMiddleware(s.UpdateUserHandler(), s.APIMiddleware(s.RequireBearer)...))
	s.RegisterRouteFunc("DELETE "+apimodel.RouteUsers+"/{id}", ChainMiddleware(s.DeleteUserHandler(), s.APIMiddleware(s.RequireBearer)...))
	// username/{username} and {id}/profile overlap as mux patterns, so one handler serves both.
	s.RegisterRouteFunc("GET "+apimodel.RouteUsers+"/{id}/{sub}", ChainMiddleware(s.UserSubresourceHandler(), s.APIMiddleware(s.RequireBearer)...))
	s.RegisterRouteFunc("GET "+apimodel.RouteUsers+"/{id}/profile/me", ChainMiddleware(s.OwnProfileHandler(), s.APIMiddleware(s.RequireBearer)...))
	s.RegisterRouteFunc("PUT "+apimodel.RouteUsers+"/{id}/profile", ChainMiddleware(s.UpdateProfileHandler(), s.APIMiddleware(s.RequireBearer)...))

	s.logRoutes()
}

func (s *Server) logRoutes() {
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	log.Debug().Msgf("[%-19s] %s", displayMethod, path)
}

// AddUser seeds an account and returns its identity. Verified accounts can
// log in straight away.
func (s *Server) AddUser(username, email, password string, verified bool) (apimodel.UserInfo, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	a, err := s.createAccountLocked(username, email, password)
	if err != nil {
		return apimodel.UserInfo{}, err
	}
	a.Verified = verified
	if verified {
		a.Status = apimodel.UserStatusActive
	}
	return a.info(), nil
}

func (s *Server) createAccountLocked(username, email, password string) (*account, error) {
	if _, exists := s.usernames[strings.ToLower(username)]; exists {
		return nil, errUsernameTaken
	}
	if _, exists := s.emails[strings.ToLower(email)]; exists {
		return nil, errEmailTaken
	}
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.nowFunc()
	a := &account{
		ID:           uuid.NewString(),
		AccountID:    uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Roles:        defaultRoles,
		Status:       apimodel.UserStatusInactive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	a.Profile.ID = uuid.NewString()
	s.accounts[a.ID] = a
	s.usernames[strings.ToLower(username)] = a.ID
	s.emails[strings.ToLower(email)] = a.ID
	return a, nil
}

func (s *Server) accountByLogin(login string) (*account, bool) {
	key := strings.ToLower(login)
	id, ok := s.usernames[key]
	if !ok {
		id, ok = s.emails[key]
	}
	if !ok {
		return nil, false
	}
	a, ok := s.accounts[id]
	return a, ok
}
