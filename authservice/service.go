// Package authservice wraps the /auth endpoints: registration, OTP
// verification, login, refresh and logout. Successful logins land in the
// session store.
package authservice

import (
	"context"
	"net/http"
	"time"

	"github.com/jrsteele09/go-elearn-client/apiclient"
	"github.com/jrsteele09/go-elearn-client/apimodel"
	clienterrors "github.com/jrsteele09/go-elearn-client/internal/errors"
	"github.com/jrsteele09/go-elearn-client/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// SessionStore is the part of the session store the service writes to.
type SessionStore interface {
	SetAuth(ctx context.Context, user apimodel.UserInfo, token *oauth2.Token) error
	ClearAuth(ctx context.Context) error
	IsAuthenticated() bool
}

var _ SessionStore = (*session.Store)(nil)

// TokenRenewer performs an explicit refresh.
type TokenRenewer interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

type Service struct {
	client    *apiclient.Client
	store     SessionStore
	renewer   TokenRenewer
	validator *Validator
	deviceID  string
	nowFunc   func() time.Time
}

type Option func(*Service)

// WithDeviceID sets the id sent on login and OTP verification.
func WithDeviceID(id string) Option {
	return func(s *Service) {
		s.deviceID = id
	}
}

// WithRenewer enables Refresh.
func WithRenewer(r TokenRenewer) Option {
	return func(s *Service) {
		s.renewer = r
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(s *Service) {
		s.nowFunc = now
	}
}

func New(client *apiclient.Client, store SessionStore, options ...Option) (*Service, error) {
	if client == nil {
		return nil, errors.New("[authservice.New] api client is required")
	}
	if store == nil {
		return nil, errors.New("[authservice.New] session store is required")
	}

	s := &Service{
		client:    client,
		store:     store,
		validator: NewValidator(),
		nowFunc:   time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	s.deviceID = DeviceID(s.deviceID)
	return s, nil
}

// DeviceID is the id this service identifies the device with.
func (s *Service) DeviceID() string {
	return s.deviceID
}

// Register creates an account. The API emails an OTP that VerifyOTP completes.
func (s *Service) Register(ctx context.Context, form RegisterForm) (*apimodel.RegisterResponse, error) {
	if err := s.validator.ValidateRegistration(form); err != nil {
		return nil, err
	}

	resp, err := apiclient.DoData[apimodel.RegisterResponse](ctx, s.client, apiclient.Request{
		Method: http.MethodPost,
		Path:   apimodel.RouteAuthRegister,
		Body: apimodel.RegisterRequest{
			Username: form.Username,
			Email:    form.Email,
			Password: form.Password,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Register] POST")
	}
	return resp, nil
}

// Login authenticates with a username or email and starts a session.
func (s *Service) Login(ctx context.Context, account, password string) (*apimodel.LoginResponse, error) {
	if err := s.validator.ValidateLogin(account, password); err != nil {
		return nil, err
	}

	resp, err := apiclient.DoData[apimodel.LoginResponse](ctx, s.client, apiclient.Request{
		Method: http.MethodPost,
		Path:   apimodel.RouteAuthLogin,
		Body: apimodel.LoginRequest{
			Account:  account,
			Password: password,
			DeviceID: s.deviceID,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Login] POST")
	}
	if err := s.startSession(ctx, resp); err != nil {
		return nil, errors.Wrap(err, "[Service.Login] startSession")
	}
	log.Debug().Str("user", resp.User.Username).Msg("logged in")
	return resp, nil
}

// VerifyOTP completes registration. The API logs the user in on success.
func (s *Service) VerifyOTP(ctx context.Context, email, otp string) (*apimodel.LoginResponse, error) {
	if err := s.validator.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateOTP(otp); err != nil {
		return nil, err
	}

	resp, err := apiclient.DoData[apimodel.LoginResponse](ctx, s.client, apiclient.Request{
		Method: http.MethodPost,
		Path:   apimodel.RouteAuthVerifyOtp,
		Body: apimodel.VerifyOtpRequest{
			Email:    email,
			Otp:      otp,
			DeviceID: s.deviceID,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Service.VerifyOTP] POST")
	}
	if err := s.startSession(ctx, resp); err != nil {
		return nil, errors.Wrap(err, "[Service.VerifyOTP] startSession")
	}
	log.Debug().Str("user", resp.User.Username).Msg("email verified")
	return resp, nil
}

func (s *Service) ResendOTP(ctx context.Context, email string) error {
	if err := s.validator.ValidateEmail(email); err != nil {
		return err
	}
	_, err := apiclient.Do[struct{}](ctx, s.client, apiclient.Request{
		Method: http.MethodPost,
		Path:   apimodel.RouteAuthResendOtp,
		Body:   apimodel.ResendOtpRequest{Email: email},
	})
	if err != nil {
		return errors.Wrap(err, "[Service.ResendOTP] POST")
	}
	return nil
}

// Refresh renews the access token now rather than waiting for a 401.
func (s *Service) Refresh(ctx context.Context) (*oauth2.Token, error) {
	if s.renewer == nil {
		return nil, errors.Wrap(clienterrors.ErrUnsupported, "[Service.Refresh] no refresher configured")
	}
	tok, err := s.renewer.Token(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Refresh] renewer.Token")
	}
	return tok, nil
}

// Logout tells the API, when there is a session to end, and clears the local
// session whatever the API says. Logging out twice is fine.
func (s *Service) Logout(ctx context.Context) error {
	if s.store.IsAuthenticated() {
		_, err := apiclient.Do[struct{}](ctx, s.client, apiclient.Request{
			Method: http.MethodPost,
			Path:   apimodel.RouteAuthLogout,
		})
		if err != nil {
			log.Err(err).Msg("logout request failed, clearing local session anyway")
		}
	}
	if err := s.store.ClearAuth(ctx); err != nil {
		return errors.Wrap(err, "[Service.Logout] store.ClearAuth")
	}
	return nil
}

func (s *Service) startSession(ctx context.Context, resp *apimodel.LoginResponse) error {
	if resp.AccessToken == "" {
		return clienterrors.ErrMissingToken
	}
	if resp.User == nil {
		return errors.Wrap(clienterrors.ErrEmptyEnvelope, "response has no user")
	}
	if err := s.store.SetAuth(ctx, *resp.User, session.TokenFromResponse(*resp, s.nowFunc())); err != nil {
		// The session is live in memory; it just won't survive a restart.
		log.Err(err).Msg("failed to persist session")
	}
	return nil
}
