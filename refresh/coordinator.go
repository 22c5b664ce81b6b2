// Package refresh renews an expired access token. However many requests hit a
// 401 at once, only one refresh exchange is in flight and every waiter sees
// its outcome.
package refresh

import (
	"context"
	"time"

	"github.com/jrsteele09/go-elearn-client/apiclient"
	"github.com/jrsteele09/go-elearn-client/apimodel"
	clienterrors "github.com/jrsteele09/go-elearn-client/internal/errors"
	"github.com/jrsteele09/go-elearn-client/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// ErrRefreshFailed is returned for every failed refresh, wrapping the cause.
var ErrRefreshFailed = clienterrors.ErrRefreshFailed

const (
	DefaultTimeout = 20 * time.Second

	flightKey = "refresh"
)

// Mode selects where the refresh credential lives.
type Mode string

const (
	// ModeCookie relies on an HTTP-only cookie held in the shared cookie jar.
	ModeCookie Mode = "cookie"
	// ModeToken sends the refresh token kept in the session store.
	ModeToken Mode = "token"
)

// SessionStore is what the coordinator reads and updates.
type SessionStore interface {
	Token() *oauth2.Token
	User() *apimodel.UserInfo
	UpdateToken(ctx context.Context, token *oauth2.Token) error
}

var _ SessionStore = (*session.Store)(nil)

type Coordinator struct {
	store     SessionStore
	exchanger Exchanger
	mode      Mode
	timeout   time.Duration
	nowFunc   func() time.Time
	flight    singleflight.Group
}

var _ apiclient.TokenRefresher = (*Coordinator)(nil)

type CoordinatorOption func(*Coordinator)

func WithMode(mode Mode) CoordinatorOption {
	return func(c *Coordinator) {
		c.mode = mode
	}
}

// WithTimeout bounds the shared exchange, independent of any caller's context.
func WithTimeout(timeout time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.timeout = timeout
	}
}

func WithNowFunc(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.nowFunc = now
	}
}

func NewCoordinator(store SessionStore, exchanger Exchanger, options ...CoordinatorOption) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("[NewCoordinator] session store is required")
	}
	if exchanger == nil {
		return nil, errors.New("[NewCoordinator] exchanger is required")
	}

	c := &Coordinator{
		store:     store,
		exchanger: exchanger,
		mode:      ModeCookie,
		timeout:   DefaultTimeout,
		nowFunc:   time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	if c.mode != ModeCookie && c.mode != ModeToken {
		return nil, errors.Errorf("[NewCoordinator] unknown refresh mode %q", c.mode)
	}
	return c, nil
}

// Refresh returns a usable access token to replace staleToken. When the store
// already holds a different token (another caller refreshed first) that token
// is returned without a network call. Otherwise the caller joins the in-flight
// exchange or starts one. A cancelled ctx stops this caller waiting; the
// exchange itself carries on for the others.
func (c *Coordinator) Refresh(ctx context.Context, staleToken string) (string, error) {
	if current := c.currentAccessToken(); current != "" && current != staleToken {
		log.Debug().Msg("token already refreshed")
		return current, nil
	}

	results := c.flight.DoChan(flightKey, func() (any, error) {
		// A flight that settled between the check above and joining counts.
		if current := c.currentAccessToken(); current != "" && current != staleToken {
			return current, nil
		}
		detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.exchange(detached)
	})

	select {
	case res := <-results:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", failure("Coordinator.Refresh", ctx.Err())
	}
}

// Token runs a refresh and returns the whole renewed token.
func (c *Coordinator) Token(ctx context.Context) (*oauth2.Token, error) {
	if _, err := c.Refresh(ctx, c.currentAccessToken()); err != nil {
		return nil, err
	}
	tok := c.store.Token()
	if tok == nil {
		return nil, failure("Coordinator.Token", clienterrors.ErrNotAuthenticated)
	}
	return tok, nil
}

func (c *Coordinator) exchange(ctx context.Context) (string, error) {
	if c.store.User() == nil {
		return "", failure("Coordinator.exchange", clienterrors.ErrNotAuthenticated)
	}

	var refreshToken string
	if c.mode == ModeToken {
		if tok := c.store.Token(); tok != nil {
			refreshToken = tok.RefreshToken
		}
		if refreshToken == "" {
			return "", failure("Coordinator.exchange", clienterrors.ErrMissingToken)
		}
	}

	resp, err := c.exchanger.Exchange(ctx, refreshToken)
	if err != nil {
		return "", failure("Coordinator.exchange", err)
	}
	if resp.AccessToken == "" {
		return "", failure("Coordinator.exchange", clienterrors.ErrMissingToken)
	}

	token := session.TokenFromResponse(*resp, c.nowFunc())
	if err := c.store.UpdateToken(ctx, token); err != nil {
		if errors.Is(err, clienterrors.ErrNotAuthenticated) {
			return "", failure("Coordinator.exchange", err)
		}
		// The new token is live in memory; only persisting it failed.
		log.Err(err).Msg("failed to persist refreshed token")
	}
	log.Debug().Msg("access token refreshed")
	return token.AccessToken, nil
}

func (c *Coordinator) currentAccessToken() string {
	tok := c.store.Token()
	if tok == nil {
		return ""
	}
	return tok.AccessToken
}

// failure matches both ErrRefreshFailed and cause under errors.Is.
func failure(op string, cause error) error {
	return errors.Wrap(clienterrors.Mark(ErrRefreshFailed, cause), "["+op+"]")
}
