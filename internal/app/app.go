// Package app assembles the client from configuration: session storage, the
// refresh coordinator, the API pipeline and the services on top of it.
package app

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"

	"github.com/jrsteele09/go-elearn-client/apiclient"
	"github.com/jrsteele09/go-elearn-client/apimodel"
	"github.com/jrsteele09/go-elearn-client/authservice"
	"github.com/jrsteele09/go-elearn-client/internal/config"
	"github.com/jrsteele09/go-elearn-client/refresh"
	"github.com/jrsteele09/go-elearn-client/session"
	"github.com/jrsteele09/go-elearn-client/session/filestore"
	"github.com/jrsteele09/go-elearn-client/session/redisstore"
	"github.com/jrsteele09/go-elearn-client/userservice"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type App struct {
	Config  config.Config
	Store   *session.Store
	Client  *apiclient.Client
	Refresh *refresh.Coordinator
	Auth    *authservice.Service
	Users   *userservice.Service

	closers []io.Closer
}

type Option func(*options)

type options struct {
	repo      session.Repo
	transport http.RoundTripper
}

// WithRepo replaces the configured storage backend.
func WithRepo(repo session.Repo) Option {
	return func(o *options) {
		o.repo = repo
	}
}

// WithTransport sets the transport under both the API pipeline and the refresh exchange.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// New wires the client and hydrates the session. A hydration failure is
// logged and leaves the session signed out.
func New(ctx context.Context, c config.Config, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{Config: c}

	repo := o.repo
	if repo == nil {
		r, closer, err := NewRepo(c)
		if err != nil {
			return nil, errors.Wrap(err, "[app.New] NewRepo")
		}
		repo = r
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}

	storeOptions := []session.StoreOption{session.WithName(c.GetStorageName())}
	if c.GetRefreshMode() == config.RefreshModeToken {
		storeOptions = append(storeOptions, session.WithRefreshToken())
	}
	store, err := session.NewStore(repo, storeOptions...)
	if err != nil {
		return nil, errors.Wrap(err, "[app.New] session.NewStore")
	}
	if err := store.Hydrate(ctx); err != nil {
		log.Warn().Err(err).Msg("could not load the saved session, continuing signed out")
	}
	a.Store = store

	jar, err := newCookieJar(ctx, c, repo)
	if err != nil {
		return nil, errors.Wrap(err, "[app.New] newCookieJar")
	}

	exchangeClient := &http.Client{Jar: jar, Timeout: c.GetRequestTimeout(), Transport: o.transport}
	exchanger, err := refresh.NewHTTPExchanger(c.GetBaseURL(), exchangeClient)
	if err != nil {
		return nil, errors.Wrap(err, "[app.New] refresh.NewHTTPExchanger")
	}
	a.Refresh, err = refresh.NewCoordinator(store, exchanger,
		refresh.WithMode(refresh.Mode(c.GetRefreshMode())),
		refresh.WithTimeout(c.GetRequestTimeout()),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[app.New] refresh.NewCoordinator")
	}

	clientOptions := []apiclient.Option{
		apiclient.WithTimeout(c.GetRequestTimeout()),
		apiclient.WithCookieJar(jar),
		apiclient.WithRefresher(a.Refresh),
		apiclient.WithBootstrapPaths(c.GetBootstrapPaths()...),
	}
	if o.transport != nil {
		clientOptions = append(clientOptions, apiclient.WithTransport(o.transport))
	}
	a.Client, err = apiclient.New(c.GetBaseURL(), store, clientOptions...)
	if err != nil {
		return nil, errors.Wrap(err, "[app.New] apiclient.New")
	}

	a.Auth, err = authservice.New(a.Client, store,
		authservice.WithDeviceID(authservice.DeviceID(c.GetDeviceID())),
		authservice.WithRenewer(a.Refresh),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[app.New] authservice.New")
	}

	a.Users, err = userservice.New(a.Client, store)
	if err != nil {
		return nil, errors.Wrap(err, "[app.New] userservice.New")
	}

	log.Debug().
		Str("baseUrl", c.GetBaseURL()).
		Str("refreshMode", string(c.GetRefreshMode())).
		Str("storage", string(c.GetStorageBackend())).
		Msg("client ready")
	return a, nil
}

// newCookieJar keeps the refresh cookie in repo when it is the refresh
// credential, so a restored session can still be renewed.
func newCookieJar(ctx context.Context, c config.Config, repo session.Repo) (http.CookieJar, error) {
	if c.GetRefreshMode() != config.RefreshModeCookie {
		return cookiejar.New(nil)
	}
	scope, err := apiclient.ParseBaseURL(c.GetBaseURL())
	if err != nil {
		return nil, errors.Wrap(err, "[newCookieJar] apiclient.ParseBaseURL")
	}
	scope.Path += apimodel.RouteAuthRefresh
	return session.NewCookieJar(ctx, repo, c.GetStorageName()+session.CookieRecordSuffix, scope)
}

// NewRepo opens the configured storage backend. The closer is nil when the
// backend holds nothing to release.
func NewRepo(c config.StorageConfig) (session.Repo, io.Closer, error) {
	switch c.GetStorageBackend() {
	case config.StorageBackendMemory:
		return session.NewMemoryRepo(), nil, nil
	case config.StorageBackendFile:
		repo, err := filestore.New(c.GetStoragePath())
		if err != nil {
			return nil, nil, errors.Wrap(err, "[NewRepo] filestore.New")
		}
		return repo, nil, nil
	case config.StorageBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.GetRedisAddr(),
			Password: c.GetRedisPassword(),
			DB:       c.GetRedisDB(),
		})
		repo, err := redisstore.New(client, redisstore.WithKeyPrefix(c.GetRedisKeyPrefix()))
		if err != nil {
			_ = client.Close()
			return nil, nil, errors.Wrap(err, "[NewRepo] redisstore.New")
		}
		return repo, client, nil
	default:
		return nil, nil, errors.Errorf("[NewRepo] unknown storage backend %q", c.GetStorageBackend())
	}
}

// Close releases storage connections.
func (a *App) Close() error {
	var firstErr error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
