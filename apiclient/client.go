// Package apiclient is the HTTP pipeline every call to the e-learning API goes
// through. Outgoing requests carry the session's bearer token; a 401 on an
// authenticated endpoint triggers one refresh and one retry.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/go-elearn-client/apimodel"
	clienterrors "github.com/jrsteele09/go-elearn-client/internal/errors"
	"github.com/pkg/errors"
)

const DefaultTimeout = 20 * time.Second

var errBodyNotReplayable = clienterrors.ErrBodyNotReplay

// DefaultBootstrapPaths are the endpoints that establish or end a session.
// A 401 on them is final and never triggers a refresh.
var DefaultBootstrapPaths = []string{
	apimodel.RouteAuthLogin,
	apimodel.RouteAuthRegister,
	apimodel.RouteAuthVerifyOtp,
	apimodel.RouteAuthRefresh,
	apimodel.RouteAuthLogout,
}

// Session is the slice of the session store the pipeline needs.
type Session interface {
	TokenSource
	SessionClearer
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
}

type clientOptions struct {
	transport http.RoundTripper
	timeout   time.Duration
	jar       http.CookieJar
	refresher TokenRefresher
	bootstrap []string
}

// Option configures a Client.
type Option func(*clientOptions)

// WithTransport replaces the network transport at the bottom of the pipeline.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) {
		o.transport = rt
	}
}

// WithTimeout sets the per-attempt timeout (default DefaultTimeout).
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithCookieJar shares a cookie jar, e.g. with the refresh exchange in cookie mode.
func WithCookieJar(jar http.CookieJar) Option {
	return func(o *clientOptions) {
		o.jar = jar
	}
}

// WithRefresher enables 401 recovery. Without one every 401 ends the session.
func WithRefresher(r TokenRefresher) Option {
	return func(o *clientOptions) {
		o.refresher = r
	}
}

// WithBootstrapPaths overrides DefaultBootstrapPaths.
func WithBootstrapPaths(paths ...string) Option {
	return func(o *clientOptions) {
		o.bootstrap = paths
	}
}

func New(baseURL string, session Session, options ...Option) (*Client, error) {
	if session == nil {
		return nil, errors.New("[apiclient.New] session is required")
	}
	base, err := ParseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	opts := clientOptions{
		transport: http.DefaultTransport,
		timeout:   DefaultTimeout,
		bootstrap: DefaultBootstrapPaths,
	}
	for _, opt := range options {
		opt(&opts)
	}

	pipeline := Chain(opts.transport,
		LoggingMiddleware(),
		BearerMiddleware(session),
		RecoveryMiddleware(opts.refresher, session, base.Path, opts.bootstrap),
		TimeoutMiddleware(opts.timeout),
	)

	return &Client{
		baseURL: base,
		http: &http.Client{
			Transport: pipeline,
			Jar:       opts.jar,
		},
	}, nil
}

// ParseBaseURL validates an API base URL and strips any trailing slash.
func ParseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(raw), "/"))
	if err != nil {
		return nil, errors.Wrapf(clienterrors.ErrInvalidBaseURL, "[ParseBaseURL] %s", err.Error())
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.Wrapf(clienterrors.ErrInvalidBaseURL, "[ParseBaseURL] %q", raw)
	}
	return u, nil
}

// HTTPClient exposes the underlying client with the full pipeline installed.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// BaseURL returns a copy of the API base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// URL resolves an API path against the base URL.
func (c *Client) URL(path string, query url.Values) string {
	u := c.BaseURL()
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Request describes one API call. Body, when set, is sent as JSON.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Send issues req through the pipeline and returns the raw response. The
// caller closes the body.
func (c *Client) Send(ctx context.Context, req Request) (*http.Response, error) {
	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, errors.Wrap(err, "[Client.Send] json.Marshal")
		}
		// bytes.Reader lets http.NewRequest set GetBody, which the retry needs.
		body = bytes.NewReader(raw)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.URL(req.Path, req.Query), body)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Send] http.NewRequestWithContext")
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "[Client.Send] %s %s", method, req.Path)
	}
	return resp, nil
}

// Do sends req and decodes the response envelope. Non-2xx statuses, and
// envelopes reporting success=false, come back as *APIError.
func Do[T any](ctx context.Context, c *Client, req Request) (*apimodel.Response[T], error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	resp, err := c.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "[apiclient.Do] reading %s %s", req.Method, req.Path)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, NewAPIError(resp.StatusCode, req.Method, req.Path, raw)
	}

	envelope := &apimodel.Response[T]{}
	if len(bytes.TrimSpace(raw)) == 0 {
		envelope.Success = true
		return envelope, nil
	}
	if err := json.Unmarshal(raw, envelope); err != nil {
		return nil, errors.Wrapf(err, "[apiclient.Do] decoding %s %s", req.Method, req.Path)
	}
	if !envelope.Success {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Method:     req.Method,
			Path:       req.Path,
			Response:   apimodel.ErrorResponse{Message: envelope.Message},
		}
	}
	return envelope, nil
}

// DoData is Do for endpoints whose data must be present.
func DoData[T any](ctx context.Context, c *Client, req Request) (*T, error) {
	envelope, err := Do[T](ctx, c, req)
	if err != nil {
		return nil, err
	}
	if envelope.Data == nil {
		return nil, errors.Wrapf(clienterrors.ErrEmptyEnvelope, "[apiclient.DoData] %s %s", req.Method, req.Path)
	}
	return envelope.Data, nil
}
