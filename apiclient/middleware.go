package apiclient

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// RoundTripFunc adapts a function to http.RoundTripper.
type RoundTripFunc func(*http.Request) (*http.Response, error)

func (f RoundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// Middleware wraps a RoundTripper with one pipeline stage.
type Middleware func(http.RoundTripper) http.RoundTripper

// Chain builds a pipeline on top of base. The first middleware is the
// outermost: it sees the request first and the response last.
func Chain(base http.RoundTripper, mw ...Middleware) http.RoundTripper {
	chained := base
	for i := len(mw) - 1; i >= 0; i-- {
		chained = mw[i](chained)
	}
	return chained
}

// TokenSource yields the token outgoing requests are authorised with. A nil
// token or an empty access token means the request goes out anonymous.
type TokenSource interface {
	Token() *oauth2.Token
}

// LoggingMiddleware writes one debug line per exchange. Headers are never
// logged so tokens stay out of the log.
func LoggingMiddleware() Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripFunc(func(r *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(r)
			if err != nil {
				log.Debug().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("api request failed")
				return nil, err
			}
			log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("api request")
			return resp, nil
		})
	}
}

// BearerMiddleware attaches the current access token read from tokens at send time.
func BearerMiddleware(tokens TokenSource) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripFunc(func(r *http.Request) (*http.Response, error) {
			tok := tokens.Token()
			if tok == nil || tok.AccessToken == "" {
				return next.RoundTrip(r)
			}
			authorised := r.Clone(r.Context())
			tok.SetAuthHeader(authorised)
			return next.RoundTrip(authorised)
		})
	}
}

// TimeoutMiddleware bounds every attempt separately, so a retried request gets
// a fresh budget. The deadline covers reading the body too; it is released
// when the body is closed.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		if timeout <= 0 {
			return next
		}
		return RoundTripFunc(func(r *http.Request) (*http.Response, error) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			resp, err := next.RoundTrip(r.WithContext(ctx))
			if err != nil {
				cancel()
				return nil, err
			}
			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
			return resp, nil
		})
	}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
