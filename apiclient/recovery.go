package apiclient

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// TokenRefresher renews the session after a 401. staleToken is the access
// token the rejected request carried. It returns the new access token or an
// error when the session cannot be recovered.
type TokenRefresher interface {
	Refresh(ctx context.Context, staleToken string) (string, error)
}

// SessionClearer wipes the local session when a 401 cannot be recovered.
type SessionClearer interface {
	ClearAuth(ctx context.Context) error
}

type retriedKey struct{}

// IsRetried reports whether ctx belongs to a request already re-issued after a refresh.
func IsRetried(ctx context.Context) bool {
	retried, _ := ctx.Value(retriedKey{}).(bool)
	return retried
}

func withRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

type recovery struct {
	next      http.RoundTripper
	refresher TokenRefresher
	session   SessionClearer
	basePath  string
	bootstrap []string
}

// RecoveryMiddleware turns a 401 on an authenticated endpoint into one refresh
// and one retry. A 401 on a bootstrap path, on an already retried request or
// after a failed refresh clears the session and hands the 401 back to the caller.
// A caller whose context ends while waiting for the refresh gets its context
// error and leaves the session alone.
// basePath is the path of the API base URL; bootstrap paths are matched
// relative to it. A nil refresher makes every 401 unrecoverable.
func RecoveryMiddleware(refresher TokenRefresher, session SessionClearer, basePath string, bootstrap []string) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return &recovery{
			next:      next,
			refresher: refresher,
			session:   session,
			basePath:  strings.TrimSuffix(basePath, "/"),
			bootstrap: bootstrap,
		}
	}
}

func (rc *recovery) RoundTrip(r *http.Request) (*http.Response, error) {
	resp, err := rc.next.RoundTrip(r)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	ctx := r.Context()
	switch {
	case rc.isBootstrap(r.URL.Path):
		log.Debug().Str("path", r.URL.Path).Msg("401 on auth endpoint, clearing session")
		rc.clear(ctx)
		return resp, nil
	case IsRetried(ctx):
		log.Debug().Str("path", r.URL.Path).Msg("401 after refresh, clearing session")
		rc.clear(ctx)
		return resp, nil
	case rc.refresher == nil:
		rc.clear(ctx)
		return resp, nil
	}

	retry, err := replay(r.Clone(withRetried(ctx)))
	if err != nil {
		log.Debug().Err(err).Str("path", r.URL.Path).Msg("request cannot be retried")
		rc.clear(ctx)
		return resp, nil
	}

	token, err := rc.refresher.Refresh(ctx, bearerToken(r))
	if err != nil && ctx.Err() != nil {
		// The caller gave up; the shared refresh may still succeed for others.
		_ = resp.Body.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		log.Debug().Err(err).Str("path", r.URL.Path).Msg("session refresh failed")
		rc.clear(ctx)
		return resp, nil
	}

	// The original response is only discarded once a retry is certain.
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	retry.Header.Set("Authorization", "Bearer "+token)
	return rc.RoundTrip(retry)
}

func (rc *recovery) isBootstrap(path string) bool {
	rel := path
	if rc.basePath != "" {
		rel = strings.TrimPrefix(path, rc.basePath)
	}
	for _, p := range rc.bootstrap {
		if strings.HasPrefix(rel, p) {
			return true
		}
	}
	return false
}

func (rc *recovery) clear(ctx context.Context) {
	if rc.session == nil {
		return
	}
	if err := rc.session.ClearAuth(context.WithoutCancel(ctx)); err != nil {
		log.Err(err).Msg("failed to clear session")
	}
}

// replay gives the clone a fresh copy of the request body.
func replay(r *http.Request) (*http.Request, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return r, nil
	}
	if r.GetBody == nil {
		return nil, errBodyNotReplayable
	}
	body, err := r.GetBody()
	if err != nil {
		return nil, err
	}
	r.Body = body
	return r, nil
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return h[len(prefix):]
}
