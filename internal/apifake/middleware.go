package apifake

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type accountIDKey struct{}

func ChainMiddleware(routeFunction http.HandlerFunc, mw ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	chainedHandler := routeFunction
	for i := len(mw) - 1; i >= 0; i-- {
		chainedHandler = mw[i](chainedHandler)
	}
	return chainedHandler
}

func (s *Server) APIMiddleware(mw ...func(http.HandlerFunc) http.HandlerFunc) []func(http.HandlerFunc) http.HandlerFunc {
	chainedMiddleWare := []func(http.HandlerFunc) http.HandlerFunc{
		s.LoggingMiddleware,
		s.RecordingMiddleware,
	}
	return append(chainedMiddleWare, mw...)
}

func (s *Server) LoggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("apifake")
	}
}

// RecordingMiddleware feeds the call counters and LastAuthorization.
func (s *Server) RecordingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.knobs.record(r.Method, r.URL.Path, r.Header.Get("Authorization"))
		next(w, r)
	}
}

// RequireBearer rejects requests without a current access token.
func (s *Server) RequireBearer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			s.writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Full authentication is required to access this resource")
			return
		}
		accountID, err := s.parseAccessToken(raw)
		if err != nil {
			s.writeError(w, r, http.StatusUnauthorized, "TOKEN_EXPIRED", "Access token is invalid or expired")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), accountIDKey{}, accountID)))
	}
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(accountIDKey{}).(string)
	return id
}
