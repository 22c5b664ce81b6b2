package session

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-elearn-client/apimodel"
	clienterrors "github.com/jrsteele09/go-elearn-client/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Store is the single source of truth for auth state. Every mutation writes
// through to the Repo; readers never block on storage I/O.
type Store struct {
	repo             Repo
	name             string
	keepRefreshToken bool

	writeMu sync.Mutex // serialises mutation+persist so storage order matches memory order
	mu      sync.RWMutex
	user    *apimodel.UserInfo
	token   *oauth2.Token

	hydrated     chan struct{}
	hydrateOnce  sync.Once
	hydrateStart sync.Once
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithName sets the persisted record name (default StorageName).
func WithName(name string) StoreOption {
	return func(s *Store) {
		s.name = name
	}
}

// WithRefreshToken lets the store hold and persist refresh tokens. Without it
// refresh tokens handed to SetAuth are dropped, which is what cookie-based
// refresh wants.
func WithRefreshToken() StoreOption {
	return func(s *Store) {
		s.keepRefreshToken = true
	}
}

// NewStore creates an empty, not yet hydrated store.
func NewStore(repo Repo, options ...StoreOption) (*Store, error) {
	if repo == nil {
		return nil, errors.New("[NewStore] repo is required")
	}

	s := &Store{
		repo:     repo,
		name:     StorageName,
		hydrated: make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.name == "" {
		return nil, errors.New("[NewStore] record name is required")
	}
	return s, nil
}

// Hydrate loads the persisted record, if any, and then marks the store hydrated.
// A load failure leaves the session empty; hydration still completes and the
// error is returned for the caller to report. Only the first call loads.
func (s *Store) Hydrate(ctx context.Context) error {
	var loadErr error
	s.hydrateStart.Do(func() {
		defer s.SetHydrated()

		record, err := s.repo.Load(ctx, s.name)
		if errors.Is(err, ErrRecordNotFound) {
			log.Debug().Str("record", s.name).Msg("no persisted session")
			return
		}
		if err != nil {
			loadErr = errors.Wrap(err, "[Store.Hydrate] repo.Load")
			return
		}

		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		s.mu.Lock()
		defer s.mu.Unlock()

		// A login that completed before hydration wins over the older persisted copy.
		if s.user != nil || s.token != nil {
			return
		}
		if record.User != nil {
			u := *record.User
			s.user = &u
		}
		s.token = record.token()
		if s.token != nil && !s.keepRefreshToken {
			s.token.RefreshToken = ""
		}
		log.Debug().Str("record", s.name).Bool("authenticated", s.user != nil && s.token != nil).Msg("session hydrated")
	})
	return loadErr
}

// SetHydrated marks persisted state as loaded. It never flips back.
func (s *Store) SetHydrated() {
	s.hydrateOnce.Do(func() {
		close(s.hydrated)
	})
}

func (s *Store) IsHydrated() bool {
	select {
	case <-s.hydrated:
		return true
	default:
		return false
	}
}

// WaitHydrated blocks until hydration completes or ctx is done.
func (s *Store) WaitHydrated(ctx context.Context) error {
	select {
	case <-s.hydrated:
		return nil
	case <-ctx.Done():
		return errors.Wrap(clienterrors.Mark(clienterrors.ErrNotHydrated, ctx.Err()), "[Store.WaitHydrated]")
	}
}

// RequireAuthenticated is the route guard: it waits for hydration before deciding.
func (s *Store) RequireAuthenticated(ctx context.Context) error {
	if err := s.WaitHydrated(ctx); err != nil {
		return err
	}
	if !s.IsAuthenticated() {
		return clienterrors.ErrNotAuthenticated
	}
	return nil
}

// SetAuth overwrites the session with user and token and persists it. The
// token is not validated; callers pass what a successful exchange returned.
// Memory is updated even when persisting fails.
func (s *Store) SetAuth(ctx context.Context, user apimodel.UserInfo, token *oauth2.Token) error {
	if token == nil {
		return errors.Wrap(clienterrors.ErrInvalidInput, "[Store.SetAuth] token is required")
	}

	t := &oauth2.Token{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		Expiry:      token.Expiry,
	}
	if s.keepRefreshToken {
		t.RefreshToken = token.RefreshToken
	}
	if t.Expiry.IsZero() {
		if exp, ok := AccessTokenExpiry(t.AccessToken); ok {
			t.Expiry = exp
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.user = &user
	s.token = t
	record := s.recordLocked()
	s.mu.Unlock()

	if err := s.repo.Save(ctx, s.name, record); err != nil {
		return errors.Wrap(err, "[Store.SetAuth] repo.Save")
	}
	return nil
}

// UpdateToken swaps in a renewed token for the current user. It fails with
// ErrNotAuthenticated when the session was cleared, so a late refresh never
// brings a logged out session back. A renewed token without a refresh token
// keeps the previous one.
func (s *Store) UpdateToken(ctx context.Context, token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return errors.Wrap(clienterrors.ErrInvalidInput, "[Store.UpdateToken] access token is required")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return errors.Wrap(clienterrors.ErrNotAuthenticated, "[Store.UpdateToken] session was cleared")
	}
	t := &oauth2.Token{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		Expiry:      token.Expiry,
	}
	if s.keepRefreshToken {
		t.RefreshToken = token.RefreshToken
		if t.RefreshToken == "" && s.token != nil {
			t.RefreshToken = s.token.RefreshToken
		}
	}
	if t.Expiry.IsZero() {
		if exp, ok := AccessTokenExpiry(t.AccessToken); ok {
			t.Expiry = exp
		}
	}
	s.token = t
	record := s.recordLocked()
	s.mu.Unlock()

	if err := s.repo.Save(ctx, s.name, record); err != nil {
		return errors.Wrap(err, "[Store.UpdateToken] repo.Save")
	}
	return nil
}

// ClearAuth wipes the session and removes the persisted record. Safe to call
// when already cleared.
func (s *Store) ClearAuth(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.user = nil
	s.token = nil
	s.mu.Unlock()

	if err := s.repo.Delete(ctx, s.name); err != nil {
		return errors.Wrap(err, "[Store.ClearAuth] repo.Delete")
	}
	return nil
}

// UpdateUser merges patch into the current user without touching tokens. It
// does nothing when no user is present.
func (s *Store) UpdateUser(ctx context.Context, patch apimodel.UserPatch) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return nil
	}
	updated := patch.Apply(*s.user)
	s.user = &updated
	record := s.recordLocked()
	s.mu.Unlock()

	if err := s.repo.Save(ctx, s.name, record); err != nil {
		return errors.Wrap(err, "[Store.UpdateUser] repo.Save")
	}
	return nil
}

// Snapshot returns a copy of the current session.
func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Session{
		User:     s.userLocked(),
		Token:    s.tokenLocked(),
		Hydrated: s.IsHydrated(),
	}
}

// AccessToken returns the current access token, empty when logged out.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return ""
	}
	return s.token.AccessToken
}

// Token returns a copy of the current token, nil when logged out.
func (s *Store) Token() *oauth2.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokenLocked()
}

// User returns a copy of the current user, nil when logged out.
func (s *Store) User() *apimodel.UserInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userLocked()
}

func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil && s.token != nil && s.token.AccessToken != ""
}

// ExpiresIn reports the time left on the access token, false when unknown.
func (s *Store) ExpiresIn(now time.Time) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil || s.token.Expiry.IsZero() {
		return 0, false
	}
	return s.token.Expiry.Sub(now), true
}

func (s *Store) recordLocked() *Record {
	r := &Record{User: s.userLocked()}
	if s.token != nil {
		r.AccessToken = s.token.AccessToken
		r.RefreshToken = s.token.RefreshToken
		r.TokenType = s.token.TokenType
		r.Expiry = s.token.Expiry
	}
	return r
}

func (s *Store) userLocked() *apimodel.UserInfo {
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *Store) tokenLocked() *oauth2.Token {
	if s.token == nil {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  s.token.AccessToken,
		TokenType:    s.token.TokenType,
		RefreshToken: s.token.RefreshToken,
		Expiry:       s.token.Expiry,
	}
}
