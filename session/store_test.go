package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-elearn-client/apimodel"
	clienterrors "github.com/jrsteele09/go-elearn-client/internal/errors"
	"github.com/jrsteele09/go-elearn-client/internal/utils"
	"github.com/jrsteele09/go-elearn-client/session"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var testUser = apimodel.UserInfo{
	ID:       "user-1",
	Username: "alice",
	Email:    "alice@example.com",
	Roles:    "STUDENT",
}

type testFixture struct {
	repo  *session.MemoryRepo
	store *session.Store
}

func setupTestFixture(t *testing.T, options ...session.StoreOption) *testFixture {
	t.Helper()

	repo := session.NewMemoryRepo()
	store, err := session.NewStore(repo, options...)
	require.NoError(t, err)

	return &testFixture{repo: repo, store: store}
}

// failingRepo fails every operation with err.
type failingRepo struct {
	err error
}

func (r failingRepo) Load(context.Context, string) (*session.Record, error) { return nil, r.err }
func (r failingRepo) Save(context.Context, string, *session.Record) error  { return r.err }
func (r failingRepo) Delete(context.Context, string) error                 { return r.err }

func TestNewStore_RequiresRepo(t *testing.T) {
	_, err := session.NewStore(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "repo is required")
}

func TestStore_SetAuthThenClearAuth(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SetAuth(ctx, testUser, &oauth2.Token{AccessToken: "tok1"}))
	require.True(t, f.store.IsAuthenticated())
	require.Equal(t, "tok1", f.store.AccessToken())
	require.Equal(t, 1, f.repo.Len())

	require.NoError(t, f.store.ClearAuth(ctx))

	snap := f.store.Snapshot()
	require.Nil(t, snap.User)
	require.Nil(t, snap.Token)
	require.Empty(t, snap.AccessToken())
	require.False(t, snap.IsAuthenticated())
	require.False(t, f.store.IsAuthenticated())
	require.Equal(t, 0, f.repo.Len(), "no residual record")

	_, err := f.repo.Load(ctx, session.StorageName)
	require.ErrorIs(t, err, session.ErrRecordNotFound)
}

func TestStore_ClearAuthIsIdempotent(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.ClearAuth(ctx))
	require.NoError(t, f.store.ClearAuth(ctx))
	require.False(t, f.store.IsAuthenticated())
}

func TestStore_RefreshTokenRetention(t *testing.T) {
	ctx := context.Background()
	tok := &oauth2.Token{AccessToken: "tok1", RefreshToken: "refresh-secret"}

	t.Run("dropped by default", func(t *testing.T) {
		f := setupTestFixture(t)
		require.NoError(t, f.store.SetAuth(ctx, testUser, tok))
		require.Empty(t, f.store.Snapshot().RefreshToken())

		rec, err := f.repo.Load(ctx, session.StorageName)
		require.NoError(t, err)
		require.Empty(t, rec.RefreshToken)
	})

	t.Run("kept when enabled", func(t *testing.T) {
		f := setupTestFixture(t, session.WithRefreshToken())
		require.NoError(t, f.store.SetAuth(ctx, testUser, tok))
		require.Equal(t, "refresh-secret", f.store.Snapshot().RefreshToken())

		rec, err := f.repo.Load(ctx, session.StorageName)
		require.NoError(t, err)
		require.Equal(t, "refresh-secret", rec.RefreshToken)
	})
}

func TestStore_SetAuthRequiresToken(t *testing.T) {
	f := setupTestFixture(t)
	err := f.store.SetAuth(context.Background(), testUser, nil)
	require.ErrorIs(t, err, clienterrors.ErrInvalidInput)
	require.False(t, f.store.IsAuthenticated())
}

func TestStore_SetAuthUpdatesMemoryWhenSaveFails(t *testing.T) {
	saveErr := errors.New("disk full")
	store, err := session.NewStore(failingRepo{err: saveErr})
	require.NoError(t, err)

	err = store.SetAuth(context.Background(), testUser, &oauth2.Token{AccessToken: "tok1"})
	require.ErrorIs(t, err, saveErr)
	require.True(t, store.IsAuthenticated())
	require.Equal(t, "tok1", store.AccessToken())
}

func TestStore_Hydration(t *testing.T) {
	ctx := context.Background()

	t.Run("flips once and stays true", func(t *testing.T) {
		f := setupTestFixture(t)
		require.False(t, f.store.IsHydrated())
		require.False(t, f.store.Snapshot().Hydrated)

		require.NoError(t, f.store.Hydrate(ctx))
		require.True(t, f.store.IsHydrated())

		require.NoError(t, f.store.SetAuth(ctx, testUser, &oauth2.Token{AccessToken: "tok1"}))
		require.NoError(t, f.store.ClearAuth(ctx))
		f.store.SetHydrated()
		require.True(t, f.store.IsHydrated())
		require.True(t, f.store.Snapshot().Hydrated)
	})

	t.Run("loads persisted record", func(t *testing.T) {
		f := setupTestFixture(t)
		require.NoError(t, f.repo.Save(ctx, session.StorageName, &session.Record{
			User:         &testUser,
			AccessToken:  "persisted",
			RefreshToken: "refresh-secret",
		}))

		require.False(t, f.store.IsAuthenticated())
		require.NoError(t, f.store.Hydrate(ctx))

		require.True(t, f.store.IsAuthenticated())
		require.Equal(t, "persisted", f.store.AccessToken())
		require.Equal(t, testUser, *f.store.User())
		require.Empty(t, f.store.Snapshot().RefreshToken(), "refresh token not retained without option")
	})

	t.Run("loads only once", func(t *testing.T) {
		f := setupTestFixture(t)
		require.NoError(t, f.store.Hydrate(ctx))
		require.NoError(t, f.repo.Save(ctx, session.StorageName, &session.Record{User: &testUser, AccessToken: "late"}))
		require.NoError(t, f.store.Hydrate(ctx))
		require.False(t, f.store.IsAuthenticated())
	})

	t.Run("earlier login wins over persisted copy", func(t *testing.T) {
		f := setupTestFixture(t)
		require.NoError(t, f.repo.Save(ctx, session.StorageName, &session.Record{User: &testUser, AccessToken: "stale"}))
		require.NoError(t, f.store.SetAuth(ctx, testUser, &oauth2.Token{AccessToken: "fresh"}))

		require.NoError(t, f.store.Hydrate(ctx))
		require.Equal(t, "fresh", f.store.AccessToken())
	})

	t.Run("load failure still completes hydration", func(t *testing.T) {
		loadErr := errors.New("storage offline")
		store, err := session.NewStore(failingRepo{err: loadErr})
		require.NoError(t, err)

		err = store.Hydrate(ctx)
		require.ErrorIs(t, err, loadErr)
		require.True(t, store.IsHydrated())
		require.False(t, store.IsAuthenticated())
	})
}

func TestStore_WaitHydrated(t *testing.T) {
	f := setupTestFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := f.store.WaitHydrated(ctx)
	require.ErrorIs(t, err, clienterrors.ErrNotHydrated)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	require.ErrorIs(t, f.store.WaitHydrated(cancelled), context.Canceled)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, f.store.WaitHydrated(context.Background()))
	}()
	f.store.SetHydrated()
	wg.Wait()
}

func TestStore_RequireAuthenticated(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.store.RequireAuthenticated(short), clienterrors.ErrNotHydrated)

	require.NoError(t, f.store.Hydrate(ctx))
	require.ErrorIs(t, f.store.RequireAuthenticated(ctx), clienterrors.ErrNotAuthenticated)

	require.NoError(t, f.store.SetAuth(ctx, testUser, &oauth2.Token{AccessToken: "tok1"}))
	require.NoError(t, f.store.RequireAuthenticated(ctx))
}

func TestStore_UpdateUser(t *testing.T) {
	ctx := context.Background()

	t.Run("no user is a no-op", func(t *testing.T) {
		f := setupTestFixture(t)
		require.NoError(t, f.store.UpdateUser(ctx, apimodel.UserPatch{Email: utils.Ptr("x@example.com")}))
		require.Nil(t, f.store.User())
		require.Equal(t, 0, f.repo.Len())
	})

	t.Run("merges fields and keeps tokens", func(t *testing.T) {
		f := setupTestFixture(t)
		require.NoError(t, f.store.SetAuth(ctx, testUser, &oauth2.Token{AccessToken: "tok1"}))

		require.NoError(t, f.store.UpdateUser(ctx, apimodel.UserPatch{Email: utils.Ptr("new@example.com")}))

		u := f.store.User()
		require.Equal(t, "new@example.com", u.Email)
		require.Equal(t, "alice", u.Username)
		require.Equal(t, "tok1", f.store.AccessToken())

		rec, err := f.repo.Load(ctx, session.StorageName)
		require.NoError(t, err)
		require.Equal(t, "new@example.com", rec.User.Email)
	})
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetAuth(ctx, testUser, &oauth2.Token{AccessToken: "tok1"}))

	snap := f.store.Snapshot()
	snap.User.Email = "mutated@example.com"
	snap.Token.AccessToken = "mutated"

	require.Equal(t, testUser.Email, f.store.User().Email)
	require.Equal(t, "tok1", f.store.AccessToken())
}

func TestStore_ExpiryFromJWT(t *testing.T) {
	f := setupTestFixture(t)
	exp := time.Now().Add(15 * time.Minute).Truncate(time.Second)

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	require.NoError(t, f.store.SetAuth(context.Background(), testUser, &oauth2.Token{AccessToken: raw}))
	require.True(t, f.store.Token().Expiry.Equal(exp))

	left, ok := f.store.ExpiresIn(exp.Add(-time.Minute))
	require.True(t, ok)
	require.Equal(t, time.Minute, left)
}

func TestTokenFromResponse(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("expires_in wins", func(t *testing.T) {
		tok := session.TokenFromResponse(apimodel.LoginResponse{
			AccessToken:  "opaque",
			RefreshToken: utils.Ptr("r1"),
			TokenType:    "Bearer",
			ExpiresIn:    900,
		}, now)
		require.Equal(t, "opaque", tok.AccessToken)
		require.Equal(t, "r1", tok.RefreshToken)
		require.Equal(t, now.Add(15*time.Minute), tok.Expiry)
	})

	t.Run("opaque token without expires_in has no expiry", func(t *testing.T) {
		tok := session.TokenFromResponse(apimodel.LoginResponse{AccessToken: "opaque"}, now)
		require.True(t, tok.Expiry.IsZero())
		_, ok := session.AccessTokenExpiry("opaque")
		require.False(t, ok)
	})
}

func TestStore_UpdateToken(t *testing.T) {
	ctx := context.Background()

	t.Run("cleared session is not resurrected", func(t *testing.T) {
		f := setupTestFixture(t)
		err := f.store.UpdateToken(ctx, &oauth2.Token{AccessToken: "tok2"})
		require.ErrorIs(t, err, clienterrors.ErrNotAuthenticated)
		require.False(t, f.store.IsAuthenticated())
		require.Equal(t, 0, f.repo.Len())
	})

	t.Run("keeps user and previous refresh token", func(t *testing.T) {
		f := setupTestFixture(t, session.WithRefreshToken())
		require.NoError(t, f.store.SetAuth(ctx, testUser, &oauth2.Token{AccessToken: "tok1", RefreshToken: "r1"}))

		require.NoError(t, f.store.UpdateToken(ctx, &oauth2.Token{AccessToken: "tok2"}))
		require.Equal(t, "tok2", f.store.AccessToken())
		require.Equal(t, "r1", f.store.Snapshot().RefreshToken())
		require.Equal(t, testUser, *f.store.User())

		require.NoError(t, f.store.UpdateToken(ctx, &oauth2.Token{AccessToken: "tok3", RefreshToken: "r2"}))
		require.Equal(t, "r2", f.store.Snapshot().RefreshToken())
	})
}
