package refresh_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-elearn-client/apiclient"
	"github.com/jrsteele09/go-elearn-client/apimodel"
	clienterrors "github.com/jrsteele09/go-elearn-client/internal/errors"
	"github.com/jrsteele09/go-elearn-client/internal/utils"
	"github.com/jrsteele09/go-elearn-client/refresh"
	"github.com/jrsteele09/go-elearn-client/session"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var alice = apimodel.UserInfo{ID: "u1", Username: "alice", Email: "alice@example.com", Roles: "STUDENT"}

// fakeExchanger answers with resp/err after release is closed (if set).
type fakeExchanger struct {
	calls    atomic.Int32
	release  chan struct{}
	resp     *apimodel.LoginResponse
	err      error
	mu       sync.Mutex
	received []string
}

func (e *fakeExchanger) Exchange(ctx context.Context, refreshToken string) (*apimodel.LoginResponse, error) {
	e.calls.Add(1)
	e.mu.Lock()
	e.received = append(e.received, refreshToken)
	e.mu.Unlock()
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	r := *e.resp
	return &r, nil
}

type testFixture struct {
	store       *session.Store
	exchanger   *fakeExchanger
	coordinator *refresh.Coordinator
}

func setupTestFixture(t *testing.T, storeOptions []session.StoreOption, options ...refresh.CoordinatorOption) *testFixture {
	t.Helper()

	store, err := session.NewStore(session.NewMemoryRepo(), storeOptions...)
	require.NoError(t, err)
	store.SetHydrated()

	exchanger := &fakeExchanger{resp: &apimodel.LoginResponse{AccessToken: "tok2", TokenType: "Bearer", ExpiresIn: 900}}
	coordinator, err := refresh.NewCoordinator(store, exchanger, options...)
	require.NoError(t, err)

	return &testFixture{store: store, exchanger: exchanger, coordinator: coordinator}
}

func (f *testFixture) login(t *testing.T, token *oauth2.Token) {
	t.Helper()
	require.NoError(t, f.store.SetAuth(context.Background(), alice, token))
}

func TestNewCoordinator_Validation(t *testing.T) {
	store, err := session.NewStore(session.NewMemoryRepo())
	require.NoError(t, err)

	_, err = refresh.NewCoordinator(nil, &fakeExchanger{})
	require.Error(t, err)
	_, err = refresh.NewCoordinator(store, nil)
	require.Error(t, err)
	_, err = refresh.NewCoordinator(store, &fakeExchanger{}, refresh.WithMode("header"))
	require.Error(t, err)
}

func TestCoordinator_RefreshUpdatesStore(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f := setupTestFixture(t, nil, refresh.WithNowFunc(func() time.Time { return now }))
	f.login(t, &oauth2.Token{AccessToken: "tok1"})

	token, err := f.coordinator.Refresh(context.Background(), "tok1")
	require.NoError(t, err)
	require.Equal(t, "tok2", token)
	require.Equal(t, "tok2", f.store.AccessToken())
	require.Equal(t, alice, *f.store.User())
	require.Equal(t, now.Add(15*time.Minute), f.store.Token().Expiry)
	require.Equal(t, []string{""}, f.exchanger.received, "cookie mode sends no token")
}

func TestCoordinator_SingleFlight(t *testing.T) {
	f := setupTestFixture(t, nil)
	f.login(t, &oauth2.Token{AccessToken: "tok1"})
	f.exchanger.release = make(chan struct{})

	const callers = 20
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.coordinator.Refresh(context.Background(), "tok1")
		}()
	}

	require.Eventually(t, func() bool { return f.exchanger.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.exchanger.release)
	wg.Wait()

	require.Equal(t, int32(1), f.exchanger.calls.Load())
	for i := range callers {
		require.NoError(t, errs[i])
		require.Equal(t, "tok2", results[i])
	}

	// Once settled, a new expiry starts a new exchange.
	f.exchanger.release = nil
	f.exchanger.resp = &apimodel.LoginResponse{AccessToken: "tok3"}
	token, err := f.coordinator.Refresh(context.Background(), "tok2")
	require.NoError(t, err)
	require.Equal(t, "tok3", token)
	require.Equal(t, int32(2), f.exchanger.calls.Load())
}

func TestCoordinator_SharedFailure(t *testing.T) {
	f := setupTestFixture(t, nil)
	f.login(t, &oauth2.Token{AccessToken: "tok1"})
	f.exchanger.release = make(chan struct{})
	f.exchanger.err = errors.New("refresh cookie expired")

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.coordinator.Refresh(context.Background(), "tok1")
		}()
	}
	require.Eventually(t, func() bool { return f.exchanger.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.exchanger.release)
	wg.Wait()

	require.Equal(t, int32(1), f.exchanger.calls.Load())
	for _, err := range errs {
		require.ErrorIs(t, err, refresh.ErrRefreshFailed)
		require.ErrorContains(t, err, "refresh cookie expired")
	}
}

func TestCoordinator_StaleTokenShortcut(t *testing.T) {
	f := setupTestFixture(t, nil)
	f.login(t, &oauth2.Token{AccessToken: "tok2"})

	token, err := f.coordinator.Refresh(context.Background(), "tok1")
	require.NoError(t, err)
	require.Equal(t, "tok2", token)
	require.Equal(t, int32(0), f.exchanger.calls.Load())
}

func TestCoordinator_NoSessionFails(t *testing.T) {
	f := setupTestFixture(t, nil)

	_, err := f.coordinator.Refresh(context.Background(), "")
	require.ErrorIs(t, err, refresh.ErrRefreshFailed)
	require.ErrorIs(t, err, clienterrors.ErrNotAuthenticated)
	require.Equal(t, int32(0), f.exchanger.calls.Load())
}

func TestCoordinator_MissingAccessTokenFails(t *testing.T) {
	f := setupTestFixture(t, nil)
	f.login(t, &oauth2.Token{AccessToken: "tok1"})
	f.exchanger.resp = &apimodel.LoginResponse{}

	_, err := f.coordinator.Refresh(context.Background(), "tok1")
	require.ErrorIs(t, err, refresh.ErrRefreshFailed)
	require.ErrorIs(t, err, clienterrors.ErrMissingToken)
	require.Equal(t, "tok1", f.store.AccessToken(), "store untouched")
}

func TestCoordinator_LogoutDuringRefresh(t *testing.T) {
	f := setupTestFixture(t, nil)
	f.login(t, &oauth2.Token{AccessToken: "tok1"})
	f.exchanger.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.coordinator.Refresh(context.Background(), "tok1")
		done <- err
	}()
	require.Eventually(t, func() bool { return f.exchanger.calls.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, f.store.ClearAuth(context.Background()))
	close(f.exchanger.release)

	err := <-done
	require.ErrorIs(t, err, refresh.ErrRefreshFailed)
	require.False(t, f.store.IsAuthenticated())
	require.Nil(t, f.store.Token())
}

func TestCoordinator_CallerCancellationDoesNotCancelExchange(t *testing.T) {
	f := setupTestFixture(t, nil)
	f.login(t, &oauth2.Token{AccessToken: "tok1"})
	f.exchanger.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.coordinator.Refresh(ctx, "tok1")
		done <- err
	}()
	require.Eventually(t, func() bool { return f.exchanger.calls.Load() == 1 }, time.Second, time.Millisecond)

	cancel()
	err := <-done
	require.ErrorIs(t, err, refresh.ErrRefreshFailed)
	require.ErrorIs(t, err, context.Canceled)

	close(f.exchanger.release)
	require.Eventually(t, func() bool { return f.store.AccessToken() == "tok2" }, time.Second, time.Millisecond)
}

func TestCoordinator_ExchangeTimeout(t *testing.T) {
	f := setupTestFixture(t, nil, refresh.WithTimeout(20*time.Millisecond))
	f.login(t, &oauth2.Token{AccessToken: "tok1"})
	f.exchanger.release = make(chan struct{})
	defer close(f.exchanger.release)

	_, err := f.coordinator.Refresh(context.Background(), "tok1")
	require.ErrorIs(t, err, refresh.ErrRefreshFailed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCoordinator_TokenMode(t *testing.T) {
	ctx := context.Background()

	t.Run("sends stored refresh token and keeps rotation", func(t *testing.T) {
		f := setupTestFixture(t, []session.StoreOption{session.WithRefreshToken()}, refresh.WithMode(refresh.ModeToken))
		f.login(t, &oauth2.Token{AccessToken: "tok1", RefreshToken: "r1"})
		f.exchanger.resp = &apimodel.LoginResponse{AccessToken: "tok2", RefreshToken: utils.Ptr("r2")}

		_, err := f.coordinator.Refresh(ctx, "tok1")
		require.NoError(t, err)
		require.Equal(t, []string{"r1"}, f.exchanger.received)
		require.Equal(t, "r2", f.store.Snapshot().RefreshToken())
	})

	t.Run("missing refresh token fails without a call", func(t *testing.T) {
		f := setupTestFixture(t, nil, refresh.WithMode(refresh.ModeToken))
		f.login(t, &oauth2.Token{AccessToken: "tok1", RefreshToken: "dropped"})

		_, err := f.coordinator.Refresh(ctx, "tok1")
		require.ErrorIs(t, err, refresh.ErrRefreshFailed)
		require.ErrorIs(t, err, clienterrors.ErrMissingToken)
		require.Equal(t, int32(0), f.exchanger.calls.Load())
	})
}

func TestCoordinator_Token(t *testing.T) {
	f := setupTestFixture(t, nil)
	f.login(t, &oauth2.Token{AccessToken: "tok1"})

	tok, err := f.coordinator.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok2", tok.AccessToken)
	require.Equal(t, "Bearer", tok.TokenType)
}

// N requests that all hit a 401 at once cause one refresh call, and every
// one of them is retried with the new token.
func TestPipeline_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	var refreshCalls atomic.Int32
	var unauthorisedCalls atomic.Int32
	const callers = 10
	gate := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc(apimodel.RouteAuthRefresh, func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		<-gate
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"access_token": "tok2"}})
	})
	mux.HandleFunc(apimodel.RouteUserMe, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok2" {
			if unauthorisedCalls.Add(1) == callers {
				close(gate)
			}
			writeJSON(w, http.StatusUnauthorized, apimodel.ErrorResponse{Code: "TOKEN_EXPIRED", Message: "expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": alice})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store, err := session.NewStore(session.NewMemoryRepo())
	require.NoError(t, err)
	require.NoError(t, store.SetAuth(context.Background(), alice, &oauth2.Token{AccessToken: "tok1"}))

	exchanger, err := refresh.NewHTTPExchanger(server.URL, server.Client())
	require.NoError(t, err)
	coordinator, err := refresh.NewCoordinator(store, exchanger)
	require.NoError(t, err)
	client, err := apiclient.New(server.URL, store, apiclient.WithRefresher(coordinator))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = apiclient.DoData[apimodel.UserInfo](context.Background(), client, apiclient.Request{Path: apimodel.RouteUserMe})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), refreshCalls.Load())
	require.Equal(t, "tok2", store.AccessToken())
}

func TestPipeline_FailedRefreshClearsSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(apimodel.RouteAuthRefresh, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, apimodel.ErrorResponse{Code: "INVALID_REFRESH_TOKEN", Message: "refresh expired"})
	})
	mux.HandleFunc(apimodel.RouteUserMe, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, apimodel.ErrorResponse{Code: "TOKEN_EXPIRED", Message: "access expired"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store, err := session.NewStore(session.NewMemoryRepo())
	require.NoError(t, err)
	require.NoError(t, store.SetAuth(context.Background(), alice, &oauth2.Token{AccessToken: "tok1"}))

	exchanger, err := refresh.NewHTTPExchanger(server.URL, server.Client())
	require.NoError(t, err)
	coordinator, err := refresh.NewCoordinator(store, exchanger)
	require.NoError(t, err)
	client, err := apiclient.New(server.URL, store, apiclient.WithRefresher(coordinator))
	require.NoError(t, err)

	_, err = apiclient.Do[apimodel.UserInfo](context.Background(), client, apiclient.Request{Path: apimodel.RouteUserMe})
	var apiErr *apiclient.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "access expired", apiErr.Message(), "the original 401 is returned")
	require.False(t, store.IsAuthenticated())
}

// A caller that gives up while the refresh is in flight must not end the
// session for the callers still waiting on it.
func TestPipeline_CancelledCallerKeepsSharedRefresh(t *testing.T) {
	var refreshCalls atomic.Int32
	var unauthorisedCalls atomic.Int32
	gate := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc(apimodel.RouteAuthRefresh, func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		<-gate
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"access_token": "tok2"}})
	})
	mux.HandleFunc(apimodel.RouteUserMe, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok2" {
			unauthorisedCalls.Add(1)
			writeJSON(w, http.StatusUnauthorized, apimodel.ErrorResponse{Code: "TOKEN_EXPIRED", Message: "expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": alice})
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	defer func() {
		select {
		case <-gate:
		default:
			close(gate)
		}
	}()

	store, err := session.NewStore(session.NewMemoryRepo())
	require.NoError(t, err)
	require.NoError(t, store.SetAuth(context.Background(), alice, &oauth2.Token{AccessToken: "tok1"}))

	exchanger, err := refresh.NewHTTPExchanger(server.URL, server.Client())
	require.NoError(t, err)
	coordinator, err := refresh.NewCoordinator(store, exchanger)
	require.NoError(t, err)
	client, err := apiclient.New(server.URL, store, apiclient.WithRefresher(coordinator))
	require.NoError(t, err)

	call := func(ctx context.Context) chan error {
		done := make(chan error, 1)
		go func() {
			_, err := apiclient.DoData[apimodel.UserInfo](ctx, client, apiclient.Request{Path: apimodel.RouteUserMe})
			done <- err
		}()
		return done
	}

	impatient, cancel := context.WithCancel(context.Background())
	defer cancel()
	impatientDone := call(impatient)
	patientDone := call(context.Background())

	require.Eventually(t, func() bool {
		return unauthorisedCalls.Load() == 2 && refreshCalls.Load() == 1
	}, time.Second, time.Millisecond)

	cancel()
	err = <-impatientDone
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, store.IsAuthenticated(), "session kept while the refresh is still running")

	close(gate)
	require.NoError(t, <-patientDone)
	require.Equal(t, int32(1), refreshCalls.Load())
	require.Equal(t, "tok2", store.AccessToken())
	require.True(t, store.IsAuthenticated())
}
