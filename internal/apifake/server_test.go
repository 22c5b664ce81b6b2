package apifake_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-elearn-client/apimodel"
	"github.com/jrsteele09/go-elearn-client/internal/apifake"
	"github.com/stretchr/testify/require"
)

type testFixture struct {
	fake   *apifake.Server
	server *httptest.Server
}

func setupTestFixture(t *testing.T, options ...apifake.ServerOption) *testFixture {
	t.Helper()
	fake := apifake.New(options...)
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	return &testFixture{fake: fake, server: server}
}

func (f *testFixture) post(t *testing.T, path string, body any, headers ...string) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, f.server.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return f.do(t, req)
}

func (f *testFixture) get(t *testing.T, path, bearer string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.server.URL+path, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return f.do(t, req)
}

func (f *testFixture) do(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func accessToken(t *testing.T, body map[string]any) string {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	require.True(t, ok, "response has data")
	token, _ := data["access_token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestServer_RegisterVerifyLogin(t *testing.T) {
	f := setupTestFixture(t)

	resp, body := f.post(t, apimodel.RouteAuthRegister, apimodel.RegisterRequest{Username: "bob", Email: "bob@example.com", Password: "password1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, true, body["success"])

	resp, body = f.post(t, apimodel.RouteAuthLogin, apimodel.LoginRequest{Account: "bob", Password: "password1"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "ACCOUNT_NOT_VERIFIED", body["code"])

	otp, ok := f.fake.PendingOTP("bob@example.com")
	require.True(t, ok)
	require.Len(t, otp, 6)

	resp, _ = f.post(t, apimodel.RouteAuthVerifyOtp, apimodel.VerifyOtpRequest{Email: "bob@example.com", Otp: "000000x"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.post(t, apimodel.RouteAuthVerifyOtp, apimodel.VerifyOtpRequest{Email: "bob@example.com", Otp: otp})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	accessToken(t, body)

	resp, body = f.post(t, apimodel.RouteAuthLogin, apimodel.LoginRequest{Account: "bob@example.com", Password: "password1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := accessToken(t, body)

	resp, body = f.get(t, apimodel.RouteUserMe, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "bob", body["data"].(map[string]any)["username"])
	require.Equal(t, "Bearer "+token, f.fake.LastAuthorization())
}

func TestServer_RegisterValidation(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.fake.AddUser("alice", "alice@example.com", "secret123", true)
	require.NoError(t, err)

	resp, body := f.post(t, apimodel.RouteAuthRegister, apimodel.RegisterRequest{Username: "al", Email: "not-an-email", Password: "short"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Len(t, body["details"], 3)

	resp, body = f.post(t, apimodel.RouteAuthRegister, apimodel.RegisterRequest{Username: "alice", Email: "other@example.com", Password: "password1"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "Username already exists", body["message"])
}

func TestServer_ExpireAndRefresh(t *testing.T) {
	f := setupTestFixture(t, apifake.WithRefreshTokenInBody())
	_, err := f.fake.AddUser("alice", "alice@example.com", "secret123", true)
	require.NoError(t, err)

	_, body := f.post(t, apimodel.RouteAuthLogin, apimodel.LoginRequest{Account: "alice", Password: "secret123"})
	refreshToken := body["data"].(map[string]any)["refresh_token"].(string)
	token := accessToken(t, body)

	f.fake.ExpireAccessTokens()
	resp, body := f.get(t, apimodel.RouteUserMe, token)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "TOKEN_EXPIRED", body["code"])

	resp, body = f.post(t, apimodel.RouteAuthRefresh, apimodel.RefreshRequest{RefreshToken: refreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fresh := accessToken(t, body)
	require.Equal(t, 1, f.fake.RefreshCalls())

	resp, _ = f.get(t, apimodel.RouteUserMe, fresh)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Refresh tokens rotate: the old one is spent.
	resp, _ = f.post(t, apimodel.RouteAuthRefresh, apimodel.RefreshRequest{RefreshToken: refreshToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_AccessTokenTTL(t *testing.T) {
	var skew atomic.Int64
	clock := func() time.Time { return time.Now().Add(time.Duration(skew.Load())) }
	f := setupTestFixture(t, apifake.WithAccessTokenTTL(time.Minute), apifake.WithNowFunc(clock))
	_, err := f.fake.AddUser("alice", "alice@example.com", "secret123", true)
	require.NoError(t, err)

	_, body := f.post(t, apimodel.RouteAuthLogin, apimodel.LoginRequest{Account: "alice", Password: "secret123"})
	token := accessToken(t, body)

	resp, _ := f.get(t, apimodel.RouteUserMe, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	skew.Store(int64(2 * time.Minute))
	resp, _ = f.get(t, apimodel.RouteUserMe, token)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_FailRefresh(t *testing.T) {
	f := setupTestFixture(t)
	f.fake.FailRefresh(true)

	resp, body := f.post(t, apimodel.RouteAuthRefresh, map[string]string{})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "INVALID_REFRESH_TOKEN", body["code"])
	require.Equal(t, 1, f.fake.RefreshCalls())
	require.Equal(t, 1, f.fake.Calls(http.MethodPost, apimodel.RouteAuthRefresh))
}

func TestServer_OtherUsersAreReadOnly(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.fake.AddUser("alice", "alice@example.com", "secret123", true)
	require.NoError(t, err)
	bob, err := f.fake.AddUser("bob", "bob@example.com", "secret123", true)
	require.NoError(t, err)

	_, body := f.post(t, apimodel.RouteAuthLogin, apimodel.LoginRequest{Account: "alice", Password: "secret123"})
	token := accessToken(t, body)

	resp, _ := f.get(t, apimodel.ProfilePath(bob.ID), token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.get(t, apimodel.OwnProfilePath(bob.ID), token)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "ACCESS_DENIED", body["code"])

	resp, body = f.get(t, apimodel.UserByUsernamePath("bob"), token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, bob.ID, body["data"].(map[string]any)["id"])
}
