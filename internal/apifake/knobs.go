package apifake

import (
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-elearn-client/apimodel"
)

type knobs struct {
	mu           sync.Mutex
	failRefresh  bool
	refreshDelay time.Duration
	refreshCalls int
	lastAuth     string
	calls        map[string]int // "METHOD /path" to count
}

// ExpireAccessTokens invalidates every access token issued so far.
func (s *Server) ExpireAccessTokens() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.generation++
}

// FailRefresh makes /auth/refresh answer 401 while fail is true.
func (s *Server) FailRefresh(fail bool) {
	s.knobs.mu.Lock()
	defer s.knobs.mu.Unlock()
	s.knobs.failRefresh = fail
}

// DelayRefresh holds every /auth/refresh response for d.
func (s *Server) DelayRefresh(d time.Duration) {
	s.knobs.mu.Lock()
	defer s.knobs.mu.Unlock()
	s.knobs.refreshDelay = d
}

// RefreshCalls counts the requests /auth/refresh has received.
func (s *Server) RefreshCalls() int {
	s.knobs.mu.Lock()
	defer s.knobs.mu.Unlock()
	return s.knobs.refreshCalls
}

// LastAuthorization is the Authorization header of the most recent request.
func (s *Server) LastAuthorization() string {
	s.knobs.mu.Lock()
	defer s.knobs.mu.Unlock()
	return s.knobs.lastAuth
}

// Calls counts the requests received for method and path, e.g. Calls("POST", "/auth/login").
func (s *Server) Calls(method, path string) int {
	s.knobs.mu.Lock()
	defer s.knobs.mu.Unlock()
	return s.knobs.calls[method+" "+path]
}

// TotalCalls counts every request received.
func (s *Server) TotalCalls() int {
	s.knobs.mu.Lock()
	defer s.knobs.mu.Unlock()
	total := 0
	for _, n := range s.knobs.calls {
		total += n
	}
	return total
}

// PendingOTP returns the code waiting to be verified for email, the stand-in
// for reading the verification email.
func (s *Server) PendingOTP(email string) (string, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	otp, ok := s.otps[strings.ToLower(email)]
	return otp, ok
}

// Profile returns the stored profile of username, the zero value when unknown.
func (s *Server) Profile(username string) apimodel.UserProfileResponse {
	s.lock.RLock()
	defer s.lock.RUnlock()
	a, ok := s.accounts[s.usernames[strings.ToLower(username)]]
	if !ok {
		return apimodel.UserProfileResponse{}
	}
	return a.Profile
}

func (k *knobs) record(method, path, authorization string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls[method+" "+path]++
	k.lastAuth = authorization
}

func (k *knobs) refreshAttempt() (fail bool, delay time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.refreshCalls++
	return k.failRefresh, k.refreshDelay
}
