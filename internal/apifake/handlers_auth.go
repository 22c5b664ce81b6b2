package apifake

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/jrsteele09/go-elearn-client/apimodel"
	"github.com/jrsteele09/go-elearn-client/internal/utils"
)

func (s *Server) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := apimodel.RegisterRequest{}
		if !s.decode(w, r, &req) {
			return
		}

		var details []apimodel.ErrorDetail
		if len(req.Username) < 3 || len(req.Username) > 50 {
			details = append(details, apimodel.ErrorDetail{Field: "username", Message: "size must be between 3 and 50", RejectedValue: req.Username})
		}
		if _, err := mail.ParseAddress(req.Email); err != nil {
			details = append(details, apimodel.ErrorDetail{Field: "email", Message: "must be a well-formed email address", RejectedValue: req.Email})
		}
		if len(req.Password) < 8 {
			details = append(details, apimodel.ErrorDetail{Field: "password", Message: "size must be at least 8"})
		}
		if len(details) > 0 {
			s.writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "", details...)
			return
		}

		s.lock.Lock()
		a, err := s.createAccountLocked(req.Username, req.Email, req.Password)
		if err == nil {
			s.otps[strings.ToLower(a.Email)] = newOTP()
		}
		s.lock.Unlock()

		switch err {
		case nil:
		case errUsernameTaken, errEmailTaken:
			s.writeError(w, r, http.StatusConflict, "DUPLICATE_RESOURCE", err.Error())
			return
		default:
			s.writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}

		s.writeData(w, http.StatusCreated, "Registration successful", apimodel.RegisterResponse{
			ID:                a.ID,
			Username:          a.Username,
			Email:             a.Email,
			NeedsVerification: true,
			Message:           "Please check your email for the verification code",
		})
	}
}

func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := apimodel.LoginRequest{}
		if !s.decode(w, r, &req) {
			return
		}

		s.lock.Lock()
		defer s.lock.Unlock()

		a, ok := s.accountByLogin(req.Account)
		if !ok || !checkPassword(a.PasswordHash, req.Password) {
			s.writeError(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username/email or password")
			return
		}
		if !a.Verified {
			s.writeError(w, r, http.StatusForbidden, "ACCOUNT_NOT_VERIFIED", "Please verify your email before logging in")
			return
		}
		s.writeLoginLocked(w, r, a, "Login successful")
	}
}

func (s *Server) VerifyOtpHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := apimodel.VerifyOtpRequest{}
		if !s.decode(w, r, &req) {
			return
		}

		s.lock.Lock()
		defer s.lock.Unlock()

		key := strings.ToLower(req.Email)
		a, ok := s.accountByLogin(req.Email)
		if !ok {
			s.writeError(w, r, http.StatusNotFound, "RESOURCE_NOT_FOUND", "User not found with email: "+req.Email)
			return
		}
		if expected, pending := s.otps[key]; !pending || expected != req.Otp {
			s.writeError(w, r, http.StatusBadRequest, "INVALID_OTP", "Invalid or expired OTP")
			return
		}
		delete(s.otps, key)
		a.Verified = true
		a.Status = apimodel.UserStatusActive
		a.UpdatedAt = s.nowFunc()
		s.writeLoginLocked(w, r, a, "Email verified successfully")
	}
}

func (s *Server) ResendOtpHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := apimodel.ResendOtpRequest{}
		if !s.decode(w, r, &req) {
			return
		}

		s.lock.Lock()
		defer s.lock.Unlock()

		a, ok := s.accountByLogin(req.Email)
		if !ok {
			s.writeError(w, r, http.StatusNotFound, "RESOURCE_NOT_FOUND", "User not found with email: "+req.Email)
			return
		}
		if a.Verified {
			s.writeError(w, r, http.StatusBadRequest, "ALREADY_VERIFIED", "Email is already verified")
			return
		}
		s.otps[strings.ToLower(a.Email)] = newOTP()
		s.writeData(w, http.StatusOK, "OTP sent successfully", nil)
	}
}

// RefreshHandler accepts the refresh token from the cookie, or from the body
// when no cookie was sent. The token is rotated on every use.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fail, delay := s.knobs.refreshAttempt()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if fail {
			s.clearRefreshCookie(w)
			s.writeError(w, r, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "Refresh token is invalid or expired")
			return
		}

		presented := ""
		if cookie, err := r.Cookie(RefreshCookieName); err == nil {
			presented = cookie.Value
		} else {
			req := apimodel.RefreshRequest{}
			if r.ContentLength != 0 && !s.decode(w, r, &req) {
				return
			}
			presented = req.RefreshToken
		}

		s.lock.Lock()
		defer s.lock.Unlock()

		id, ok := s.refreshTokens[presented]
		a := s.accounts[id]
		if presented == "" || !ok || a == nil {
			s.clearRefreshCookie(w)
			s.writeError(w, r, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "Refresh token is invalid or expired")
			return
		}
		delete(s.refreshTokens, presented)
		s.writeLoginLocked(w, r, a, "Token refreshed")
	}
}

func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.lock.Lock()
		if cookie, err := r.Cookie(RefreshCookieName); err == nil {
			delete(s.refreshTokens, cookie.Value)
		}
		s.lock.Unlock()

		s.clearRefreshCookie(w)
		s.writeData(w, http.StatusOK, "Logout successful", nil)
	}
}

func (s *Server) writeLoginLocked(w http.ResponseWriter, r *http.Request, a *account, message string) {
	access, refresh, err := s.issueTokensLocked(a)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    refresh,
		Path:     "/auth",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	user := a.info()
	resp := apimodel.LoginResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   s.expiresInSeconds(),
		User:        &user,
	}
	if s.refreshInBody {
		resp.RefreshToken = utils.Ptr(refresh)
	}
	s.writeData(w, http.StatusOK, message, resp)
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: RefreshCookieName, Value: "", Path: "/auth", MaxAge: -1, HttpOnly: true})
}

func newOTP() string {
	return fmt.Sprintf("%06d", rand.IntN(1_000_000))
}
