package apifake

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

var (
	errUsernameTaken = errors.New("Username already exists")
	errEmailTaken    = errors.New("Email already exists")
	errStaleToken    = errors.New("token generation revoked")
	errUnknownUser   = errors.New("account no longer exists")
)

type accessClaims struct {
	jwt.RegisteredClaims
	Roles      string `json:"roles,omitempty"`
	Generation int64  `json:"gen"`
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return "", errors.Wrap(err, "[hashPassword] bcrypt.GenerateFromPassword")
	}
	return string(bytes), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// issueTokensLocked mints an access token and a fresh refresh token for a.
// Callers hold s.lock.
func (s *Server) issueTokensLocked(a *account) (access, refresh string, err error) {
	now := s.nowFunc()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   a.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
		Roles:      a.Roles,
		Generation: s.generation,
	}
	access, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", errors.Wrap(err, "[issueTokens] SignedString")
	}

	refresh = uuid.NewString()
	s.refreshTokens[refresh] = a.ID
	return access, refresh, nil
}

// parseAccessToken returns the account id the token was issued to.
func (s *Server) parseAccessToken(raw string) (string, error) {
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.nowFunc), jwt.WithExpirationRequired())
	if err != nil {
		return "", errors.Wrap(err, "[parseAccessToken] jwt.ParseWithClaims")
	}

	s.lock.RLock()
	defer s.lock.RUnlock()
	if claims.Generation != s.generation {
		return "", errStaleToken
	}
	if _, ok := s.accounts[claims.Subject]; !ok {
		return "", errUnknownUser
	}
	return claims.Subject, nil
}

func (s *Server) expiresInSeconds() int {
	return int(s.accessTTL / time.Second)
}
