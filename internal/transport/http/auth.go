package http

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// errUnauthorized is mapped to 401 by writeError.
var errUnauthorized = errors.New("unauthorized")

// HostClaims identify the host console bearer.
type HostClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthConfig configures host console authentication.
type AuthConfig struct {
	Username     string
	PasswordHash string
	Secret       string
	TokenTTL     time.Duration
}

// Auth issues and checks host tokens. With no secret configured host routes are open.
type Auth struct {
	cfg AuthConfig
	now func() time.Time
}

func NewAuth(cfg AuthConfig) *Auth {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 12 * time.Hour
	}
	return &Auth{cfg: cfg, now: time.Now}
}

// Enabled reports whether host routes require a token.
func (a *Auth) Enabled() bool {
	return a != nil && a.cfg.Secret != ""
}

// Login checks the host credential and returns a signed token.
func (a *Auth) Login(username, password string) (string, time.Time, error) {
	if !a.Enabled() || a.cfg.PasswordHash == "" {
		return "", time.Time{}, fmt.Errorf("host login not configured: %w", errUnauthorized)
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(a.cfg.Username)) != 1 {
		return "", time.Time{}, errUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.cfg.PasswordHash), []byte(password)); err != nil {
		return "", time.Time{}, errUnauthorized
	}

	now := a.now()
	expires := now.Add(a.cfg.TokenTTL)
	claims := &HostClaims{
		Role: "host",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expires, nil
}

// Verify parses a bearer token.
func (a *Auth) Verify(raw string) (*HostClaims, error) {
	token, err := jwt.ParseWithClaims(raw, &HostClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.cfg.Secret), nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUnauthorized, err)
	}
	claims, ok := token.Claims.(*HostClaims)
	if !ok || !token.Valid || claims.Role != "host" {
		return nil, errUnauthorized
	}
	return claims, nil
}

// Require rejects requests without a valid host token.
func (a *Auth) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next(w, r)
			return
		}
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, r, errUnauthorized)
			return
		}
		if _, err := a.Verify(strings.TrimSpace(raw)); err != nil {
			writeError(w, r, err)
			return
		}
		next(w, r)
	}
}
