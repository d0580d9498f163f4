package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	jwtExpiry        = 7 * 24 * time.Hour // 7 days
	authCookieName   = "auth_token"
	authQueryParam   = "token"
	failedAuthWindow = 60 * time.Second
	maxFailedAuth    = 10
	maxUsernameLen   = 16
)

var errRateLimited = errors.New("too many failed auth attempts, try again later")

// Identity is who a connection belongs to. The zero value is a guest.
type Identity struct {
	Username string
	Avatar   string
}

// Guest reports whether the identity carries no account
func (id Identity) Guest() bool { return id.Username == "" }

// Auth validates the tokens issued by the account service. With no secret it
// lets everybody in as a guest.
type Auth struct {
	jwtSecret []byte

	// Failed validations per IP
	rateMu  sync.Mutex
	rateMap map[string]*rateEntry
}

type rateEntry struct {
	Count   int
	ResetAt time.Time
}

// NewAuth creates a new Auth handler
func NewAuth(secret string) *Auth {
	return &Auth{
		jwtSecret: []byte(secret),
		rateMap:   make(map[string]*rateEntry),
	}
}

// Enabled reports whether tokens are required
func (a *Auth) Enabled() bool {
	return a != nil && len(a.jwtSecret) > 0
}

// Authenticate resolves the identity behind an upgrade request. The token is
// read from the auth cookie first, then from the query string.
func (a *Auth) Authenticate(r *http.Request, ip string) (Identity, error) {
	if !a.Enabled() {
		return Identity{}, nil
	}
	if !a.allow(ip) {
		return Identity{}, errRateLimited
	}
	token := r.URL.Query().Get(authQueryParam)
	if c, err := r.Cookie(authCookieName); err == nil && c.Value != "" {
		token = c.Value
	}
	if token == "" {
		a.fail(ip)
		return Identity{}, ErrNotAuthenticated
	}
	id, err := a.ValidateToken(token)
	if err != nil {
		a.fail(ip)
		return Identity{}, err
	}
	return id, nil
}

// ValidateToken validates a JWT and returns the identity it names
func (a *Auth) ValidateToken(tokenStr string) (Identity, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("invalid token")
	}

	username, ok := claims["username"].(string)
	username = strings.TrimSpace(username)
	if !ok || username == "" || len(username) > maxUsernameLen {
		return Identity{}, fmt.Errorf("invalid token claims")
	}
	avatar, _ := claims["avatar"].(string)

	return Identity{Username: username, Avatar: avatar}, nil
}

// IssueToken signs a token for username. The account service normally does
// this; the server uses it for tooling and tests.
func (a *Auth) IssueToken(username, avatar string) (string, error) {
	claims := jwt.MapClaims{
		"username": username,
		"exp":      time.Now().Add(jwtExpiry).Unix(),
		"iat":      time.Now().Unix(),
	}
	if avatar != "" {
		claims["avatar"] = avatar
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

func (a *Auth) allow(ip string) bool {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	entry, ok := a.rateMap[ip]
	if !ok {
		return true
	}
	if time.Now().After(entry.ResetAt) {
		delete(a.rateMap, ip)
		return true
	}
	return entry.Count < maxFailedAuth
}

func (a *Auth) fail(ip string) {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	now := time.Now()
	entry, ok := a.rateMap[ip]
	if ok && !now.After(entry.ResetAt) {
		entry.Count++
		return
	}
	// A new window: drop every window that has already ended
	for k, e := range a.rateMap {
		if now.After(e.ResetAt) {
			delete(a.rateMap, k)
		}
	}
	a.rateMap[ip] = &rateEntry{Count: 1, ResetAt: now.Add(failedAuthWindow)}
}
