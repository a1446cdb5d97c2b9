package server

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/emberhollow/storywalk/pkg/accountdb"
)

// Claims holds the JWT claims for an authenticated web/API session.
type Claims struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// AuthService provides JWT-based authentication for the web surface, backed
// by the same credential store as the game protocol.
type AuthService struct {
	accounts *accountdb.Store
	jwtKey   []byte
	expiry   time.Duration
}

// NewAuthService creates an auth service. If jwtSecret is empty, a random
// 32-byte key is generated (tokens then expire with the process).
func NewAuthService(accounts *accountdb.Store, jwtSecret string, expirySeconds int) *AuthService {
	var key []byte
	if jwtSecret != "" {
		key = []byte(jwtSecret)
	} else {
		key = make([]byte, 32)
		rand.Read(key)
	}
	expiry := 24 * time.Hour
	if expirySeconds > 0 {
		expiry = time.Duration(expirySeconds) * time.Second
	}
	return &AuthService{
		accounts: accounts,
		jwtKey:   key,
		expiry:   expiry,
	}
}

// Login verifies credentials and returns a signed JWT token.
func (a *AuthService) Login(username, password string) (string, error) {
	ok, err := a.accounts.Verify(username, password)
	if err != nil {
		return "", fmt.Errorf("verifying credentials: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("invalid credentials")
	}
	acct, err := a.accounts.Get(username)
	if err != nil {
		return "", fmt.Errorf("loading account: %w", err)
	}

	now := time.Now()
	claims := Claims{
		Username:    acct.Username,
		DisplayName: acct.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
			Issuer:    "storywalk",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtKey)
}

// ValidateToken parses and validates a JWT token string.
func (a *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// RefreshToken creates a new token with a fresh expiry for a valid token.
func (a *AuthService) RefreshToken(tokenStr string) (string, error) {
	claims, err := a.ValidateToken(tokenStr)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.expiry))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtKey)
}
