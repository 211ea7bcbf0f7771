package store

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const defaultJWTIssuer = "doctrack"

var defaultJWTLeeway = 30 * time.Second

// ErrInvalidToken is returned for malformed, forged, or expired tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// JWTSessionStore issues and validates HS256 session tokens embedding the
// user id as subject.
type JWTSessionStore struct {
	secret []byte
	ttl    time.Duration
	issuer string
	leeway time.Duration
}

// NewJWTSessionStore builds a session store from a shared secret.
func NewJWTSessionStore(secret string, ttl time.Duration) (*JWTSessionStore, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret required")
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &JWTSessionStore{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: defaultJWTIssuer,
		leeway: defaultJWTLeeway,
	}, nil
}

// NewSession creates a signed time-bounded token for the user ID.
func (s *JWTSessionStore) NewSession(userID string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.issuer,
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// GetUserIDByToken validates a token and returns the subject.
func (s *JWTSessionStore) GetUserIDByToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.leeway),
	)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
