package lockd

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType separates connection tokens from session tokens.
type TokenType string

const (
	TokenConnection TokenType = "connection"
	TokenSession    TokenType = "session"
)

// Claims identify what a bearer token grants access to.
type Claims struct {
	jwt.RegisteredClaims

	ConnectionID string    `json:"cid"`
	SessionID    string    `json:"sid,omitempty"`
	TokenType    TokenType `json:"token_type"`
}

// Tokens issues and verifies HS256 bearer tokens.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokens creates a token manager. The secret is required.
func NewTokens(secret, issuer string, ttl time.Duration) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	return &Tokens{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Issue signs a token of the given type.
func (m *Tokens) Issue(now time.Time, typ TokenType, connectionID, sessionID string) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   connectionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.NewString(),
		},
		ConnectionID: connectionID,
		SessionID:    sessionID,
		TokenType:    typ,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.secret)
}

// Verify parses a token and checks signature, expiry, issuer and type.
func (m *Tokens) Verify(raw string, expected TokenType, now time.Time) (Claims, error) {
	var claims Claims

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	parser := jwt.NewParser(opts...)

	_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}

	if claims.TokenType != expected {
		return Claims{}, errors.New("token_type mismatch")
	}
	if claims.ConnectionID == "" {
		return Claims{}, errors.New("cid missing")
	}
	if expected == TokenSession && claims.SessionID == "" {
		return Claims{}, errors.New("sid missing in session token")
	}
	return claims, nil
}
