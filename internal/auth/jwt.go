package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownKey   = errors.New("unknown signing key")
	ErrNoUserID     = errors.New("token carries no user id")
)

// JWTManager verifies the HMAC tokens issued by the auth service. It holds
// every key still accepted, indexed by kid, and signs with the active one.
type JWTManager struct {
	keys      map[string][]byte
	activeKID string
	issuer    string
	audience  string
	duration  time.Duration
}

// Claims is the token payload. UserID is preferred; tokens that only carry
// the standard subject are accepted too.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// User returns the authenticated user id.
func (c *Claims) User() string {
	if id := strings.TrimSpace(c.UserID); id != "" {
		return id
	}
	return strings.TrimSpace(c.Subject)
}

type Option func(*JWTManager)

// WithIssuer requires and stamps the iss claim.
func WithIssuer(iss string) Option {
	return func(m *JWTManager) { m.issuer = iss }
}

// WithAudience requires and stamps the aud claim.
func WithAudience(aud string) Option {
	return func(m *JWTManager) { m.audience = aud }
}

// NewJWTManager returns a manager with a single key and no kid.
func NewJWTManager(secretKey string, duration time.Duration, opts ...Option) *JWTManager {
	return NewJWTManagerFromKeys(map[string]string{"": secretKey}, "", duration, opts...)
}

// NewJWTManagerFromKeys returns a manager that accepts tokens signed with any
// of keys and signs new ones with keys[activeKID]. Rotating means adding the
// new key, switching activeKID, and dropping the old key once its tokens
// have expired.
func NewJWTManagerFromKeys(keys map[string]string, activeKID string, duration time.Duration, opts ...Option) *JWTManager {
	m := &JWTManager{
		keys:      make(map[string][]byte, len(keys)),
		activeKID: activeKID,
		duration:  duration,
	}
	for kid, secret := range keys {
		m.keys[kid] = []byte(secret)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GenerateToken issues a signed token for userID with the active key.
func (m *JWTManager) GenerateToken(userID string) (string, time.Time, error) {
	key, ok := m.keys[m.activeKID]
	if !ok {
		return "", time.Time{}, fmt.Errorf("active kid %q: %w", m.activeKID, ErrUnknownKey)
	}
	now := time.Now()
	expiresAt := now.Add(m.duration)

	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.activeKID != "" {
		token.Header["kid"] = m.activeKID
	}
	tokenString, err := token.SignedString(key)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// VerifyToken parses and validates a token and returns its claims.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, m.keyFor, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.User() == "" {
		return nil, ErrNoUserID
	}
	return claims, nil
}

// keyFor picks the verification key by the kid header. Tokens without a kid
// are checked against the active key.
func (m *JWTManager) keyFor(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		kid = m.activeKID
	}
	key, ok := m.keys[kid]
	if !ok {
		return nil, fmt.Errorf("kid %q: %w", kid, ErrUnknownKey)
	}
	return key, nil
}
