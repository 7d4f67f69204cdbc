package auth

import (
	"errors"
	"fmt"
	"time"

	"crm-calls/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// clockSkew is the leeway applied to exp, nbf and iat.
const clockSkew = 30 * time.Second

var (
	ErrTokenType       = errors.New("auth: unexpected token type")
	ErrMissingSubject  = errors.New("auth: token has no subject")
	ErrSubjectMismatch = errors.New("auth: sub and user_id disagree")
	ErrMissingRole     = errors.New("auth: access token has no role")
)

// Manager mints and verifies HS256 tokens for lead owners.
type Manager struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	newID      func() string
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	return &Manager{
		secret:     []byte(cfg.JWTSecret),
		issuer:     cfg.JWTIssuer,
		audience:   cfg.JWTAudience,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		newID:      uuid.NewString,
	}, nil
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// IssuePair mints an access token for userID acting as role, plus a refresh
// token that carries no role.
func (m *Manager) IssuePair(now time.Time, userID, role string) (TokenPair, error) {
	if userID == "" {
		return TokenPair{}, ErrMissingSubject
	}
	if role == "" {
		return TokenPair{}, ErrMissingRole
	}

	access, err := m.sign(m.claims(now, TokenTypeAccess, userID, role, m.accessTTL))
	if err != nil {
		return TokenPair{}, fmt.Errorf("auth: sign access token: %w", err)
	}
	refresh, err := m.sign(m.claims(now, TokenTypeRefresh, userID, "", m.refreshTTL))
	if err != nil {
		return TokenPair{}, fmt.Errorf("auth: sign refresh token: %w", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresAt: now.Add(m.accessTTL)}, nil
}

// Verify checks the signature, time claims, issuer and audience of
// tokenString and that it is of the expected type.
func (m *Manager) Verify(tokenString string, expected TokenType, now time.Time) (Claims, error) {
	var claims Claims
	_, err := jwt.NewParser(m.parserOptions(now)...).ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}

	if claims.TokenType != expected {
		return Claims{}, ErrTokenType
	}
	switch {
	case claims.Subject == "" && claims.UserID == "":
		return Claims{}, ErrMissingSubject
	case claims.UserID == "":
		claims.UserID = claims.Subject
	case claims.Subject != "" && claims.Subject != claims.UserID:
		return Claims{}, ErrSubjectMismatch
	}
	if expected == TokenTypeAccess && claims.Role == "" {
		return Claims{}, ErrMissingRole
	}
	return claims, nil
}

func (m *Manager) parserOptions(now time.Time) []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(clockSkew),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}
	return opts
}

func (m *Manager) claims(now time.Time, typ TokenType, userID, role string, ttl time.Duration) Claims {
	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        m.newID(),
		},
		UserID:    userID,
		Role:      role,
		TokenType: typ,
	}
	if m.audience != "" {
		c.Audience = jwt.ClaimStrings{m.audience}
	}
	return c
}

func (m *Manager) sign(c Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
}
