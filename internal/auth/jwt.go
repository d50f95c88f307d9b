// Package auth provides bearer-token authentication for the transports.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWT errors
var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrExpiredToken    = errors.New("token has expired")
	ErrTokenGeneration = errors.New("failed to generate token")
	ErrMissingSecret   = errors.New("jwt secret must be set")
)

// JWTConfig contains configuration for the JWT issuer and verifier.
type JWTConfig struct {
	// Secret is the HS256 signing key.
	Secret string

	// Issuer is written to and required in every token.
	Issuer string

	// Audience, when set, is written to and required in every token.
	Audience string

	// TTL is the lifetime of issued tokens.
	TTL time.Duration
}

// Claims are the claims carried by access tokens.
type Claims struct {
	// Scopes lists what the bearer may do. Empty means unrestricted.
	Scopes []string `json:"scopes,omitempty"`

	jwt.RegisteredClaims
}

// JWT issues and verifies HS256 access tokens.
type JWT struct {
	config JWTConfig
	parser *jwt.Parser
	now    func() time.Time
}

// NewJWT creates a JWT issuer/verifier.
func NewJWT(config JWTConfig) (*JWT, error) {
	if config.Secret == "" {
		return nil, ErrMissingSecret
	}
	if config.TTL <= 0 {
		config.TTL = time.Hour
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(time.Second),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}

	return &JWT{
		config: config,
		parser: jwt.NewParser(opts...),
		now:    time.Now,
	}, nil
}

// Issue creates a signed token for subject.
func (j *JWT) Issue(subject string, scopes ...string) (string, error) {
	now := j.now()

	claims := Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.config.Issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(j.config.TTL)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        fmt.Sprintf("%d", now.UnixNano()),
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(j.config.Secret))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}
	return signed, nil
}

// Verify checks the signature and registered claims of token.
func (j *JWT) Verify(token string) (*Claims, error) {
	var claims Claims
	_, err := j.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(j.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &claims, nil
}

// TTL returns the lifetime of issued tokens.
func (j *JWT) TTL() time.Duration {
	return j.config.TTL
}
