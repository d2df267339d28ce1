package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claim values stamped on every operator token.
const (
	OperatorIssuer   = "reviewhub"
	OperatorAudience = "reviewhub-admin"
	defaultTokenTTL  = time.Hour
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
	errInvalidTokenTTL      = errors.New("token ttl must be positive")
	// ErrMissingBearer is returned when an Authorization header carries no bearer token.
	ErrMissingBearer = errors.New("bearer token is required")
)

// OperatorTokenConfig configures issuance and validation of operator tokens.
type OperatorTokenConfig struct {
	SigningSecret []byte
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// OperatorTokens issues and validates the HS256 tokens guarding admin endpoints.
type OperatorTokens struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// NewOperatorTokens validates configuration and constructs OperatorTokens.
func NewOperatorTokens(cfg OperatorTokenConfig) (*OperatorTokens, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	ttl := cfg.TokenTTL
	if ttl == 0 {
		ttl = defaultTokenTTL
	}
	if ttl < 0 {
		return nil, errInvalidTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &OperatorTokens{secret: cfg.SigningSecret, ttl: ttl, clock: clock}, nil
}

// Issue produces a signed token for subject and its expiry instant.
func (o *OperatorTokens) Issue(subject string) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, errMissingSubjectClaim
	}

	now := o.clock().UTC()
	expiresAt := now.Add(o.ttl)
	registered := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    OperatorIssuer,
		Audience:  []string{OperatorAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := token.SignedString(o.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate checks signature, issuer, audience and expiry and returns the subject.
func (o *OperatorTokens) Validate(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return o.secret, nil
		},
		jwt.WithAudience(OperatorAudience),
		jwt.WithIssuer(OperatorIssuer),
		jwt.WithTimeFunc(o.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingSubjectClaim
	}
	return claims.Subject, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value.
func BearerToken(header string) (string, error) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", ErrMissingBearer
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingBearer
	}
	return token, nil
}
