package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const bearerPrefix = "Bearer "

var (
	ErrMissingSigningSecret = errors.New("service token: signing secret required")
	ErrMissingIssuer        = errors.New("service token: issuer required")
	ErrMissingToken         = errors.New("service token: token required")
	ErrInvalidToken         = errors.New("service token: invalid token")
	ErrExpiredToken         = errors.New("service token: token expired")
	ErrMissingSubject       = errors.New("service token: subject required")
)

// ServiceClaims is the payload of a service token. Subject names the caller.
type ServiceClaims struct {
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// ValidatorConfig describes how to validate service tokens.
type ValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	Clock         func() time.Time
}

// Validator validates HS256 service tokens presented as bearer credentials.
type Validator struct {
	signingSecret []byte
	issuer        string
	clock         func() time.Time
}

// NewValidator constructs a validator with the provided configuration.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Validator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		clock:         clock,
	}, nil
}

// ValidateToken validates the supplied JWT string and returns the parsed claims.
func (v *Validator) ValidateToken(tokenString string) (ServiceClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return ServiceClaims{}, ErrMissingToken
	}

	claims := &ServiceClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidToken, t.Method.Alg())
			}
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ServiceClaims{}, ErrExpiredToken
		}
		return ServiceClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return ServiceClaims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return ServiceClaims{}, ErrMissingSubject
	}
	return *claims, nil
}

// ValidateRequest extracts the bearer token from the Authorization header.
func (v *Validator) ValidateRequest(r *http.Request) (ServiceClaims, error) {
	if r == nil {
		return ServiceClaims{}, ErrMissingToken
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ServiceClaims{}, ErrMissingToken
	}
	return v.ValidateToken(header[len(bearerPrefix):])
}
