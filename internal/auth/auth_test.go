package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSigningSecret = "secret"
	testIssuer        = "drive-lifecycle"
	testSubject       = "rollup-cron"
)

func newTestPair(t *testing.T, clockNow time.Time) (*Issuer, *Validator) {
	t.Helper()
	clock := func() time.Time { return clockNow }
	issuer, err := NewIssuer(IssuerConfig{SigningSecret: []byte(testSigningSecret), Issuer: testIssuer, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	validator, err := NewValidator(ValidatorConfig{SigningSecret: []byte(testSigningSecret), Issuer: testIssuer, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return issuer, validator
}

func TestIssuedTokenValidates(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer, validator := newTestPair(t, clockNow)

	signed, expiresAt, err := issuer.Issue(testSubject, "rollup")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	if !expiresAt.Equal(clockNow.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", expiresAt)
	}

	request := httptest.NewRequest(http.MethodGet, "/files/abc", nil)
	request.Header.Set("Authorization", "Bearer "+signed)
	claims, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.Subject != testSubject || len(claims.Scopes) != 1 {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestValidatorRejections(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer, validator := newTestPair(t, clockNow)
	signed, _, err := issuer.Issue(testSubject)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	_, lateValidator := newTestPair(t, clockNow.Add(2*time.Hour))
	if _, err := lateValidator.ValidateToken(signed); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}

	foreign, err := NewValidator(ValidatorConfig{SigningSecret: []byte(testSigningSecret), Issuer: "someone-else", Clock: func() time.Time { return clockNow }})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	if _, err := foreign.ValidateToken(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected issuer mismatch to be invalid, got %v", err)
	}

	noneToken := jwt.NewWithClaims(jwt.SigningMethodNone, ServiceClaims{RegisteredClaims: jwt.RegisteredClaims{Issuer: testIssuer, Subject: testSubject}})
	unsigned, err := noneToken.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}
	if _, err := validator.ValidateToken(unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected unsigned token to be rejected, got %v", err)
	}

	request := httptest.NewRequest(http.MethodGet, "/files/abc", nil)
	if _, err := validator.ValidateRequest(request); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
	request.Header.Set("Authorization", "Basic abc")
	if _, err := validator.ValidateRequest(request); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected non-bearer header to be rejected, got %v", err)
	}
}

func TestConstructorsValidate(t *testing.T) {
	if _, err := NewValidator(ValidatorConfig{Issuer: testIssuer}); !errors.Is(err, ErrMissingSigningSecret) {
		t.Fatalf("expected missing secret error, got %v", err)
	}
	if _, err := NewValidator(ValidatorConfig{SigningSecret: []byte("x")}); !errors.Is(err, ErrMissingIssuer) {
		t.Fatalf("expected missing issuer error, got %v", err)
	}
	issuer, err := NewIssuer(IssuerConfig{SigningSecret: []byte("x"), Issuer: testIssuer})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	if _, _, err := issuer.Issue("  "); !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("expected missing subject error, got %v", err)
	}
}
