package auth

import (
	"errors"
	"testing"
	"time"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	k, err := NewKeyring("s3cret", "dev")
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	token, err := k.Sign(Claims{Sub: "user-1", Email: "u@example.com"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	claims, err := k.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Sub != "user-1" || claims.Email != "u@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	a, _ := NewKeyring("a", "dev")
	b, _ := NewKeyring("b", "dev")
	token, err := a.Sign(Claims{Sub: "user-1"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := b.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	k, _ := NewKeyring("s", "dev")
	token, err := k.Sign(Claims{Sub: "user-1", Exp: time.Now().Add(-time.Minute).Unix()})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := k.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestProductionRequiresSecret(t *testing.T) {
	if _, err := NewKeyring("", "production"); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}
