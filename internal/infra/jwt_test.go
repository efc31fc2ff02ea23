package infra

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v, err := NewJWTVerifier("s3cret")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	raw, err := SignJWT("s3cret", "user-1", "admin", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tok, err := v.VerifyIDToken(context.Background(), raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if tok.UID != "user-1" || tok.Role() != "admin" {
		t.Fatalf("unexpected principal uid=%q role=%q", tok.UID, tok.Role())
	}
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v, _ := NewJWTVerifier("s3cret")
	wrongKey, _ := SignJWT("other", "user-1", "admin", time.Minute)
	expired, _ := SignJWT("s3cret", "user-1", "admin", -time.Minute)
	noSubject, _ := SignJWT("s3cret", "", "admin", time.Minute)

	tests := map[string]string{
		"wrong key":  wrongKey,
		"expired":    expired,
		"no subject": noSubject,
		"garbage":    "not-a-token",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := v.VerifyIDToken(context.Background(), raw); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestNewJWTVerifier_RequiresSecret(t *testing.T) {
	if _, err := NewJWTVerifier(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
