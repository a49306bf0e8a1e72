package auth

import (
	"testing"
	"time"
)

func testJWTConfig() *JWTConfig {
	return &JWTConfig{
		Secret: []byte("test-secret-change-me"),
		Issuer: "test",
		TTL:    time.Hour,
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	cfg := testJWTConfig()

	token, err := GenerateToken(cfg, "u-1", "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ValidateToken(cfg, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.User() != "u-1" || claims.Username != "alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	other := testJWTConfig()
	other.Secret = []byte("another-secret")
	if _, err := ValidateToken(other, token); err == nil {
		t.Fatalf("expected signature mismatch")
	}
}

func TestParseClaimsWithoutSecret(t *testing.T) {
	token, err := GenerateToken(testJWTConfig(), "u-2", "bob")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ParseClaims(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.User() != "u-2" {
		t.Fatalf("expected user id u-2, got %q", claims.User())
	}

	if _, err := ParseClaims("not-a-jwt"); err == nil {
		t.Fatalf("expected error for malformed token")
	}
}

func TestExpired(t *testing.T) {
	cfg := testJWTConfig()
	token, err := GenerateToken(cfg, "u-3", "carol")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	tests := []struct {
		name  string
		token string
		now   time.Time
		want  bool
	}{
		{"fresh", token, time.Now(), false},
		{"after ttl", token, time.Now().Add(2 * time.Hour), true},
		{"garbage", "abc.def", time.Now(), true},
		{"empty", "", time.Now(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Expired(tt.token, tt.now); got != tt.want {
				t.Fatalf("Expired = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := ComparePassword(hash, "s3cret"); err != nil {
		t.Fatalf("expected match: %v", err)
	}
	if err := ComparePassword(hash, "wrong"); err == nil {
		t.Fatalf("expected mismatch")
	}
}
