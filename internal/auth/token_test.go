package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing!!"

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("alice", testSecret, "reverie", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("GenerateToken() returned empty token")
	}

	claims, err := ParseToken(token, testSecret, "reverie")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "alice")
	}
	if claims.Issuer != "reverie" {
		t.Errorf("Issuer = %q, want %q", claims.Issuer, "reverie")
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
}

func TestGenerateToken_DefaultTTL(t *testing.T) {
	token, err := GenerateToken("alice", testSecret, "", 0)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := ParseToken(token, testSecret, "")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	lifetime := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if lifetime != defaultTTL {
		t.Errorf("lifetime = %v, want %v", lifetime, defaultTTL)
	}
}

func TestGenerateToken_MissingSubject(t *testing.T) {
	if _, err := GenerateToken("", testSecret, "", time.Hour); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("GenerateToken(\"\") error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_Failures(t *testing.T) {
	valid, err := GenerateToken("alice", testSecret, "reverie", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	expiredClaims := jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, expiredClaims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	noneSigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString(none) error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		secret  string
		issuer  string
		wantErr error
	}{
		{"wrong secret", valid, "another-secret-key-for-jwt-signing", "reverie", ErrTokenInvalid},
		{"wrong issuer", valid, testSecret, "someone-else", ErrTokenInvalid},
		{"expired", expired, testSecret, "", ErrTokenExpired},
		{"missing subject", noSubject, testSecret, "", ErrTokenInvalid},
		{"alg none", noneSigned, testSecret, "", ErrTokenInvalid},
		{"garbage", "not.a.jwt", testSecret, "", ErrTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret, tt.issuer)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseToken() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
