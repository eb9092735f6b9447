package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/device-ledger/internal/ledger"
)

const (
	testSecret = "test-secret-key-at-least-32-characters-long"
	testIssuer = "devledger"
)

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken(testSecret, testIssuer, "5GrwvaEF", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("GenerateToken() returned empty token")
	}

	claims, err := ParseToken(token, testSecret, testIssuer)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	p, err := claims.Principal()
	if err != nil {
		t.Fatalf("Principal() error = %v", err)
	}
	if p != "5GrwvaEF" {
		t.Errorf("Principal() = %q, want %q", p, "5GrwvaEF")
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
	if claims.Issuer != testIssuer {
		t.Errorf("Issuer = %q, want %q", claims.Issuer, testIssuer)
	}
}

func TestGenerateToken_DefaultTTL(t *testing.T) {
	token, err := GenerateToken(testSecret, testIssuer, "alice", 0)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := ParseToken(token, testSecret, testIssuer)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	lifetime := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if lifetime != defaultTokenTTL {
		t.Errorf("lifetime = %v, want %v", lifetime, defaultTokenTTL)
	}
}

func TestParseToken_Rejects(t *testing.T) {
	valid, err := GenerateToken(testSecret, testIssuer, "alice", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	sign := func(method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, Claims{RegisteredClaims: claims}).SignedString(key)
		if err != nil {
			t.Fatalf("signing: %v", err)
		}
		return s
	}
	now := time.Now()
	future := jwt.NewNumericDate(now.Add(time.Minute))

	tests := []struct {
		name   string
		token  string
		secret string
		issuer string
	}{
		{"garbage", "not-a-valid-jwt", testSecret, testIssuer},
		{"wrong secret", valid, "another-secret-key-at-least-32-chars!!", testIssuer},
		{"wrong issuer", valid, testSecret, "someone-else"},
		{
			"expired",
			sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
				Issuer: testIssuer, Subject: "alice",
				ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
			}),
			testSecret, testIssuer,
		},
		{
			"no expiry",
			sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
				Issuer: testIssuer, Subject: "alice",
			}),
			testSecret, testIssuer,
		},
		{
			"empty subject",
			sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
				Issuer: testIssuer, ExpiresAt: future,
			}),
			testSecret, testIssuer,
		},
		{
			"subject with whitespace",
			sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
				Issuer: testIssuer, Subject: "alice smith", ExpiresAt: future,
			}),
			testSecret, testIssuer,
		},
		{
			"wrong algorithm",
			sign(jwt.SigningMethodHS512, []byte(testSecret), jwt.RegisteredClaims{
				Issuer: testIssuer, Subject: "alice", ExpiresAt: future,
			}),
			testSecret, testIssuer,
		},
		{
			"none algorithm",
			sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.RegisteredClaims{
				Issuer: testIssuer, Subject: "alice", ExpiresAt: future,
			}),
			testSecret, testIssuer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret, tt.issuer)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestParseToken_SubjectIsPrincipal(t *testing.T) {
	token, err := GenerateToken(testSecret, testIssuer, "alice smith", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	_, err = ParseToken(token, testSecret, testIssuer)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
	if !errors.Is(err, ledger.ErrInvalidPrincipal) {
		t.Errorf("ParseToken() error = %v, want wrapped ErrInvalidPrincipal", err)
	}
}

func TestMissingSecret(t *testing.T) {
	if _, err := GenerateToken("", testIssuer, "alice", time.Minute); !errors.Is(err, ErrMissingSecret) {
		t.Errorf("GenerateToken() error = %v, want ErrMissingSecret", err)
	}
	if _, err := ParseToken("x", "", testIssuer); !errors.Is(err, ErrMissingSecret) {
		t.Errorf("ParseToken() error = %v, want ErrMissingSecret", err)
	}
}
