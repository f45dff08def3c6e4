package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/cfghost/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndParse_Success(t *testing.T) {
	t.Parallel()

	secret := []byte("super-secret")
	ownerID := "owner-123"

	tok, err := GenerateToken(ownerID, secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	got, err := OwnerFromToken(tok, secret)
	if err != nil {
		t.Fatalf("OwnerFromToken error: %v", err)
	}
	if got != ownerID {
		t.Fatalf("owner mismatch: got %q want %q", got, ownerID)
	}
}

func TestOwnerFromToken_Expired(t *testing.T) {
	t.Parallel()

	secret := []byte("secret")

	tok, err := GenerateToken("u1", secret, -1*time.Second)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	_, err = OwnerFromToken(tok, secret)
	if !errors.Is(err, common.ErrTokenExpired) {
		t.Fatalf("expected common.ErrTokenExpired, got %v", err)
	}
}

func TestOwnerFromToken_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := GenerateToken("u2", []byte("right-secret"), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	_, err = OwnerFromToken(tok, []byte("wrong-secret"))
	if !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected common.ErrInvalidToken, got %v", err)
	}
}

func TestOwnerFromToken_MalformedString(t *testing.T) {
	t.Parallel()

	_, err := OwnerFromToken("not.a.jwt", []byte("k"))
	if !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected common.ErrInvalidToken, got %v", err)
	}
}

func TestOwnerFromToken_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	secret := []byte("k")
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{OwnerID: "u3"}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := OwnerFromToken(tok, secret); !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected common.ErrInvalidToken, got %v", err)
	}
}

func TestOwnerFromToken_MissingOwner(t *testing.T) {
	t.Parallel()

	secret := []byte("k")
	tok, err := GenerateToken("", secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}
	if _, err := OwnerFromToken(tok, secret); !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected common.ErrInvalidToken, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header  string
		token   string
		ok      bool
		wantErr bool
	}{
		{"", "", false, false},
		{"Bearer abc.def.ghi", "abc.def.ghi", true, false},
		{"bearer  xyz ", "xyz", true, false},
		{"Basic dXNlcjpwYXNz", "", false, true},
		{"Bearer", "", false, true},
		{"Bearer   ", "", false, true},
	}
	for _, tt := range tests {
		tok, ok, err := BearerToken(tt.header)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%q: err = %v, wantErr %v", tt.header, err, tt.wantErr)
		}
		if tok != tt.token || ok != tt.ok {
			t.Fatalf("%q: got (%q, %v), want (%q, %v)", tt.header, tok, ok, tt.token, tt.ok)
		}
	}
}
