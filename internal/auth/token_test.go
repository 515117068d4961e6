package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signJWT(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func writeToken(t *testing.T, content string) *FileTokenSource {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return NewFileTokenSource(path)
}

func TestTokenMissingFile(t *testing.T) {
	s := NewFileTokenSource(filepath.Join(t.TempDir(), "token"))
	if _, err := s.Token(); !errors.Is(err, ErrNoToken) {
		t.Fatalf("err = %v, want ErrNoToken", err)
	}
}

func TestTokenEmptyFile(t *testing.T) {
	for _, content := range []string{"", "   \n"} {
		s := writeToken(t, content)
		if _, err := s.Token(); !errors.Is(err, ErrNoToken) {
			t.Errorf("Token() with %q = %v, want ErrNoToken", content, err)
		}
	}
}

func TestTokenOpaquePassesThrough(t *testing.T) {
	s := writeToken(t, "opaque-session-token\n")
	got, err := s.Token()
	if err != nil {
		t.Fatal(err)
	}
	if got != "opaque-session-token" {
		t.Errorf("token = %q", got)
	}
}

func TestTokenExpiredJWT(t *testing.T) {
	s := writeToken(t, signJWT(t, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()}))
	if _, err := s.Token(); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestTokenValidJWT(t *testing.T) {
	raw := signJWT(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix(), "sub": "u1"})
	s := writeToken(t, raw)
	got, err := s.Token()
	if err != nil {
		t.Fatal(err)
	}
	if got != raw {
		t.Error("token rewritten on the way through")
	}
}

func TestTokenJWTWithoutExp(t *testing.T) {
	s := writeToken(t, signJWT(t, jwt.MapClaims{"sub": "u1"}))
	if _, err := s.Token(); err != nil {
		t.Fatalf("err = %v, want exp-less JWT accepted", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	s := NewFileTokenSource(filepath.Join(t.TempDir(), "token"))
	if err := s.Save("fresh-token"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Token()
	if err != nil {
		t.Fatal(err)
	}
	if got != "fresh-token" {
		t.Errorf("token = %q", got)
	}
}
