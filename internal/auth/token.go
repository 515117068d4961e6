package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors surfaced to the connection lifecycle: both mean operator
// action is required, not another dial attempt.
var (
	ErrNoToken      = errors.New("no session token")
	ErrTokenExpired = errors.New("session token expired")
)

// FileTokenSource reads the bearer token from the session's token file. The
// token is re-read on every call so replacing the file takes effect on the
// next reconnect without a restart.
type FileTokenSource struct {
	path string
}

// NewFileTokenSource creates a token source backed by the given file.
func NewFileTokenSource(path string) *FileTokenSource {
	return &FileTokenSource{path: path}
}

// Token returns the stored bearer token. A JWT whose exp claim has passed is
// rejected up front; dialing with it would only yield a 401 loop.
func (s *FileTokenSource) Token() (string, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", ErrNoToken
	}
	if expired(token) {
		return "", ErrTokenExpired
	}
	return token, nil
}

// Save writes a new token to the session's token file, readable only by the
// owner.
func (s *FileTokenSource) Save(token string) error {
	return os.WriteFile(s.path, []byte(token+"\n"), 0o600)
}

// expired reports whether the token is a JWT with a passed exp claim. The
// signature is not checked here; the server does that. Opaque tokens and
// JWTs without exp pass through.
func expired(token string) bool {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}
