package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Default tuning values applied when the config file omits them.
const (
	DefaultServerURL       = "http://localhost:4000"
	DefaultTypingDebounce  = time.Second
	DefaultReconnectBase   = time.Second
	DefaultReconnectMax    = 30 * time.Second
	DefaultReconnectTries  = 0 // 0 = retry forever
	DefaultSearchMinLength = 2
	DefaultSocketPath      = "/ws"
)

// Config represents the global ~/.peersync/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	// ServerURL is the chat server base URL. The websocket endpoint is
	// derived from it (http -> ws) plus SocketPath.
	ServerURL  string `toml:"server_url"`
	SocketPath string `toml:"socket_path"`

	// TypingDebounceMs is the composer inactivity window before a
	// typing:stop is emitted. The receiver side never times out entries.
	TypingDebounceMs int `toml:"typing_debounce_ms"`

	ReconnectBaseMs   int `toml:"reconnect_base_ms"`
	ReconnectMaxMs    int `toml:"reconnect_max_ms"`
	ReconnectAttempts int `toml:"reconnect_attempts"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// ServerBase returns the configured server URL or the default.
func (c *Config) ServerBase() string {
	if c == nil || c.ServerURL == "" {
		return DefaultServerURL
	}
	return c.ServerURL
}

// TypingDebounce returns the composer debounce window.
func (c *Config) TypingDebounce() time.Duration {
	if c == nil || c.TypingDebounceMs <= 0 {
		return DefaultTypingDebounce
	}
	return time.Duration(c.TypingDebounceMs) * time.Millisecond
}

// ReconnectBase returns the initial reconnect backoff delay.
func (c *Config) ReconnectBase() time.Duration {
	if c == nil || c.ReconnectBaseMs <= 0 {
		return DefaultReconnectBase
	}
	return time.Duration(c.ReconnectBaseMs) * time.Millisecond
}

// ReconnectMax returns the backoff ceiling.
func (c *Config) ReconnectMax() time.Duration {
	if c == nil || c.ReconnectMaxMs <= 0 {
		return DefaultReconnectMax
	}
	return time.Duration(c.ReconnectMaxMs) * time.Millisecond
}

// ReconnectTries returns the reconnect attempt budget; 0 means forever.
func (c *Config) ReconnectTries() int {
	if c == nil || c.ReconnectAttempts < 0 {
		return DefaultReconnectTries
	}
	return c.ReconnectAttempts
}

// SocketURL derives the websocket endpoint from the server base URL and the
// configured socket path (http -> ws, https -> wss).
func (c *Config) SocketURL() string {
	base := c.ServerBase()
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	path := DefaultSocketPath
	if c != nil && c.SocketPath != "" {
		path = c.SocketPath
	}
	return strings.TrimRight(base, "/") + path
}
