package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/peerzee/peersync/internal/rt"
	"github.com/peerzee/peersync/internal/state"
	"go.uber.org/zap"
)

const defaultTimeout = 15 * time.Second

// minQueryLen is the server's floor for user search; shorter queries are not
// sent at all.
const minQueryLen = 2

// User is a directory entry returned by user search.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// Client talks to the chat server's REST surface: the conversation snapshot
// fetched at startup and the user lookup behind the creation form. Everything
// continuous goes over the realtime channel instead.
type Client struct {
	baseURL string
	tokens  rt.TokenSource
	httpc   *http.Client
	logger  *zap.Logger
}

// NewClient creates a REST client for the given server base URL.
func NewClient(baseURL string, tokens rt.TokenSource, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpc:   &http.Client{Timeout: defaultTimeout},
		logger:  logger,
	}
}

// ListConversations fetches the point-in-time conversation snapshot.
func (c *Client) ListConversations(ctx context.Context) ([]state.Conversation, error) {
	data, err := c.get(ctx, "/conversation", nil)
	if err != nil {
		return nil, err
	}
	var recs []rt.ConversationRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("decode conversation snapshot: %w", err)
	}
	convs := make([]state.Conversation, 0, len(recs))
	for _, r := range recs {
		convs = append(convs, r.ToState())
	}
	return convs, nil
}

// SearchUsers looks up users by name fragment. Queries shorter than two
// characters return an empty result without a request.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]User, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < minQueryLen {
		return nil, nil
	}
	data, err := c.get(ctx, "/users", url.Values{"q": {query}})
	if err != nil {
		return nil, err
	}
	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("decode user search: %w", err)
	}
	return users, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("rest request failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("request %s: status %d", path, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
