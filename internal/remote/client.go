// ABOUTME: HTTP client for the remote system of record (bulk, chunked, changes, schema)
// ABOUTME: Bearer token plus tenant header on every request; auth failures degrade to warnings

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned on 401/403 responses. Background sync
// treats it as a banner-class warning, never a forced logout.
var ErrUnauthorized = errors.New("remote rejected credentials")

// tenantHeader carries the tenant identifier on every request.
const tenantHeader = "X-Tenant-ID"

// expiryWarnWindow is how close to token expiry the client starts warning.
const expiryWarnWindow = 5 * time.Minute

// Client talks to the remote bulk/incremental API.
type Client struct {
	baseURL  string
	token    string
	tenantID string
	httpc    *http.Client
	logger   *slog.Logger

	expiryOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// NewClient creates a client for the remote system of record.
func NewClient(baseURL, token, tenantID string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		tenantID: tenantID,
		httpc:    &http.Client{Timeout: 30 * time.Second},
		logger:   slog.Default().With("component", "remote"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get performs an authenticated GET and decodes the JSON response.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	c.warnIfTokenExpiring()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set(tenantHeader, c.tenantID)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.logger.Warn("remote rejected credentials; local work continues", "path", path, "status", resp.StatusCode)
		return fmt.Errorf("%s: %w", path, ErrUnauthorized)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// warnIfTokenExpiring inspects the bearer token (unverified; the server
// owns validation) and logs once when expiry is imminent, so a sync that
// is about to lose auth shows up in the log before the 401 does.
func (c *Client) warnIfTokenExpiring() {
	c.expiryOnce.Do(func() {
		claims := jwt.MapClaims{}
		_, _, err := jwt.NewParser().ParseUnverified(c.token, claims)
		if err != nil {
			return // opaque token, nothing to inspect
		}
		exp, err := claims.GetExpirationTime()
		if err != nil || exp == nil {
			return
		}
		if until := time.Until(exp.Time); until < expiryWarnWindow {
			c.logger.Warn("bearer token close to expiry", "expires_in", until.Round(time.Second))
		}
	})
}

// BulkState fetches the full dataset in one response, optionally
// restricted to the named entities.
func (c *Client) BulkState(ctx context.Context, entities []string) (map[string][]map[string]any, error) {
	query := url.Values{}
	if len(entities) > 0 {
		query.Set("entities", strings.Join(entities, ","))
	}
	var resp struct {
		Entities map[string][]map[string]any `json:"entities"`
	}
	if err := c.get(ctx, "/state/bulk", query, &resp); err != nil {
		return nil, err
	}
	return resp.Entities, nil
}

// ChunkPage is one page of a chunked bulk fetch.
type ChunkPage struct {
	Entities   map[string][]map[string]any `json:"entities"`
	Totals     map[string]int              `json:"totals"`
	HasMore    bool                        `json:"has_more"`
	NextOffset int                         `json:"next_offset"`
}

// BulkStateChunk fetches one bounded page of the dataset.
func (c *Client) BulkStateChunk(ctx context.Context, limit, offset int) (*ChunkPage, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))
	var page ChunkPage
	if err := c.get(ctx, "/state/bulk-chunked", query, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ChangesPage is one page of the since-timestamp change feed.
type ChangesPage struct {
	Since      string                      `json:"since"`
	UpdatedAt  string                      `json:"updatedAt"`
	Entities   map[string][]map[string]any `json:"entities"`
	HasMore    bool                        `json:"has_more"`
	NextCursor string                      `json:"next_cursor"`
}

// ChangesSince fetches the change feed from a timestamp; cursor continues
// a paged feed and may be empty for the first page.
func (c *Client) ChangesSince(ctx context.Context, since time.Time, cursor string) (*ChangesPage, error) {
	query := url.Values{}
	query.Set("since", since.UTC().Format(time.RFC3339))
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	var page ChangesPage
	if err := c.get(ctx, "/state/changes", query, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// SchemaVersion returns the schema version the server is at.
func (c *Client) SchemaVersion(ctx context.Context) (int, error) {
	var resp struct {
		Version int `json:"version"`
	}
	if err := c.get(ctx, "/schema/version", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Version, nil
}

// SchemaMigrations returns the migration statements bridging two versions.
func (c *Client) SchemaMigrations(ctx context.Context, from, to int) ([]string, error) {
	query := url.Values{}
	query.Set("from", strconv.Itoa(from))
	query.Set("to", strconv.Itoa(to))
	var resp struct {
		Migrations []string `json:"migrations"`
	}
	if err := c.get(ctx, "/schema/migrations", query, &resp); err != nil {
		return nil, err
	}
	return resp.Migrations, nil
}
