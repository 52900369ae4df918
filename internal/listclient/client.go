// Package listclient talks to a REST list collection that supports
// filter/select/top queries and optimistic concurrency via version tokens.
package listclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperengineering/vitalsync/internal/transport"
	"github.com/hyperengineering/vitalsync/internal/types"
)

// ErrNotConfigured is returned when no base URL was provided.
var ErrNotConfigured = errors.New("remote list URL not configured")

// Options configures a Client.
type Options struct {
	BaseURL    string
	List       string
	APIKey     string
	HTTPClient *http.Client
	Transport  transport.Options
}

// Query selects items from the list.
type Query struct {
	Filter string
	Select []string
	Top    int
}

// Client is a list-collection client. Writes and queries go through the
// resilient transport; health probes are single attempts.
type Client struct {
	baseURL string
	list    string
	apiKey  string
	calls   *transport.Client
	probe   *transport.Client
}

// New creates a Client for one list.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	probeOpts := opts.Transport
	probeOpts.MaxAttempts = 1

	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		list:    strings.TrimSpace(opts.List),
		apiKey:  strings.TrimSpace(opts.APIKey),
		calls:   transport.New(httpClient, opts.Transport),
		probe:   transport.New(httpClient, probeOpts),
	}
}

// List returns the list name this client writes to.
func (c *Client) List() string {
	return c.list
}

// Ping checks connectivity to the backend.
func (c *Client) Ping(ctx context.Context) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	_, err := c.probe.Do(ctx, c.request(http.MethodGet, "/api/v1/health", nil, nil))
	return err
}

// Find returns the items matching q.
func (c *Client) Find(ctx context.Context, q Query) ([]types.RemoteRef, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	params := url.Values{}
	if q.Filter != "" {
		params.Set("$filter", q.Filter)
	}
	if len(q.Select) > 0 {
		params.Set("$select", strings.Join(q.Select, ","))
	}
	if q.Top > 0 {
		params.Set("$top", strconv.Itoa(q.Top))
	}
	path := c.itemsPath()
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	resp, err := c.calls.Do(ctx, c.request(http.MethodGet, path, nil, nil))
	if err != nil {
		return nil, err
	}
	var out struct {
		Value []types.RemoteRef `json:"value"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode find response: %w", err)
	}
	return out.Value, nil
}

// FindByKey resolves the item carrying idempotency key, or nil when none exists.
func (c *Client) FindByKey(ctx context.Context, key string) (*types.RemoteRef, error) {
	refs, err := c.Find(ctx, Query{
		Filter: EqFilter("IdempotencyKey", key),
		Select: []string{"Id"},
		Top:    1,
	})
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}
	return &refs[0], nil
}

// Create adds record to the list.
func (c *Client) Create(ctx context.Context, record types.RemoteRecord) (types.RemoteRef, error) {
	if c.baseURL == "" {
		return types.RemoteRef{}, ErrNotConfigured
	}
	body, err := json.Marshal(record)
	if err != nil {
		return types.RemoteRef{}, err
	}
	resp, err := c.calls.Do(ctx, c.request(http.MethodPost, c.itemsPath(), body, nil))
	if err != nil {
		return types.RemoteRef{}, err
	}
	return decodeRef(resp)
}

// clearedOnUpdate holds the payload fields an update always sends, with the
// value that clears them when the new payload leaves them out.
var clearedOnUpdate = map[string]any{
	"Temperature":     nil,
	"SystolicBp":      nil,
	"DiastolicBp":     nil,
	"Pulse":           nil,
	"SpO2":            nil,
	"RespiratoryRate": nil,
	"Memo":            "",
	"Tags":            "",
}

// Update replaces the payload fields of item ref.ID with record. A
// non-empty ref.ETag is sent as If-Match so a stale version is rejected
// with 412; an empty token matches any version.
func (c *Client) Update(ctx context.Context, ref types.RemoteRef, record types.RemoteRecord) (types.RemoteRef, error) {
	if c.baseURL == "" {
		return types.RemoteRef{}, ErrNotConfigured
	}
	body, err := replacementBody(record)
	if err != nil {
		return types.RemoteRef{}, err
	}
	etag := ref.ETag
	if etag == "" {
		etag = "*"
	}
	headers := map[string]string{"If-Match": etag}
	path := c.itemsPath() + "/" + url.PathEscape(ref.ID)

	resp, err := c.calls.Do(ctx, c.request(http.MethodPatch, path, body, headers))
	if err != nil {
		return types.RemoteRef{}, err
	}
	updated, err := decodeRef(resp)
	if err != nil || updated.ID == "" {
		updated.ID = ref.ID
	}
	return updated, nil
}

// replacementBody encodes record with every payload field present, so
// values dropped from a corrected payload do not survive on the remote.
func replacementBody(record types.RemoteRecord) ([]byte, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	for name, cleared := range clearedOnUpdate {
		if _, ok := fields[name]; ok {
			continue
		}
		v, err := json.Marshal(cleared)
		if err != nil {
			return nil, err
		}
		fields[name] = v
	}
	return json.Marshal(fields)
}

func (c *Client) itemsPath() string {
	return "/api/v1/lists/" + url.PathEscape(c.list) + "/items"
}

func (c *Client) request(method, path string, body []byte, headers map[string]string) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Correlation-Id", uuid.NewString())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	}
}

func decodeRef(resp *transport.Response) (types.RemoteRef, error) {
	var ref types.RemoteRef
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &ref); err != nil {
			return types.RemoteRef{}, fmt.Errorf("decode item: %w", err)
		}
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		ref.ETag = etag
	}
	return ref, nil
}

// EqFilter builds an equality filter expression on field.
func EqFilter(field, value string) string {
	return fmt.Sprintf("%s eq '%s'", field, EscapeLiteral(value))
}

// EscapeLiteral escapes a filter string literal by doubling single quotes.
func EscapeLiteral(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}
