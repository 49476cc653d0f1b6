// Package gcp provides the shared HTTP transport for the typed Google
// Cloud API bindings. Request bodies are coerced to wire form before
// serialization and response bodies are coerced back to native form, so
// callers work with []byte, int64 and time.Time values while the wire
// carries base64, decimal and RFC 3339 strings.
package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"gcpwire/internal/wire"
)

const defaultUserAgent = "gcpwire/1.0"

// Client issues coerced JSON requests against a single API base URL.
// The zero value is not usable; construct with NewClient.
type Client struct {
	base string
	ua   string
	http *http.Client
}

// Config configures a Client. BaseURL is required. HTTPClient defaults
// to http.DefaultClient, UserAgent to a library default.
type Config struct {
	BaseURL    string
	UserAgent  string
	HTTPClient *http.Client
}

// NewClient creates a client for the API rooted at cfg.BaseURL.
func NewClient(cfg Config) *Client {
	c := &Client{
		base: strings.TrimSuffix(cfg.BaseURL, "/"),
		ua:   cfg.UserAgent,
		http: cfg.HTTPClient,
	}
	if c.ua == "" {
		c.ua = defaultUserAgent
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	return c
}

// Do issues a single API call. The request body, if any, is coerced
// through reqSchema before JSON encoding; the response body is coerced
// back through respSchema. Either schema may be nil for untyped or
// empty payloads. Non-2xx responses return an *APIError.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, reqSchema *wire.Schema, body wire.Object, respSchema *wire.Schema) (wire.Object, error) {
	var reqBody io.Reader
	if body != nil {
		wireBody := body
		if reqSchema != nil {
			var err error
			wireBody, err = wire.ToWire(reqSchema, body)
			if err != nil {
				return nil, err
			}
		}
		data, err := json.Marshal(wireBody)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	slog.Debug("API request", "method", method, "url", u)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseAPIError(resp.StatusCode, data)
	}

	if len(data) == 0 {
		return wire.Object{}, nil
	}

	var obj wire.Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}

	if respSchema == nil {
		return obj, nil
	}
	return wire.ToNative(respSchema, obj)
}

// Get issues a GET request with no body.
func (c *Client) Get(ctx context.Context, path string, query url.Values, respSchema *wire.Schema) (wire.Object, error) {
	return c.Do(ctx, http.MethodGet, path, query, nil, nil, respSchema)
}

// Post issues a POST request coercing body through schema on both sides.
func (c *Client) Post(ctx context.Context, path string, query url.Values, schema *wire.Schema, body wire.Object, respSchema *wire.Schema) (wire.Object, error) {
	return c.Do(ctx, http.MethodPost, path, query, schema, body, respSchema)
}
