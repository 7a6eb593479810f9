// Package jina is a small client for the Jina reader (r.jina.ai) and search
// (s.jina.ai) endpoints used to fetch prospect websites as markdown and to
// discover candidate sites.
package jina

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

// Client reads pages and runs searches.
type Client interface {
	Read(ctx context.Context, targetURL string) (*Page, error)
	Search(ctx context.Context, query string, opts ...SearchOption) ([]SearchResult, error)
}

// Page is a fetched page rendered as markdown.
type Page struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage is the token count the reader bills for a page.
type Usage struct {
	Tokens int64 `json:"tokens"`
}

// SearchResult is one hit from the search endpoint.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

type envelope[T any] struct {
	Code int `json:"code"`
	Data T   `json:"data"`
}

// SearchOption configures one search.
type SearchOption func(url.Values)

// WithSite restricts results to a domain.
func WithSite(domain string) SearchOption {
	return func(v url.Values) { v.Set("site", domain) }
}

// WithCountry biases results to a country code, such as "us".
func WithCountry(code string) SearchOption {
	return func(v url.Values) { v.Set("gl", strings.ToLower(code)) }
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the reader endpoint.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.readBase = strings.TrimRight(u, "/") }
}

// WithSearchBaseURL overrides the search endpoint.
func WithSearchBaseURL(u string) Option {
	return func(c *httpClient) { c.searchBase = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRetry replaces the retry policy for transient statuses.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

type httpClient struct {
	apiKey     string
	readBase   string
	searchBase string
	http       *http.Client
	retry      resilience.RetryConfig
}

// NewClient creates a client. An empty apiKey sends anonymous requests, which
// Jina rate-limits harder.
func NewClient(apiKey string, opts ...Option) Client {
	retry := resilience.DefaultRetryConfig()
	retry.InitialBackoff = time.Second
	retry.OnRetry = resilience.RetryLogger("jina", "request")

	c := &httpClient{
		apiKey:     apiKey,
		readBase:   "https://r.jina.ai",
		searchBase: "https://s.jina.ai",
		http:       &http.Client{Timeout: 45 * time.Second},
		retry:      retry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Read(ctx context.Context, targetURL string) (*Page, error) {
	body, status, err := c.get(ctx, c.readBase+"/"+targetURL, map[string]string{"X-Return-Format": "markdown"})
	if err != nil {
		return nil, eris.Wrapf(err, "jina: read %s", targetURL)
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("jina: read %s: status %d: %s", targetURL, status, snippet(body))
	}

	var env envelope[Page]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrap(err, "jina: decode page")
	}
	return &env.Data, nil
}

func (c *httpClient) Search(ctx context.Context, query string, opts ...SearchOption) ([]SearchResult, error) {
	params := url.Values{}
	for _, o := range opts {
		o(params)
	}
	reqURL := c.searchBase + "/" + url.PathEscape(query)
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	body, status, err := c.get(ctx, reqURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "jina: search %q", query)
	}
	// 422 means the query had no results.
	if status == http.StatusUnprocessableEntity {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("jina: search %q: status %d: %s", query, status, snippet(body))
	}

	var env envelope[[]SearchResult]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrap(err, "jina: decode search results")
	}
	return env.Data, nil
}

type response struct {
	body   []byte
	status int
}

// get retries transport errors and transient statuses. A non-transient
// status is returned to the caller with its body.
func (c *httpClient) get(ctx context.Context, reqURL string, headers map[string]string) ([]byte, int, error) {
	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return response{}, eris.Wrap(err, "jina: build request")
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		res, err := c.http.Do(req)
		if err != nil {
			return response{}, err
		}
		defer res.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(res.Body)
		if err != nil {
			return response{}, eris.Wrap(err, "jina: read body")
		}
		if resilience.IsTransientHTTPStatus(res.StatusCode) {
			return response{}, resilience.NewTransientError(
				eris.Errorf("jina: status %d: %s", res.StatusCode, snippet(body)), res.StatusCode)
		}
		return response{body: body, status: res.StatusCode}, nil
	})
	return resp.body, resp.status, err
}

func snippet(b []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
