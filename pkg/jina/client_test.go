package jina

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

func fastRetry() Option {
	return WithRetry(resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
}

func TestRead_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "markdown", r.Header.Get("X-Return-Format"))
		assert.Equal(t, "/https://acme.com/contact", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"code": 200,
			"data": map[string]any{"title": "Contact Acme", "url": "https://acme.com/contact", "content": "Email jane@acme.com"},
		})
	}))
	defer srv.Close()

	page, err := NewClient("test-key", WithBaseURL(srv.URL)).Read(context.Background(), "https://acme.com/contact")
	require.NoError(t, err)
	assert.Equal(t, "Contact Acme", page.Title)
	assert.Equal(t, "Email jane@acme.com", page.Content)
}

func TestRead_RetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"code":200,"data":{"content":"ok"}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	page, err := NewClient("", WithBaseURL(srv.URL), fastRetry()).Read(context.Background(), "https://acme.com")
	require.NoError(t, err)
	assert.Equal(t, "ok", page.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRead_GivesUpAfterAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limit exceeded"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL), fastRetry()).Read(context.Background(), "https://acme.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRead_PermanentStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`blocked`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL), fastRetry()).Read(context.Background(), "https://acme.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRead_NoAuthHeaderWithoutKey(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"code":200,"data":{}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := NewClient("", WithBaseURL(srv.URL)).Read(context.Background(), "https://acme.com")
	require.NoError(t, err)
}

func TestSearch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/web design agency austin", r.URL.Path)
		assert.Equal(t, "us", r.URL.Query().Get("gl"))
		assert.Equal(t, "", r.URL.Query().Get("site"))
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"code": 200,
			"data": []map[string]any{
				{"title": "Acme Web", "url": "https://acme.com", "description": "Austin agency"},
				{"title": "Globex", "url": "https://globex.io/services"},
			},
		})
	}))
	defer srv.Close()

	results, err := NewClient("k", WithSearchBaseURL(srv.URL)).Search(context.Background(), "web design agency austin", WithCountry("US"))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://acme.com", results[0].URL)
	assert.Equal(t, "Austin agency", results[0].Description)
}

func TestSearch_SiteFilterAndNoResults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "acme.com", r.URL.Query().Get("site"))
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	results, err := NewClient("k", WithSearchBaseURL(srv.URL)).Search(context.Background(), "contact", WithSite("acme.com"))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSnippet(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, snippet(long), 203)
	assert.Equal(t, "short", snippet([]byte("  short \n")))
}
