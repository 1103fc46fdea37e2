package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mutate func(*Options)) *Client {
	t.Helper()

	opts := DefaultOptions()
	opts.RetryWait = time.Millisecond
	opts.RetryMaxWait = 5 * time.Millisecond
	if mutate != nil {
		mutate(&opts)
	}

	c, err := New(opts)
	require.NoError(t, err)
	return c
}

// TestGet_RetriesTransientStatus verifies 503 responses are retried
func TestGet_RetriesTransientStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := newTestClient(t, nil)
	res, err := c.Get(context.Background(), Request{URL: srv.URL})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ok", string(res.Body))
	assert.Equal(t, int32(3), hits.Load())
}

// TestGet_HonorsRetryAfter verifies a 429 with Retry-After is retried
func TestGet_HonorsRetryAfter(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("done"))
	}))
	defer srv.Close()

	c := newTestClient(t, nil)
	res, err := c.Get(context.Background(), Request{URL: srv.URL})

	require.NoError(t, err)
	assert.NoError(t, res.Err())
	assert.Equal(t, int32(2), hits.Load())
}

// TestGet_ExhaustedRetriesReturnStatus verifies the last status is surfaced
func TestGet_ExhaustedRetriesReturnStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, func(o *Options) { o.Retries = 2 })
	res, err := c.Get(context.Background(), Request{URL: srv.URL})

	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())

	var statusErr *StatusError
	require.True(t, errors.As(res.Err(), &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

// TestGet_DoesNotRetryClientErrors verifies 404 is returned immediately
func TestGet_DoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, nil)
	res, err := c.Get(context.Background(), Request{URL: srv.URL})

	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

// TestGet_SetsUserAgentAndQuery verifies request decoration
func TestGet_SetsUserAgentAndQuery(t *testing.T) {
	var gotUA, gotQ string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotQ = r.URL.Query().Get("q")
	}))
	defer srv.Close()

	c := newTestClient(t, nil)
	_, err := c.Get(context.Background(), Request{
		URL:   srv.URL,
		Query: map[string][]string{"q": {"psa 10 cert"}},
	})

	require.NoError(t, err)
	assert.Contains(t, UserAgents, gotUA)
	assert.Equal(t, "psa 10 cert", gotQ)
}

// TestGet_ExplicitUserAgentWins verifies caller headers take precedence
func TestGet_ExplicitUserAgentWins(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := newTestClient(t, nil)
	_, err := c.Get(context.Background(), Request{
		URL:    srv.URL,
		Header: map[string]string{"User-Agent": "custom/1.0"},
	})

	require.NoError(t, err)
	assert.Equal(t, "custom/1.0", gotUA)
}

// TestFetchText_StatusError verifies non-2xx pages become errors
func TestFetchText_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(t, nil)
	_, err := c.FetchText(context.Background(), srv.URL+"/page")

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
}

// TestFetchText_RespectsRobots verifies disallowed paths are not fetched
func TestFetchText_RespectsRobots(t *testing.T) {
	var pageHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		pageHits.Add(1)
		_, _ = w.Write([]byte("Cert #12345678"))
	}))
	defer srv.Close()

	c := newTestClient(t, func(o *Options) { o.RespectRobots = true })

	_, err := c.FetchText(context.Background(), srv.URL+"/private/page")
	assert.ErrorIs(t, err, ErrDisallowed)

	text, err := c.FetchText(context.Background(), srv.URL+"/public/page")
	require.NoError(t, err)
	assert.Equal(t, "Cert #12345678", text)
	assert.Equal(t, int32(1), pageHits.Load())
}

// TestNew_BadCABundle verifies the bundle path is validated
func TestNew_BadCABundle(t *testing.T) {
	_, err := New(Options{CABundle: t.TempDir() + "/missing.pem"})
	assert.Error(t, err)
}

// TestParseRetryAfter verifies both header forms
func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 7*time.Second, ParseRetryAfter("7", now))
	assert.Equal(t, 30*time.Second, ParseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, ParseRetryAfter("", now))
	assert.Zero(t, ParseRetryAfter("-3", now))
	assert.Zero(t, ParseRetryAfter("soon", now))
	assert.Zero(t, ParseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}

// TestPreview verifies truncation and flattening
func TestPreview(t *testing.T) {
	assert.Equal(t, "a b  c", Preview([]byte("a\nb\r\nc"), 200))
	assert.Equal(t, "abc", Preview([]byte("abcdef"), 3))
}
