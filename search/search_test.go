package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/pevans/psahunter/fetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *fetch.Client {
	t.Helper()

	opts := fetch.DefaultOptions()
	opts.Retries = 0
	opts.RetryWait = time.Millisecond
	c, err := fetch.New(opts)
	require.NoError(t, err)
	return c
}

const resultsPage = `<html><body>
<div class="result"><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fwww.psacard.com%2Fcert%2F12345678&rut=x">PSA</a></div>
<div class="result"><a class="result__url" href="https://www.ebay.com/itm/1?utm_source=ddg">eBay</a></div>
<div class="result"><a class="result__a" href="https://www.ebay.com/itm/1">eBay again</a></div>
<a href="https://duckduckgo.com/settings">settings</a>
</body></html>`

// TestExtractLinks_ResultSelector verifies result anchors are preferred
func TestExtractLinks_ResultSelector(t *testing.T) {
	got, err := ExtractLinks([]byte(resultsPage), "https://html.duckduckgo.com/html/", 30)

	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://www.psacard.com/cert/12345678",
		"https://www.ebay.com/itm/1",
	}, got)
}

// TestExtractLinks_FallbackSelector verifies any href is used without result
// anchors
func TestExtractLinks_FallbackSelector(t *testing.T) {
	page := `<html><body><a href="/a">a</a><a>none</a><a href="https://x.example/b#c">b</a></body></html>`

	got, err := ExtractLinks([]byte(page), "https://lite.duckduckgo.com/lite/", 30)

	require.NoError(t, err)
	assert.Equal(t, []string{"https://lite.duckduckgo.com/a", "https://x.example/b"}, got)
}

// TestExtractLinks_Limit verifies the page size cap
func TestExtractLinks_Limit(t *testing.T) {
	var b strings.Builder
	for _, p := range []string{"a", "b", "c", "d"} {
		b.WriteString(`<a class="result__a" href="https://x.example/` + p + `">x</a>`)
	}

	got, err := ExtractLinks([]byte(b.String()), "", 2)

	require.NoError(t, err)
	assert.Equal(t, []string{"https://x.example/a", "https://x.example/b"}, got)
}

// TestHTMLBackend_MirrorFallback verifies a failing mirror is skipped
func TestHTMLBackend_MirrorFallback(t *testing.T) {
	var gotQuery, gotOffset string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken/" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		gotQuery = r.URL.Query().Get("q")
		gotOffset = r.URL.Query().Get("s")
		_, _ = w.Write([]byte(resultsPage))
	}))
	defer srv.Close()

	b := NewHTMLBackend(newTestClient(t), []string{srv.URL + "/broken/", srv.URL + "/html/"}, 30, nil)
	got, err := b.Search(context.Background(), "psa 10", 2)

	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "psa 10", gotQuery)
	assert.Equal(t, "60", gotOffset)
}

// TestHTMLBackend_AllMirrorsFail verifies the last error is returned
func TestHTMLBackend_AllMirrorsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	b := NewHTMLBackend(newTestClient(t), []string{srv.URL + "/a/", srv.URL + "/b/"}, 30, nil)
	_, err := b.Search(context.Background(), "q", 0)

	var statusErr *fetch.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
}

// TestHTMLBackend_EmptyPages verifies empty pages are not an error
func TestHTMLBackend_EmptyPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>No results.</body></html>"))
	}))
	defer srv.Close()

	b := NewHTMLBackend(newTestClient(t), []string{srv.URL + "/html/"}, 30, nil)
	got, err := b.Search(context.Background(), "q", 0)

	require.NoError(t, err)
	assert.Empty(t, got)
}

// TestSearxBackend_Results verifies result parsing and one-based paging
func TestSearxBackend_Results(t *testing.T) {
	var gotPage, gotFormat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		gotPage = r.URL.Query().Get("pageno")
		gotFormat = r.URL.Query().Get("format")
		_, _ = w.Write([]byte(`{"results":[
			{"url":"https://www.psacard.com/cert/1234567?utm_source=searx"},
			{"link":"https://goldin.co/item/1"},
			{"title":"no url"},
			"junk",
			{"url":"https://www.psacard.com/cert/1234567"}
		]}`))
	}))
	defer srv.Close()

	b := NewSearxBackend(newTestClient(t), srv.URL+"/", "", 30, nil)
	got, err := b.Search(context.Background(), "psa", 0)

	require.NoError(t, err)
	assert.Equal(t, "1", gotPage)
	assert.Equal(t, "json", gotFormat)
	assert.Equal(t, []string{"https://www.psacard.com/cert/1234567", "https://goldin.co/item/1"}, got)
}

// TestSearxBackend_AlternateContainers verifies result/items fallbacks
func TestSearxBackend_AlternateContainers(t *testing.T) {
	for _, body := range []string{
		`{"result":[{"url":"https://a.example/x"}]}`,
		`{"items":[{"link":"https://a.example/x"}]}`,
		`{"results":null,"items":[{"url":"https://a.example/x"}]}`,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))

		b := NewSearxBackend(newTestClient(t), srv.URL, "en-US", 30, nil)
		got, err := b.Search(context.Background(), "q", 1)
		srv.Close()

		require.NoError(t, err, "body: %s", body)
		assert.Equal(t, []string{"https://a.example/x"}, got, "body: %s", body)
	}
}

// TestSearxBackend_NonObjectBody verifies malformed bodies degrade to empty
func TestSearxBackend_NonObjectBody(t *testing.T) {
	for _, body := range []string{
		`<html>rate limited</html>`,
		`[{"url":"https://a.example/x"}]`,
		`null`,
		`{"results":"nope"}`,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))

		b := NewSearxBackend(newTestClient(t), srv.URL, "", 30, nil)
		got, err := b.Search(context.Background(), "q", 0)
		srv.Close()

		assert.NoError(t, err, "body: %s", body)
		assert.Empty(t, got, "body: %s", body)
	}
}

// TestSearxBackend_NoBaseURL verifies an unconfigured backend is inert
func TestSearxBackend_NoBaseURL(t *testing.T) {
	b := NewSearxBackend(newTestClient(t), "", "", 30, nil)
	got, err := b.Search(context.Background(), "q", 0)

	assert.NoError(t, err)
	assert.Empty(t, got)
}

// TestSearxBackend_StatusError verifies HTTP failures are errors
func TestSearxBackend_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	b := NewSearxBackend(newTestClient(t), srv.URL, "", 30, nil)
	_, err := b.Search(context.Background(), "q", 0)

	assert.Error(t, err)
}

type stubBackend struct {
	name  string
	urls  []string
	err   error
	calls int
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Search(_ context.Context, _ string, _ int) ([]string, error) {
	s.calls++
	return s.urls, s.err
}

// TestChain_FallsBackOnError verifies the next backend runs after a failure
func TestChain_FallsBackOnError(t *testing.T) {
	first := &stubBackend{name: "ddg", err: errors.New("connection reset")}
	second := &stubBackend{name: "searx", urls: []string{"https://a.example/"}}

	got, err := NewChain(nil, first, second).Search(context.Background(), "q", 0)

	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example/"}, got)
	assert.Equal(t, 1, second.calls)
}

// TestChain_EmptyResultStops verifies empty-but-valid results do not fall
// back
func TestChain_EmptyResultStops(t *testing.T) {
	first := &stubBackend{name: "ddg"}
	second := &stubBackend{name: "searx", urls: []string{"https://a.example/"}}

	got, err := NewChain(nil, first, second).Search(context.Background(), "q", 0)

	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, second.calls)
}

// TestChain_AllFail verifies the last error is returned
func TestChain_AllFail(t *testing.T) {
	last := errors.New("searx down")
	c := NewChain(nil,
		&stubBackend{name: "ddg", err: errors.New("ddg down")},
		&stubBackend{name: "searx", err: last})

	_, err := c.Search(context.Background(), "q", 0)

	assert.ErrorIs(t, err, last)
	assert.Equal(t, "ddg->searx", c.Name())
}

// TestChain_Empty verifies a chain needs backends
func TestChain_Empty(t *testing.T) {
	_, err := NewChain(nil).Search(context.Background(), "q", 0)
	assert.ErrorIs(t, err, ErrNoBackends)
}

// TestParseEngine verifies engine names
func TestParseEngine(t *testing.T) {
	for in, want := range map[string]Engine{"ddg": EngineDDG, "SEARX": EngineSearx, " auto ": EngineAuto, "": EngineAuto} {
		got, err := ParseEngine(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseEngine("bing")
	assert.Error(t, err)
}

// TestNew_EngineSelection verifies the chain built per engine
func TestNew_EngineSelection(t *testing.T) {
	client := newTestClient(t)

	assert.Equal(t, "ddg", New(client, Options{Engine: EngineDDG}, nil).Name())
	assert.Equal(t, "searx", New(client, Options{Engine: EngineSearx}, nil).Name())
	assert.Equal(t, "ddg->searx", New(client, Options{Engine: EngineAuto}, nil).Name())
}

const rssFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Cards</title>
<item><title>One</title><link>https://blog.example/psa-10?utm_source=rss</link></item>
<item><title>Two</title><link>/posts/2</link></item>
<item><title>Dup</title><link>https://blog.example/psa-10</link></item>
</channel></rss>`

// TestFeedReader_Links verifies feed item links are normalized
func TestFeedReader_Links(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssFeed))
	}))
	defer srv.Close()

	got, err := NewFeedReader(newTestClient(t)).Links(context.Background(), srv.URL+"/feed.xml")

	require.NoError(t, err)
	assert.Equal(t, []string{"https://blog.example/psa-10", srv.URL + "/posts/2"}, got)
}

// TestFeedReader_NotAFeed verifies parse failures are errors
func TestFeedReader_NotAFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain text"))
	}))
	defer srv.Close()

	_, err := NewFeedReader(newTestClient(t)).Links(context.Background(), srv.URL)
	assert.Error(t, err)
}

// TestFeedLinks_AtomAlternate verifies the Links fallback
func TestFeedLinks_AtomAlternate(t *testing.T) {
	feed := &gofeed.Feed{Items: []*gofeed.Item{
		{Links: []string{"https://a.example/entry"}},
		{Title: "no link"},
	}}

	assert.Equal(t, []string{"https://a.example/entry"}, FeedLinks(feed, ""))
}
