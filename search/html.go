package search

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/psahunter/fetch"
	"github.com/pevans/psahunter/links"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// DefaultMirrors are the DuckDuckGo HTML endpoints, most stable first.
var DefaultMirrors = []string{
	"https://html.duckduckgo.com/html/",
	"https://duckduckgo.com/html/",
	"https://lite.duckduckgo.com/lite/",
}

const (
	resultSelector   = "a.result__a, a.result__url"
	fallbackSelector = "a[href]"
)

// HTMLBackend scrapes DuckDuckGo's HTML result pages.
type HTMLBackend struct {
	client  Getter
	mirrors []string
	perPage int
	logger  *zap.Logger
}

// NewHTMLBackend creates an HTML backend. Empty mirrors fall back to
// DefaultMirrors.
func NewHTMLBackend(client Getter, mirrors []string, perPage int, logger *zap.Logger) *HTMLBackend {
	if len(mirrors) == 0 {
		mirrors = DefaultMirrors
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTMLBackend{client: client, mirrors: mirrors, perPage: perPage, logger: logger}
}

func (b *HTMLBackend) Name() string { return "ddg" }

// Search tries each mirror in order until one yields at least one link. If
// no mirror yields links and at least one failed, the last failure is
// returned.
func (b *HTMLBackend) Search(ctx context.Context, query string, page int) ([]string, error) {
	params := url.Values{
		"q": {query},
		"s": {strconv.Itoa(page * b.perPage)},
	}
	headers := map[string]string{
		"Accept-Language": "de,en;q=0.9",
		"Referer":         "https://duckduckgo.com/",
		"Cache-Control":   "no-cache",
	}

	var lastErr error
	for _, mirror := range b.mirrors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := b.client.Get(ctx, fetch.Request{URL: mirror, Query: params, Header: headers})
		if err == nil {
			err = res.Err()
		}
		if err != nil {
			b.logger.Debug("mirror failed", zap.String("mirror", mirror), zap.Error(err))
			lastErr = err
			continue
		}

		found, err := ExtractLinks(res.Body, mirror, b.perPage)
		if err != nil {
			lastErr = err
			continue
		}
		if len(found) > 0 {
			return found, nil
		}
	}

	return nil, lastErr
}

// ExtractLinks parses a result page and returns normalized, deduplicated
// hrefs in document order, at most limit of them. Result anchors are
// preferred; any anchor with an href is used when none are present.
func ExtractLinks(body []byte, base string, limit int) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	anchors := doc.Find(resultSelector)
	if anchors.Length() == 0 {
		anchors = doc.Find(fallbackSelector)
	}

	var out []string
	anchors.Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		out = append(out, links.Normalize(href, base))
	})

	out = lo.Uniq(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
