package search

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/pevans/psahunter/fetch"
	"github.com/pevans/psahunter/links"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const previewLen = 200

// SearxBackend queries a SearXNG instance's JSON API.
type SearxBackend struct {
	client   Getter
	baseURL  string
	language string
	perPage  int
	logger   *zap.Logger
}

// NewSearxBackend creates a SearXNG backend. An empty baseURL makes every
// search return no results.
func NewSearxBackend(client Getter, baseURL, language string, perPage int, logger *zap.Logger) *SearxBackend {
	if language == "" {
		language = "de-DE"
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearxBackend{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		language: language,
		perPage:  perPage,
		logger:   logger,
	}
}

func (b *SearxBackend) Name() string { return "searx" }

// Search requests one result page. SearXNG pages are one-based.
// Responses that are not a JSON object are logged and yield no results.
func (b *SearxBackend) Search(ctx context.Context, query string, page int) ([]string, error) {
	if b.baseURL == "" {
		return nil, nil
	}

	res, err := b.client.Get(ctx, fetch.Request{
		URL: b.baseURL + "/search",
		Query: url.Values{
			"q":          {query},
			"format":     {"json"},
			"pageno":     {strconv.Itoa(page + 1)},
			"language":   {b.language},
			"safesearch": {"1"},
		},
		Header: map[string]string{
			"Accept":        "application/json",
			"Cache-Control": "no-cache",
		},
	})
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}

	var data map[string]any
	if err := json.Unmarshal(res.Body, &data); err != nil || data == nil {
		b.logger.Warn("searx response is not a JSON object",
			zap.Int("status", res.StatusCode),
			zap.String("preview", fetch.Preview(res.Body, previewLen)))
		return nil, nil
	}

	results, ok := resultList(data)
	if !ok {
		b.logger.Warn("searx results is not a list")
		return nil, nil
	}

	var out []string
	for _, item := range results {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if u := firstString(obj, "url", "link"); u != "" {
			out = append(out, links.Normalize(u, links.DefaultBase))
		}
	}

	out = lo.Uniq(out)
	if len(out) > b.perPage {
		out = out[:b.perPage]
	}
	return out, nil
}

// resultList finds the result container. "results" wins when present even
// if empty; otherwise "result" or "items" are used.
func resultList(data map[string]any) ([]any, bool) {
	raw, ok := data["results"]
	if !ok || raw == nil {
		raw = nil
		for _, key := range []string{"result", "items"} {
			if v, ok := data[key]; ok && truthy(v) {
				raw = v
				break
			}
		}
	}
	if raw == nil {
		return nil, true
	}

	list, ok := raw.([]any)
	return list, ok
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	default:
		return true
	}
}
