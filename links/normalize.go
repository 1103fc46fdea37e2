package links

import (
	"html"
	"net/url"
	"strings"
)

// DefaultBase is used to resolve root-relative hrefs when the caller has no
// better base (search engine result pages link to their own redirectors).
const DefaultBase = "https://duckduckgo.com"

// trackingParams are query keys removed during normalization. Every key with
// the "utm_" prefix is removed as well.
var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"dclid":   {},
	"msclkid": {},
	"yclid":   {},
	"mc_cid":  {},
	"mc_eid":  {},
	"mkt":     {},
}

// redirector describes a search engine link wrapper whose real destination
// lives in a query parameter.
type redirector struct {
	markers []string // substrings (or prefixes, see relative) identifying the wrapper
	params  []string // query keys holding the destination, in priority order
}

var redirectors = []redirector{
	{markers: []string{"duckduckgo.com/l/?", "/l/?"}, params: []string{"uddg"}},
	{markers: []string{"google.com/url?", "/url?"}, params: []string{"q", "url"}},
}

// IsTrackingParam reports whether a query key is stripped by Normalize.
func IsTrackingParam(key string) bool {
	key = strings.ToLower(key)
	if strings.HasPrefix(key, "utm_") {
		return true
	}
	_, ok := trackingParams[key]
	return ok
}

// Normalize canonicalizes a raw URL: it unescapes HTML entities, unwraps
// search engine redirect links, resolves root-relative paths against base,
// drops the fragment and tracking parameters, and collapses the query to the
// first value per key in order of first appearance. It never fails; input
// that cannot be parsed is returned unescaped and without its fragment.
func Normalize(raw, base string) string {
	u := html.UnescapeString(strings.TrimSpace(raw))
	u = unwrapRedirect(u)

	if strings.HasPrefix(u, "/") {
		u = resolve(u, base)
	}

	parsed, err := url.Parse(u)
	if err != nil {
		before, _, _ := strings.Cut(u, "#")
		return before
	}

	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.RawQuery = cleanQuery(parsed.RawQuery)
	parsed.ForceQuery = false

	return parsed.String()
}

// unwrapRedirect returns the destination of a known redirect wrapper, or u
// unchanged.
func unwrapRedirect(u string) string {
	for _, r := range redirectors {
		if !matchesRedirector(u, r) {
			continue
		}

		_, rawQuery, ok := strings.Cut(u, "?")
		if !ok {
			return u
		}

		// ParseQuery keeps every pair it could decode even when it reports
		// an error for another one.
		values, _ := url.ParseQuery(rawQuery)
		for _, key := range r.params {
			if dest := values.Get(key); dest != "" {
				return dest
			}
		}
		return u
	}
	return u
}

func matchesRedirector(u string, r redirector) bool {
	for _, marker := range r.markers {
		if strings.HasPrefix(marker, "/") {
			if strings.HasPrefix(u, marker) {
				return true
			}
			continue
		}
		if strings.Contains(u, marker) {
			return true
		}
	}
	return false
}

func resolve(ref, base string) string {
	if base == "" {
		base = DefaultBase
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

// cleanQuery drops blank and tracking parameters and keeps the first value of
// every remaining key, preserving the order keys first appeared in.
func cleanQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	seen := make(map[string]struct{})
	var out []string

	for _, pair := range strings.Split(rawQuery, "&") {
		rawKey, rawValue, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}

		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			continue
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil || value == "" {
			continue
		}

		if IsTrackingParam(key) {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		out = append(out, url.QueryEscape(key)+"="+url.QueryEscape(value))
	}

	return strings.Join(out, "&")
}
