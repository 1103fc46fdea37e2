package links

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// DomainSet is a case-insensitive set of allowed hosts. An empty set allows
// every host.
type DomainSet map[string]struct{}

// ParseDomains builds a DomainSet from a comma separated list. Blank entries
// are ignored, so an empty string yields an empty (allow-all) set.
func ParseDomains(csv string) DomainSet {
	set := DomainSet{}
	for _, d := range strings.Split(csv, ",") {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			set[d] = struct{}{}
		}
	}
	return set
}

// InDomains reports whether the URL's host equals, or is a subdomain of, an
// entry in allow.
func InDomains(rawURL string, allow DomainSet) bool {
	if len(allow) == 0 {
		return true
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}

	for d := range allow {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// MatchAllowDeny applies path patterns. A deny match always rejects; when an
// allow pattern is present the path must match it.
func MatchAllowDeny(rawURL string, allow, deny *regexp.Regexp) bool {
	path := ""
	if u, err := url.Parse(rawURL); err == nil {
		path = u.EscapedPath()
	}

	if deny != nil && deny.MatchString(path) {
		return false
	}
	if allow != nil {
		return allow.MatchString(path)
	}
	return true
}

// CompilePattern compiles a case-insensitive path pattern. An empty pattern
// yields nil, which MatchAllowDeny treats as absent.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re, nil
}

// Reason explains a filter decision.
type Reason int

const (
	Kept Reason = iota
	RejectedDomain
	RejectedPattern
)

func (r Reason) String() string {
	switch r {
	case Kept:
		return "kept"
	case RejectedDomain:
		return "domain"
	case RejectedPattern:
		return "pattern"
	default:
		return "unknown"
	}
}

// Filter combines the domain allow-set with the allow/deny path patterns.
// With IncludeAny set only the domain check applies.
type Filter struct {
	Domains    DomainSet
	Allow      *regexp.Regexp
	Deny       *regexp.Regexp
	IncludeAny bool
}

// NewFilter compiles the path patterns and parses the domain list.
func NewFilter(domains, allow, deny string, includeAny bool) (*Filter, error) {
	f := &Filter{
		Domains:    ParseDomains(domains),
		IncludeAny: includeAny,
	}
	if includeAny {
		return f, nil
	}

	var err error
	if f.Allow, err = CompilePattern(allow); err != nil {
		return nil, err
	}
	if f.Deny, err = CompilePattern(deny); err != nil {
		return nil, err
	}
	return f, nil
}

// Check decides whether a normalized URL should be kept.
func (f *Filter) Check(rawURL string) Reason {
	if !InDomains(rawURL, f.Domains) {
		return RejectedDomain
	}
	if !f.IncludeAny && !MatchAllowDeny(rawURL, f.Allow, f.Deny) {
		return RejectedPattern
	}
	return Kept
}
