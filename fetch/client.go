package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
)

// ErrDisallowed is returned by FetchText when robots.txt forbids the path.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// UserAgents is the fixed pool request user agents are drawn from.
var UserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16 Safari/605.1.15",
}

// Options configures the HTTP client.
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// Retries is the number of extra attempts after the first one.
	Retries      int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
	// CABundle is a PEM file of additional trusted roots.
	CABundle string
	// UserAgents overrides the default pool when non-empty.
	UserAgents []string
	// CloudflareBypass wraps the transport with browser-like TLS and headers.
	CloudflareBypass bool
	// RespectRobots makes FetchText consult robots.txt first.
	RespectRobots bool
	RobotsAgent   string
}

// DefaultOptions returns the defaults used by the CLI.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    25 * time.Second,
		Retries:        3,
		RetryWait:      800 * time.Millisecond,
		RetryMaxWait:   10 * time.Second,
		RobotsAgent:    "psahunter",
	}
}

// Client performs GET requests with a bounded retry policy: exponential
// backoff with jitter, retried only for GET on transport errors and on
// 429/500/502/503/504, honoring Retry-After.
type Client struct {
	http   *resty.Client
	agents []string
	robots *robotsGate
}

// Request describes a single GET.
type Request struct {
	URL    string
	Query  url.Values
	Header map[string]string
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	URL        string
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d %s (%s)", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// Err returns a *StatusError unless the status is 2xx.
func (r *Response) Err() error {
	if r.StatusCode < 200 || r.StatusCode > 299 {
		return &StatusError{URL: r.URL, StatusCode: r.StatusCode}
	}
	return nil
}

var retryStatuses = map[int]struct{}{
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// New creates a client from opts.
func New(opts Options) (*Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		IdleConnTimeout:       90 * time.Second,
	}

	if opts.CABundle != "" {
		pool, err := loadCABundle(opts.CABundle)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}

	client := resty.New()
	if opts.CloudflareBypass {
		client.SetTransport(cloudflarebp.AddCloudFlareByPass(transport))
	} else {
		client.SetTransport(transport)
	}
	if total := opts.ConnectTimeout + opts.ReadTimeout; total > 0 {
		client.SetTimeout(total)
	}

	client.SetRetryCount(max(opts.Retries, 0))
	client.SetRetryWaitTime(opts.RetryWait)
	client.SetRetryMaxWaitTime(opts.RetryMaxWait)
	client.AddRetryCondition(shouldRetry)
	client.SetRetryAfter(retryAfter)

	agents := opts.UserAgents
	if len(agents) == 0 {
		agents = UserAgents
	}

	c := &Client{http: client, agents: agents}
	if opts.RespectRobots {
		agent := opts.RobotsAgent
		if agent == "" {
			agent = "psahunter"
		}
		c.robots = newRobotsGate(c, agent)
	}
	return c, nil
}

func loadCABundle(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA bundle: %w", err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in CA bundle %s", path)
	}
	return pool, nil
}

func shouldRetry(resp *resty.Response, err error) bool {
	if resp != nil && resp.Request != nil && resp.Request.Method != http.MethodGet {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	if resp == nil {
		return false
	}
	_, ok := retryStatuses[resp.StatusCode()]
	return ok
}

func retryAfter(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
	if resp == nil {
		return 0, nil
	}
	return ParseRetryAfter(resp.Header().Get("Retry-After"), time.Now()), nil
}

// ParseRetryAfter interprets a Retry-After header given either as seconds or
// as an HTTP date. Zero means "no hint".
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	var seconds int
	if _, err := fmt.Sscanf(value, "%d", &seconds); err == nil && fmt.Sprint(seconds) == value {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// UserAgent returns a random entry of the pool.
func (c *Client) UserAgent() string {
	return c.agents[rand.Intn(len(c.agents))]
}

// Get performs a GET and reads the whole body. Non-2xx statuses are not
// errors; callers decide via Response.Err.
func (c *Client) Get(ctx context.Context, req Request) (*Response, error) {
	r := c.http.R().SetContext(ctx)
	if len(req.Query) > 0 {
		r.SetQueryParamsFromValues(req.Query)
	}

	if _, ok := req.Header["User-Agent"]; !ok {
		r.SetHeader("User-Agent", c.UserAgent())
	}
	r.SetHeaders(req.Header)

	res, err := r.Get(req.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", req.URL, err)
	}

	return &Response{
		StatusCode: res.StatusCode(),
		Body:       res.Body(),
		Header:     res.Header(),
		URL:        req.URL,
	}, nil
}

// FetchText fetches a page for scanning and returns its body as text.
func (c *Client) FetchText(ctx context.Context, rawURL string) (string, error) {
	if c.robots != nil && !c.robots.allowed(ctx, rawURL) {
		return "", fmt.Errorf("%s: %w", rawURL, ErrDisallowed)
	}

	res, err := c.Get(ctx, Request{URL: rawURL})
	if err != nil {
		return "", err
	}
	if err := res.Err(); err != nil {
		return "", err
	}
	return string(res.Body), nil
}

// Preview flattens newlines and truncates a body for log messages.
func Preview(body []byte, limit int) string {
	s := string(body)
	if len(s) > limit {
		s = s[:limit]
	}
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.ReplaceAll(s, "\n", " ")
}
