package certs

import (
	"context"
	"net/url"
	"strings"

	"github.com/pevans/psahunter/fetch"
)

// DefaultBaseURL is the PSA public API root.
const DefaultBaseURL = "https://api.psacard.com/publicapi"

// Getter is the slice of fetch.Client the API client needs.
type Getter interface {
	Get(ctx context.Context, req fetch.Request) (*fetch.Response, error)
}

// LookupResult is the raw answer for one certificate lookup.
type LookupResult struct {
	StatusCode int
	Body       []byte
}

// APIClient looks certificates up by number.
type APIClient struct {
	client  Getter
	baseURL string
	token   string
}

// NewAPIClient creates a client for the API rooted at baseURL.
func NewAPIClient(client Getter, baseURL, token string) *APIClient {
	return &APIClient{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// Lookup fetches GetByCertNumber for cert. Any HTTP status is a result; only
// transport failures are errors.
func (c *APIClient) Lookup(ctx context.Context, cert string) (*LookupResult, error) {
	res, err := c.client.Get(ctx, fetch.Request{
		URL: c.baseURL + "/cert/GetByCertNumber/" + url.PathEscape(cert),
		Header: map[string]string{
			"Authorization": "bearer " + c.token,
			"Content-Type":  "application/json",
		},
	})
	if err != nil {
		return nil, err
	}
	return &LookupResult{StatusCode: res.StatusCode, Body: res.Body}, nil
}
