package fetch

import (
	"context"
	"net/url"

	"github.com/temoto/robotstxt"
)

// robotsGate caches robots.txt per origin for the duration of a run.
type robotsGate struct {
	client *Client
	agent  string
	cache  map[string]*robotstxt.RobotsData
}

func newRobotsGate(client *Client, agent string) *robotsGate {
	return &robotsGate{
		client: client,
		agent:  agent,
		cache:  make(map[string]*robotstxt.RobotsData),
	}
}

// allowed reports whether the agent may fetch rawURL. Any failure to obtain
// or parse robots.txt allows the fetch.
func (g *robotsGate) allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}

	origin := u.Scheme + "://" + u.Host
	data, ok := g.cache[origin]
	if !ok {
		data = g.load(ctx, origin)
		g.cache[origin] = data
	}
	if data == nil {
		return true
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return data.TestAgent(path, g.agent)
}

func (g *robotsGate) load(ctx context.Context, origin string) *robotstxt.RobotsData {
	res, err := g.client.Get(ctx, Request{URL: origin + "/robots.txt"})
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(res.StatusCode, res.Body)
	if err != nil {
		return nil
	}
	return data
}
