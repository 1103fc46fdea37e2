package search

import (
	"bytes"
	"context"
	"fmt"

	"github.com/mmcdole/gofeed"
	"github.com/pevans/psahunter/fetch"
	"github.com/pevans/psahunter/links"
	"github.com/samber/lo"
)

// FeedReader pulls item links out of RSS or Atom feeds. gofeed detects the
// format, so both are handled the same way.
type FeedReader struct {
	client Getter
}

// NewFeedReader creates a reader that fetches through client.
func NewFeedReader(client Getter) *FeedReader {
	return &FeedReader{client: client}
}

// Links fetches feedURL and returns the normalized item links in feed order.
func (r *FeedReader) Links(ctx context.Context, feedURL string) ([]string, error) {
	res, err := r.client.Get(ctx, fetch.Request{URL: feedURL})
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	return FeedLinks(feed, feedURL), nil
}

// FeedLinks converts feed items to normalized links. Relative item links
// resolve against the feed URL.
func FeedLinks(feed *gofeed.Feed, feedURL string) []string {
	out := make([]string, 0, len(feed.Items))
	for _, item := range feed.Items {
		// Atom alternates end up in Links when Link is empty
		link := item.Link
		if link == "" && len(item.Links) > 0 {
			link = item.Links[0]
		}
		if link == "" {
			continue
		}
		out = append(out, links.Normalize(link, feedURL))
	}
	return lo.Uniq(out)
}
