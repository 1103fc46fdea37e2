package pipeline

import (
	"context"
	"time"

	"github.com/pevans/psahunter/ledger"
	"github.com/pevans/psahunter/links"
	"go.uber.org/zap"
)

const (
	searchJitter = 300 * time.Millisecond
	scanJitter   = 200 * time.Millisecond
)

// pageStats counts filter outcomes for one result page.
type pageStats struct {
	raw, kept, domFail, patFail int
}

// searchStage runs every query (and feed) and buffers new matching URLs.
// The buffer is written to the URL ledger when the stage ends.
func (p *Pipeline) searchStage(ctx context.Context, logger *zap.Logger, acc *Accumulator, sum *Summary) error {
	queries, err := ledger.ReadLines(p.opts.QueriesPath)
	if err != nil {
		return err
	}
	existing, err := p.deps.URLs.Read()
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(existing))
	for _, u := range existing {
		seen[u] = struct{}{}
	}

	before := sum.URLsAdded
	if len(queries) == 0 {
		logger.Warn("no queries found", zap.String("path", p.opts.QueriesPath))
	}

	for i, q := range queries {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Info("search",
			zap.Int("query", i+1),
			zap.Int("of", len(queries)),
			zap.String("q", q))

		got := 0
		for page := 0; page < p.opts.MaxPages && got < p.opts.PerQuery; page++ {
			results, err := p.deps.Search.Search(ctx, q, page)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				logger.Warn("search failed, skipping query", zap.String("q", q), zap.Int("page", page), zap.Error(err))
				break
			}
			if len(results) == 0 {
				logger.Warn("no results on page", zap.String("q", q), zap.Int("page", page))
				break
			}

			stats := p.collect(logger, results, p.opts.PerQuery-got, seen, acc)
			got += stats.kept
			sum.URLsAdded += stats.kept
			logger.Info("page stats",
				zap.Int("raw", stats.raw),
				zap.Int("kept", stats.kept),
				zap.Int("dom_fail", stats.domFail),
				zap.Int("pat_fail", stats.patFail))

			if err := p.pause(ctx, p.opts.SearchSleep, searchJitter); err != nil {
				return err
			}
		}
	}

	if err := p.feedSources(ctx, logger, seen, acc, sum); err != nil {
		return err
	}

	n, err := acc.FlushURLs(p.deps.URLs)
	if err != nil {
		return err
	}
	logger.Info("urls collected",
		zap.Int("new", sum.URLsAdded-before),
		zap.Int("written", n),
		zap.String("path", p.deps.URLs.Path()))
	return nil
}

// feedSources treats every line of the feeds file as one more source.
func (p *Pipeline) feedSources(ctx context.Context, logger *zap.Logger, seen map[string]struct{}, acc *Accumulator, sum *Summary) error {
	if p.deps.Feeds == nil || p.opts.FeedsPath == "" {
		return nil
	}

	feeds, err := ledger.ReadLines(p.opts.FeedsPath)
	if err != nil {
		return err
	}

	for i, feedURL := range feeds {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Info("feed", zap.Int("feed", i+1), zap.Int("of", len(feeds)), zap.String("url", feedURL))

		items, err := p.deps.Feeds.Links(ctx, feedURL)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			logger.Warn("feed failed", zap.String("url", feedURL), zap.Error(err))
		} else {
			stats := p.collect(logger, items, p.opts.PerQuery, seen, acc)
			sum.URLsAdded += stats.kept
			logger.Info("feed stats",
				zap.Int("raw", stats.raw),
				zap.Int("kept", stats.kept),
				zap.Int("dom_fail", stats.domFail),
				zap.Int("pat_fail", stats.patFail))
		}

		if err := p.pause(ctx, p.opts.SearchSleep, searchJitter); err != nil {
			return err
		}
	}
	return nil
}

// collect normalizes and filters raw URLs, buffering at most limit unseen
// ones.
func (p *Pipeline) collect(logger *zap.Logger, raw []string, limit int, seen map[string]struct{}, acc *Accumulator) pageStats {
	stats := pageStats{raw: len(raw)}

	for _, r := range raw {
		if stats.kept >= limit {
			break
		}

		u := links.Normalize(r, links.DefaultBase)
		switch p.opts.Filter.Check(u) {
		case links.RejectedDomain:
			stats.domFail++
			continue
		case links.RejectedPattern:
			stats.patFail++
			continue
		}

		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		acc.AddURL(u)
		stats.kept++
		logger.Info("+ url", zap.String("url", u))
	}

	return stats
}
