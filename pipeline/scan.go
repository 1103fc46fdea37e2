package pipeline

import (
	"context"

	"github.com/pevans/psahunter/certs"
	"github.com/pevans/psahunter/ledger"
	"go.uber.org/zap"
)

// scanStage fetches every ledger URL and buffers certificate numbers not
// seen before, each described by the page it was found on. The buffer is
// written to the certificate ledger, sorted, when the stage ends.
func (p *Pipeline) scanStage(ctx context.Context, logger *zap.Logger, acc *Accumulator, sum *Summary) error {
	urls, err := p.deps.URLs.Read()
	if err != nil {
		return err
	}
	existing, err := p.deps.Certs.Read()
	if err != nil {
		return err
	}

	known := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		known[e.Number] = struct{}{}
	}

	before := sum.CertsAdded
	for i, u := range urls {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Info("scan", zap.Int("url", i+1), zap.Int("of", len(urls)), zap.String("target", u))

		text, err := p.deps.Pages.FetchText(ctx, u)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			logger.Warn("scan failed", zap.String("target", u), zap.Error(err))
		} else {
			added := 0
			for _, n := range certs.Extract(text, p.opts.ScanLimitPerURL) {
				if _, ok := known[n]; ok {
					continue
				}
				known[n] = struct{}{}
				acc.AddCert(ledger.CertEntry{Number: n, Description: u})
				added++
			}
			sum.CertsAdded += added
			if added > 0 {
				logger.Info("+ certs", zap.Int("new", added))
			}
		}

		if err := p.pause(ctx, p.opts.ScanSleep, scanJitter); err != nil {
			return err
		}
	}

	n, err := acc.FlushCerts(p.deps.Certs)
	if err != nil {
		return err
	}
	logger.Info("certs collected",
		zap.Int("new", sum.CertsAdded-before),
		zap.Int("written", n),
		zap.String("path", p.deps.Certs.Path()))
	return nil
}
