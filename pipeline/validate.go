package pipeline

import (
	"context"

	"github.com/pevans/psahunter/certs"
	"github.com/pevans/psahunter/fetch"
	"github.com/pevans/psahunter/store"
	"go.uber.org/zap"
)

const previewLen = 200

// validateStage looks up ledger certificates missing from the store and
// saves the ones the API confirms. Known certs cost no API call; at most
// DailyCap calls are made when DailyCap is positive.
func (p *Pipeline) validateStage(ctx context.Context, logger *zap.Logger, sum *Summary) error {
	if p.deps.Lookup == nil {
		return ErrMissingCredential
	}
	if p.deps.Store == nil {
		return ErrNoStore
	}

	entries, err := p.deps.Certs.Read()
	if err != nil {
		return err
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.opts.DailyCap > 0 && sum.Calls >= p.opts.DailyCap {
			logger.Info("daily cap reached", zap.Int("cap", p.opts.DailyCap))
			break
		}

		has, err := p.deps.Store.Has(ctx, e.Number)
		if err != nil {
			return err
		}

		if has {
			logger.Info("skip (stored)", zap.String("cert", e.Number))
		} else if err := p.validateOne(ctx, logger, e.Number, e.Description, sum); err != nil {
			return err
		}

		if err := p.pause(ctx, p.opts.ValidateSleep, 0); err != nil {
			return err
		}
	}

	logger.Info("validation done",
		zap.Int("saved", sum.Saved),
		zap.Int("ignored", sum.Ignored),
		zap.Int("api_calls", sum.Calls))
	return nil
}

// validateOne spends one API call on cert. Transport failures are logged
// and skipped; only store failures and cancellation are returned.
func (p *Pipeline) validateOne(ctx context.Context, logger *zap.Logger, cert, description string, sum *Summary) error {
	res, err := p.deps.Lookup.Lookup(ctx, cert)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logger.Error("lookup failed", zap.String("cert", cert), zap.Error(err))
		return nil
	}
	sum.Calls++

	payload, ok := certs.DecodeObject(res.Body)
	if !ok {
		logger.Warn("API response is not a JSON object",
			zap.String("cert", cert),
			zap.Int("status", res.StatusCode),
			zap.String("preview", fetch.Preview(res.Body, previewLen)))
	}
	logger.Debug("lookup", zap.String("cert", cert), zap.Int("status", res.StatusCode), zap.Int("body_len", len(res.Body)))

	rec, valid := certs.Validate(payload)
	if !valid {
		sum.Ignored++
		logger.Info("IGN", zap.String("cert", cert))
		return nil
	}

	err = p.deps.Store.Upsert(ctx, store.Cert{
		Record:        rec,
		Description:   description,
		HTTPStatus:    res.StatusCode,
		ServerMessage: certs.ServerMessage(payload),
		PayloadJSON:   string(res.Body),
		UpdatedAt:     p.now(),
	})
	if err != nil {
		return err
	}

	sum.Saved++
	logger.Info("OK", zap.String("cert", cert))
	return nil
}
