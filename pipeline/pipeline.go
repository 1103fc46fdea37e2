package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/pevans/psahunter/certs"
	"github.com/pevans/psahunter/ledger"
	"github.com/pevans/psahunter/links"
	"github.com/pevans/psahunter/store"
	"go.uber.org/zap"
)

// Custom errors for pipeline runs
var (
	ErrMissingCredential = errors.New("PSA API credential missing (set PSA_TOKEN and PSA_BASE_URL)")
	ErrNoStore           = errors.New("validation requires a certificate store")
)

// Searcher returns raw result URLs for one page of a query.
type Searcher interface {
	Search(ctx context.Context, query string, page int) ([]string, error)
}

// FeedSource returns the item links of a feed.
type FeedSource interface {
	Links(ctx context.Context, feedURL string) ([]string, error)
}

// PageFetcher returns the text of a page.
type PageFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// CertLookup asks the validation API about one certificate.
type CertLookup interface {
	Lookup(ctx context.Context, cert string) (*certs.LookupResult, error)
}

// CertStore is the persistence the validation stage needs.
type CertStore interface {
	Has(ctx context.Context, cert string) (bool, error)
	Upsert(ctx context.Context, c store.Cert) error
}

// RunRecorder is implemented by stores that keep run history.
type RunRecorder interface {
	RecordRun(ctx context.Context, r store.Run) error
}

// Options are the tunables of a run.
type Options struct {
	QueriesPath string
	FeedsPath   string

	PerQuery    int
	MaxPages    int
	SearchSleep time.Duration

	ScanLimitPerURL int
	ScanSleep       time.Duration

	Validate      bool
	DailyCap      int
	ValidateSleep time.Duration

	Filter *links.Filter
}

// Deps are the collaborators of a run. Feeds, Lookup and Store may be nil:
// without Feeds no feed sources are read, and validation fails without
// Lookup or Store.
type Deps struct {
	URLs   *ledger.URLs
	Certs  *ledger.Certs
	Search Searcher
	Feeds  FeedSource
	Pages  PageFetcher
	Lookup CertLookup
	Store  CertStore
}

// Summary reports what a run did. Counters are kept up to date while the
// run progresses, so an interrupted run reports partial counts.
type Summary struct {
	RunID      uuid.UUID
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time

	URLsAdded  int
	CertsAdded int

	Saved   int
	Ignored int
	Calls   int
}

// Pipeline runs search, scan and validation in sequence.
type Pipeline struct {
	opts   Options
	deps   Deps
	logger *zap.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(limit time.Duration) time.Duration
	now    func() time.Time
}

// New creates a pipeline. A nil logger discards output.
func New(opts Options, deps Deps, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Filter == nil {
		opts.Filter = &links.Filter{IncludeAny: true}
	}
	return &Pipeline{
		opts:   opts,
		deps:   deps,
		logger: logger,
		sleep:  sleepContext,
		jitter: randomJitter,
		now:    time.Now,
	}
}

// Run executes the stages. Whatever was collected is written to the
// ledgers before Run returns, however the run ends: normally, by
// cancellation of ctx, by an error or by a panic.
func (p *Pipeline) Run(ctx context.Context) (sum Summary, err error) {
	sum.RunID = uuid.New()
	sum.StartedAt = p.now()
	logger := p.logger.With(zap.String("run_id", sum.RunID.String()))
	acc := &Accumulator{}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("run panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("run panicked: %v", r)
		}

		pendingURLs, pendingCerts := acc.Pending()
		if pendingURLs > 0 || pendingCerts > 0 {
			logger.Warn("flushing collected results",
				zap.Int("urls", pendingURLs),
				zap.Int("certs", pendingCerts))
		}
		if _, _, ferr := acc.Flush(p.deps.URLs, p.deps.Certs); ferr != nil {
			logger.Error("failed to flush collected results", zap.Error(ferr))
			if err == nil {
				err = ferr
			}
		}

		sum.FinishedAt = p.now()
		sum.Status = runStatus(err)
		p.recordRun(ctx, logger, sum)
	}()

	if err = p.searchStage(ctx, logger, acc, &sum); err != nil {
		return sum, err
	}
	if err = p.scanStage(ctx, logger, acc, &sum); err != nil {
		return sum, err
	}
	if p.opts.Validate {
		if err = p.validateStage(ctx, logger, &sum); err != nil {
			return sum, err
		}
	}

	return sum, nil
}

func runStatus(err error) string {
	switch {
	case err == nil:
		return store.RunCompleted
	case errors.Is(err, context.Canceled):
		return store.RunInterrupted
	default:
		return store.RunFailed
	}
}

func (p *Pipeline) recordRun(ctx context.Context, logger *zap.Logger, sum Summary) {
	recorder, ok := p.deps.Store.(RunRecorder)
	if !ok || recorder == nil {
		return
	}

	run := store.Run{
		ID:         sum.RunID,
		StartedAt:  sum.StartedAt,
		FinishedAt: sum.FinishedAt,
		Status:     sum.Status,
		URLsAdded:  sum.URLsAdded,
		CertsAdded: sum.CertsAdded,
		Saved:      sum.Saved,
		Ignored:    sum.Ignored,
		APICalls:   sum.Calls,
	}
	if err := recorder.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("failed to record run", zap.Error(err))
	}
}

// pause waits base plus up to jitter, returning early when ctx ends.
func (p *Pipeline) pause(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += p.jitter(jitter)
	}
	if d <= 0 {
		return ctx.Err()
	}
	return p.sleep(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	return time.Duration(rand.Int63n(int64(limit)))
}
