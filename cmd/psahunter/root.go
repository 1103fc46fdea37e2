package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pevans/psahunter/certs"
	"github.com/pevans/psahunter/config"
	"github.com/pevans/psahunter/fetch"
	"github.com/pevans/psahunter/ledger"
	"github.com/pevans/psahunter/links"
	"github.com/pevans/psahunter/logging"
	"github.com/pevans/psahunter/pipeline"
	"github.com/pevans/psahunter/search"
	"github.com/pevans/psahunter/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newRootCmd builds the CLI. Flags default to the resolved configuration and
// write straight back into cfg.
func newRootCmd(cfg *config.Config) *cobra.Command {
	var (
		validate bool
		domains  = strings.Join(cfg.Filter.Domains, ",")
	)

	cmd := &cobra.Command{
		Use:           "psahunter",
		Short:         "Search the web for PSA certificate numbers, scan pages for them and validate them against the PSA API",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("domains") {
				cfg.Filter.Domains = strings.Split(domains, ",")
			}
			return run(cmd.Context(), cfg, validate, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()

	f.StringVar(&cfg.Paths.Queries, "queries", cfg.Paths.Queries, "file with one search query per line")
	f.StringVar(&cfg.Paths.Feeds, "feeds", cfg.Paths.Feeds, "file with one RSS/Atom feed URL per line")
	f.StringVar(&cfg.Paths.URLs, "urls", cfg.Paths.URLs, "URL ledger")
	f.StringVar(&cfg.Paths.Certs, "certs", cfg.Paths.Certs, "certificate ledger")
	f.StringVar(&cfg.Store.DSN, "db", cfg.Store.DSN, "store location (SQLite path or PostgreSQL URL)")

	f.StringVar(&domains, "domains", domains, "comma-separated domain allow-list; empty means no restriction")
	f.StringVar(&cfg.Filter.Allow, "allow", cfg.Filter.Allow, "path allow regex (empty allows all)")
	f.StringVar(&cfg.Filter.Deny, "deny", cfg.Filter.Deny, "path deny regex")
	f.BoolVar(&cfg.Filter.IncludeAny, "include-any", cfg.Filter.IncludeAny, "ignore allow/deny and apply the domain filter only")

	f.IntVar(&cfg.Run.PerQuery, "per-query", cfg.Run.PerQuery, "URLs to keep per query")
	f.IntVar(&cfg.Run.MaxPages, "max-pages", cfg.Run.MaxPages, "result pages per query")
	f.Var(&cfg.Run.Sleep, "sleep", "pause between search pages (duration or seconds)")

	f.IntVar(&cfg.Run.ScanLimitPerURL, "scan-limit-per-url", cfg.Run.ScanLimitPerURL, "max certs per page (0 = unlimited)")
	f.Var(&cfg.Run.ScanSleep, "scan-sleep", "pause between page fetches (duration or seconds)")

	f.BoolVar(&validate, "validate", false, "look up new certs with the PSA API and store them")
	f.IntVar(&cfg.Run.DailyCap, "daily-cap", cfg.Run.DailyCap, "max API calls per run (0 = unlimited)")
	f.IntVar(&cfg.Run.SleepMS, "sleep-ms", cfg.Run.SleepMS, "pause between API calls in milliseconds")

	f.Var(&cfg.HTTP.ConnectTimeout, "connect-timeout", "connect timeout (duration or seconds)")
	f.Var(&cfg.HTTP.ReadTimeout, "read-timeout", "read timeout (duration or seconds)")
	f.IntVar(&cfg.HTTP.Retries, "retries", cfg.HTTP.Retries, "retries per request")
	f.BoolVar(&cfg.HTTP.RespectRobots, "respect-robots", cfg.HTTP.RespectRobots, "skip pages robots.txt disallows")
	f.BoolVar(&cfg.HTTP.CloudflareBypass, "cf-bypass", cfg.HTTP.CloudflareBypass, "use a browser-like transport for page scans")

	f.StringVar(&cfg.Search.Engine, "engine", cfg.Search.Engine, "search engine: ddg, searx or auto")
	f.StringVar(&cfg.Search.SearxURL, "searx-url", cfg.Search.SearxURL, "SearXNG base URL")

	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")

	return cmd
}

// run wires the pipeline from cfg and executes it once.
func run(ctx context.Context, cfg *config.Config, validate bool, out io.Writer) error {
	logger, closeLog, err := logging.New(logging.Options{
		Dir:   cfg.Paths.LogDir,
		Level: cfg.LogLevel,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	p, cleanup, err := buildPipeline(ctx, cfg, validate, logger)
	if err != nil {
		logger.Error("setup failed", zap.Error(err))
		return err
	}
	defer cleanup()

	sum, err := p.Run(ctx)
	printSummary(out, sum)

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		logger.Warn("interrupted, collected results were saved")
	case errors.Is(err, pipeline.ErrMissingCredential):
		logger.Error("validation aborted", zap.Error(err))
	default:
		logger.Error("run failed", zap.Error(err))
	}
	return err
}

// buildPipeline creates the clients, ledgers and store for one run. The
// returned cleanup closes the store.
func buildPipeline(ctx context.Context, cfg *config.Config, validate bool, logger *zap.Logger) (*pipeline.Pipeline, func(), error) {
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.DBDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	engine, err := search.ParseEngine(cfg.Search.Engine)
	if err != nil {
		return nil, nil, err
	}
	filter, err := links.NewFilter(strings.Join(cfg.Filter.Domains, ","), cfg.Filter.Allow, cfg.Filter.Deny, cfg.Filter.IncludeAny)
	if err != nil {
		return nil, nil, err
	}

	httpOpts := fetch.DefaultOptions()
	httpOpts.ConnectTimeout = cfg.HTTP.ConnectTimeout.Std()
	httpOpts.ReadTimeout = cfg.HTTP.ReadTimeout.Std()
	httpOpts.Retries = cfg.HTTP.Retries
	httpOpts.CABundle = cfg.HTTP.CABundle

	client, err := fetch.New(httpOpts)
	if err != nil {
		return nil, nil, err
	}

	pageOpts := httpOpts
	pageOpts.CloudflareBypass = cfg.HTTP.CloudflareBypass
	pageOpts.RespectRobots = cfg.HTTP.RespectRobots
	pages, err := fetch.New(pageOpts)
	if err != nil {
		return nil, nil, err
	}

	urls, err := ledger.OpenURLs(cfg.Paths.URLs)
	if err != nil {
		return nil, nil, err
	}
	certLedger, err := ledger.OpenCerts(cfg.Paths.Certs)
	if err != nil {
		return nil, nil, err
	}

	chain := search.New(client, search.Options{
		Engine:   engine,
		Mirrors:  cfg.Search.Mirrors,
		SearxURL: cfg.Search.SearxURL,
		Language: cfg.Search.Language,
	}, logger)
	logger.Info("search engine", zap.String("chain", chain.Name()))

	deps := pipeline.Deps{
		URLs:   urls,
		Certs:  certLedger,
		Search: chain,
		Feeds:  search.NewFeedReader(client),
		Pages:  pages,
	}
	if cfg.PSA.Token != "" {
		deps.Lookup = certs.NewAPIClient(client, cfg.PSA.BaseURL, cfg.PSA.Token)
	}

	cleanup := func() {}
	st, err := openStore(ctx, cfg)
	switch {
	case err == nil:
		deps.Store = st
		cleanup = func() {
			if err := st.Close(); err != nil {
				logger.Warn("failed to close store", zap.Error(err))
			}
		}
	case validate:
		return nil, nil, err
	default:
		logger.Warn("store unavailable, run history disabled", zap.Error(err))
	}

	p := pipeline.New(pipeline.Options{
		QueriesPath:     cfg.Paths.Queries,
		FeedsPath:       cfg.Paths.Feeds,
		PerQuery:        cfg.Run.PerQuery,
		MaxPages:        cfg.Run.MaxPages,
		SearchSleep:     cfg.Run.Sleep.Std(),
		ScanLimitPerURL: cfg.Run.ScanLimitPerURL,
		ScanSleep:       cfg.Run.ScanSleep.Std(),
		Validate:        validate,
		DailyCap:        cfg.Run.DailyCap,
		ValidateSleep:   cfg.ValidateSleep(),
		Filter:          filter,
	}, deps, logger)

	return p, cleanup, nil
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	if store.Kind(strings.ToLower(cfg.Store.Type)) != store.KindPostgres {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return store.Open(ctx, cfg.Store.Type, cfg.Store.DSN)
}
