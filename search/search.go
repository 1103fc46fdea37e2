package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pevans/psahunter/fetch"
	"go.uber.org/zap"
)

// DefaultPerPage is the page size requested from every backend.
const DefaultPerPage = 30

// ErrNoBackends is returned by a chain without strategies.
var ErrNoBackends = errors.New("no search backends configured")

// Backend returns raw result URLs for a query page. page is zero-based.
type Backend interface {
	Name() string
	Search(ctx context.Context, query string, page int) ([]string, error)
}

// Getter is the slice of fetch.Client the backends need.
type Getter interface {
	Get(ctx context.Context, req fetch.Request) (*fetch.Response, error)
}

// Engine selects the backend strategy.
type Engine string

const (
	EngineDDG   Engine = "ddg"
	EngineSearx Engine = "searx"
	EngineAuto  Engine = "auto"
)

// ParseEngine validates an engine name.
func ParseEngine(s string) (Engine, error) {
	switch e := Engine(strings.ToLower(strings.TrimSpace(s))); e {
	case EngineDDG, EngineSearx, EngineAuto:
		return e, nil
	case "":
		return EngineAuto, nil
	default:
		return "", fmt.Errorf("unknown search engine %q (want ddg, searx or auto)", s)
	}
}

// Options configures New.
type Options struct {
	Engine   Engine
	Mirrors  []string
	SearxURL string
	Language string
	PerPage  int
}

// New builds the backend chain for the selected engine.
func New(client Getter, opts Options, logger *zap.Logger) *Chain {
	html := NewHTMLBackend(client, opts.Mirrors, opts.PerPage, logger)
	searx := NewSearxBackend(client, opts.SearxURL, opts.Language, opts.PerPage, logger)

	switch opts.Engine {
	case EngineDDG:
		return NewChain(logger, html)
	case EngineSearx:
		return NewChain(logger, searx)
	default:
		return NewChain(logger, html, searx)
	}
}

// Chain tries its backends in order. It advances to the next backend only
// when the current one fails; a successful empty result ends the search.
type Chain struct {
	backends []Backend
	logger   *zap.Logger
}

// NewChain creates a chain over backends.
func NewChain(logger *zap.Logger, backends ...Backend) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{backends: backends, logger: logger}
}

func (c *Chain) Name() string {
	names := make([]string, len(c.backends))
	for i, b := range c.backends {
		names[i] = b.Name()
	}
	return strings.Join(names, "->")
}

// Search returns the first successful backend result.
func (c *Chain) Search(ctx context.Context, query string, page int) ([]string, error) {
	if len(c.backends) == 0 {
		return nil, ErrNoBackends
	}

	var lastErr error
	for i, b := range c.backends {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.logger.Info("search",
			zap.String("engine", b.Name()),
			zap.String("query", query),
			zap.Int("page", page))

		urls, err := b.Search(ctx, query, page)
		if err == nil {
			return urls, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}

		lastErr = err
		if i < len(c.backends)-1 {
			c.logger.Warn("search backend failed, falling back",
				zap.String("engine", b.Name()),
				zap.String("next", c.backends[i+1].Name()),
				zap.Error(err))
		}
	}
	return nil, lastErr
}
