// Package app carries the shared environment. Consumers declare the
// interfaces they need here so the API layer never imports the concrete
// store, search, or nzb packages.
package app

import (
	"context"
	"log/slog"

	"github.com/datallboy/nzbidx/internal/breaker"
	"github.com/datallboy/nzbidx/internal/cache"
	"github.com/datallboy/nzbidx/internal/domain"
	"github.com/datallboy/nzbidx/internal/infra/config"
	"github.com/datallboy/nzbidx/internal/search"
)

// Searcher answers full-text queries against the release index.
type Searcher interface {
	Search(ctx context.Context, q search.Query) ([]search.Hit, int64, error)
}

// Browser lists recent releases straight from the store; it backs queries
// with no search text. The int64 is the total match count across all pages.
type Browser interface {
	Browse(ctx context.Context, categories []int, limit, offset int) ([]*domain.Release, int64, error)
}

// NZBFetcher synthesizes the NZB document for a dedupe key.
type NZBFetcher interface {
	Build(ctx context.Context, dedupeKey string) ([]byte, error)
}

// Context is the single source of truth threaded through the process.
type Context struct {
	Config *config.Config
	Logger *slog.Logger

	Search Searcher
	Store  Browser
	NZB    NZBFetcher
	Cache  cache.NZBCache

	DBBreaker     *breaker.Breaker
	SearchBreaker *breaker.Breaker
}

// NewContext initializes the base environment; services are attached by the
// command wiring.
func NewContext(cfg *config.Config, log *slog.Logger) *Context {
	return &Context{Config: cfg, Logger: log}
}
