// Package prune runs scheduled retention: old releases, disallowed file
// extensions, and size outliers are dropped from the store and the search
// index follows.
package prune

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/datallboy/nzbidx/internal/breaker"
	"github.com/datallboy/nzbidx/internal/infra/config"
)

// Store is the slice of the release store the pruner consumes.
type Store interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
	PruneByExtension(ctx context.Context, disallowed []string) ([]string, error)
	PruneBySize(ctx context.Context, minByCategory map[int]int64, maxBytes int64) ([]string, error)
}

// Index removes documents for pruned releases.
type Index interface {
	DeleteByIDs(ctx context.Context, dedupeKeys []string) error
}

type Pruner struct {
	cfg   config.RetentionConfig
	store Store
	index Index
	dbBr  *breaker.Breaker
	osBr  *breaker.Breaker
	log   *slog.Logger
	cron  *cron.Cron
}

func New(cfg config.RetentionConfig, store Store, index Index, dbBr, osBr *breaker.Breaker, log *slog.Logger) *Pruner {
	return &Pruner{
		cfg:   cfg,
		store: store,
		index: index,
		dbBr:  dbBr,
		osBr:  osBr,
		log:   log.With("component", "prune"),
	}
}

// Start schedules the retention pass. The schedule comes from RETENTION_CRON
// (default daily).
func (p *Pruner) Start(ctx context.Context) error {
	p.cron = cron.New()
	_, err := p.cron.AddFunc(p.cfg.Cron, func() { p.RunOnce(ctx) })
	if err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

func (p *Pruner) Stop() {
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
}

// RunOnce executes one retention pass. Each policy is independent; a failing
// one does not stop the others.
func (p *Pruner) RunOnce(ctx context.Context) {
	start := time.Now()
	var pruned []string

	if p.cfg.Days > 0 {
		cutoff := time.Now().AddDate(0, 0, -p.cfg.Days)
		pruned = append(pruned, p.collect(ctx, "age", func(ctx context.Context) ([]string, error) {
			return p.store.PruneOlderThan(ctx, cutoff)
		})...)
	}

	if len(p.cfg.DisallowedExtensions) > 0 {
		pruned = append(pruned, p.collect(ctx, "extension", func(ctx context.Context) ([]string, error) {
			return p.store.PruneByExtension(ctx, p.cfg.DisallowedExtensions)
		})...)
	}

	mins := map[int]int64{
		2000: p.cfg.MovieMinSizeMB * 1024 * 1024,
		5000: p.cfg.TVMinSizeMB * 1024 * 1024,
		6000: p.cfg.XXXMinSizeMB * 1024 * 1024,
	}
	pruned = append(pruned, p.collect(ctx, "size", func(ctx context.Context) ([]string, error) {
		return p.store.PruneBySize(ctx, mins, p.cfg.MaxReleaseBytes)
	})...)

	if len(pruned) > 0 {
		err := p.osBr.Call(ctx, func() error { return p.index.DeleteByIDs(ctx, pruned) })
		if err != nil {
			p.log.Warn("prune_index_failed", "error", err)
		}
	}

	p.log.Info("prune_summary", "pruned", len(pruned), "took", time.Since(start).String())
}

func (p *Pruner) collect(ctx context.Context, policy string, fn func(context.Context) ([]string, error)) []string {
	var keys []string
	err := p.dbBr.Call(ctx, func() error {
		var err error
		keys, err = fn(ctx)
		return err
	})
	if err != nil {
		p.log.Warn("prune_policy_failed", "policy", policy, "error", err)
		return nil
	}
	return keys
}
