package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/datallboy/nzbidx/internal/api"
	"github.com/datallboy/nzbidx/internal/app"
	"github.com/datallboy/nzbidx/internal/breaker"
	"github.com/datallboy/nzbidx/internal/cache"
	"github.com/datallboy/nzbidx/internal/cursor"
	"github.com/datallboy/nzbidx/internal/infra/config"
	"github.com/datallboy/nzbidx/internal/infra/logger"
	"github.com/datallboy/nzbidx/internal/ingest"
	"github.com/datallboy/nzbidx/internal/nntp"
	"github.com/datallboy/nzbidx/internal/nzb"
	"github.com/datallboy/nzbidx/internal/parser"
	"github.com/datallboy/nzbidx/internal/prune"
	"github.com/datallboy/nzbidx/internal/search"
	"github.com/datallboy/nzbidx/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:           "nzbidx",
		Short:         "Usenet indexer: NNTP harvest, release dedup, Newznab API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the ingest loop and the Newznab HTTP API",
			RunE:  func(cmd *cobra.Command, args []string) error { return run(true) },
		},
		&cobra.Command{
			Use:   "ingest",
			Short: "Run the ingest loop only",
			RunE:  func(cmd *cobra.Command, args []string) error { return run(false) },
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(withAPI bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbBr := breaker.New("db", cfg.Breaker, log)
	osBr := breaker.New("search", cfg.Breaker, log)
	redisBr := breaker.New("redis", cfg.Breaker, log)

	releases, err := store.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer releases.Close()

	index, err := search.New(ctx, cfg.OpenSearchURL, log)
	if err != nil {
		return err
	}

	cursors, err := cursor.Open(cfg.CursorDB)
	if err != nil {
		return err
	}
	defer cursors.Close()

	var nzbCache cache.NZBCache
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisURL, redisBr, log)
		if err != nil {
			return err
		}
		defer rc.Close()
		nzbCache = rc
	} else {
		nzbCache = cache.NewMemory()
	}

	var detector *parser.Detector
	if cfg.Ingest.DetectLanguage {
		detector = parser.NewDetector()
	}
	subjects := parser.New(detector)
	inferencer := parser.NewInferencer(
		cfg.Category.MoviesCatID,
		cfg.Category.TVCatID,
		cfg.Category.AudioCatID,
		cfg.Category.BooksCatID,
		cfg.Category.AdultCatID,
	)
	deduper := ingest.NewDeduper(subjects, inferencer, cfg.Ingest.ValidateSegs, cfg.Ingest.PartMaxRels, log)

	// One NNTP connection per worker; the first one also resolves the group
	// list when none was configured.
	readers := make([]ingest.NewsReader, cfg.Ingest.Workers)
	clients := make([]*nntp.Client, cfg.Ingest.Workers)
	for i := range clients {
		clients[i] = nntp.NewClient(cfg.NNTP, log)
		clients[i].Connect()
		readers[i] = clients[i]
	}
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	groups := cfg.NNTP.Groups
	if len(groups) == 0 {
		groups = clients[0].ListGroups(cfg.NNTP.GroupWildcard)
		log.Info("group_discovery", "wildcard", cfg.NNTP.GroupWildcard, "groups", len(groups))
	}
	groups = dropIgnored(groups, cfg.NNTP.IgnoreGroups)

	loop := ingest.NewLoop(cfg.Ingest, groups, cfg.NNTP.IgnoreGroups,
		readers, cursors, releases, index, deduper, dbBr, osBr, log)

	pruner := prune.New(cfg.Retention, releases, index, dbBr, osBr, log)
	if err := pruner.Start(ctx); err != nil {
		return fmt.Errorf("failed to schedule retention: %w", err)
	}
	defer pruner.Stop()

	if !withAPI {
		loop.RunForever(ctx)
		return nil
	}

	appCtx := app.NewContext(cfg, log)
	appCtx.Search = index
	appCtx.Store = releases
	appCtx.NZB = nzb.NewBuilder(releases, log)
	appCtx.Cache = nzbCache
	appCtx.DBBreaker = dbBr
	appCtx.SearchBreaker = osBr

	srv := &http.Server{
		Addr:    ":" + cfg.API.Port,
		Handler: api.NewServer(appCtx),
	}

	go loop.RunForever(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("api_listening", "port", cfg.API.Port)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func dropIgnored(groups, ignored []string) []string {
	if len(ignored) == 0 {
		return groups
	}
	skip := make(map[string]struct{}, len(ignored))
	for _, g := range ignored {
		skip[g] = struct{}{}
	}
	var out []string
	for _, g := range groups {
		if _, ok := skip[g]; ok {
			continue
		}
		out = append(out, g)
	}
	return out
}
