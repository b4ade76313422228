// Package store persists releases in PostgreSQL. The release table is range
// partitioned by category id, each category sub-partitioned by posting year;
// missing yearly partitions are created on demand at insert time.
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger

	mu         sync.Mutex
	partitions map[string]struct{} // yearly partitions known to exist
}

// Open connects, migrates, and verifies the release table is partitioned.
func Open(ctx context.Context, databaseURL string, log *slog.Logger) (*Store, error) {
	if err := runMigrations(databaseURL); err != nil {
		return nil, fmt.Errorf("could not migrate database: %w", err)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := &Store{
		pool:       pool,
		log:        log.With("component", "store"),
		partitions: make(map[string]struct{}),
	}
	if err := s.checkPartitioned(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() { s.pool.Close() }

func runMigrations(databaseURL string) error {
	d, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}

	// golang-migrate selects its driver by URL scheme.
	url := databaseURL
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(url, scheme) {
			url = "pgx5://" + strings.TrimPrefix(url, scheme)
			break
		}
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, url)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// checkPartitioned refuses to run against a legacy unpartitioned release
// table; ingesting into one silently defeats retention and partition pruning.
func (s *Store) checkPartitioned(ctx context.Context) error {
	var partitioned bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_partitioned_table pt
			JOIN pg_class c ON c.oid = pt.partrelid
			WHERE c.relname = 'release')`).Scan(&partitioned)
	if err != nil {
		return fmt.Errorf("failed to inspect release table: %w", err)
	}
	if !partitioned {
		s.log.Error("release_table_not_partitioned")
		return errors.New("release table exists but is not partitioned")
	}
	return nil
}
