// Package cursor persists per-group ingest watermarks. The store is a small
// transactional SQLite file; writes are durable before the ingest loop
// advances its in-memory view.
package cursor

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/datallboy/nzbidx/internal/domain"
)

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS cursor (
	"group"          TEXT PRIMARY KEY,
	last_article     INTEGER NOT NULL DEFAULT 0,
	irrelevant_until INTEGER,
	probe_at         INTEGER
);`

// Open creates the cursor database when missing and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cursor db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open cursor db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to cursor db: %w", err)
	}
	// Cursor writes are serialized per key anyway; a single connection keeps
	// SQLite's locking out of the picture.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply cursor schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get bulk-fetches the last processed article per group. Groups without a
// row map to 0.
func (s *Store) Get(ctx context.Context, groups []string) (map[string]int64, error) {
	out := make(map[string]int64, len(groups))
	for _, g := range groups {
		out[g] = 0
	}
	if len(groups) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT "group", last_article FROM cursor`)
	if err != nil {
		return nil, fmt.Errorf("cursor get: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var group string
		var last int64
		if err := rows.Scan(&group, &last); err != nil {
			return nil, err
		}
		if _, wanted := out[group]; wanted {
			out[group] = last
		}
	}
	return out, rows.Err()
}

// Set upserts the watermark. last_article is monotonically non-decreasing:
// a smaller value than the stored one is ignored.
func (s *Store) Set(ctx context.Context, group string, lastArticle int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursor ("group", last_article) VALUES (?, ?)
		ON CONFLICT("group") DO UPDATE SET
			last_article = MAX(cursor.last_article, excluded.last_article)`,
		group, lastArticle)
	if err != nil {
		return fmt.Errorf("cursor set %s: %w", group, err)
	}
	return nil
}

// MarkIrrelevant parks a group that yielded no parseable releases until the
// TTL passes.
func (s *Store) MarkIrrelevant(ctx context.Context, group string, ttl time.Duration) error {
	until := time.Now().Add(ttl).Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursor ("group", last_article, irrelevant_until) VALUES (?, 0, ?)
		ON CONFLICT("group") DO UPDATE SET irrelevant_until = excluded.irrelevant_until`,
		group, until)
	if err != nil {
		return fmt.Errorf("cursor mark irrelevant %s: %w", group, err)
	}
	return nil
}

// Unmark clears the irrelevance flag after a successful probe.
func (s *Store) Unmark(ctx context.Context, group string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cursor SET irrelevant_until = NULL, probe_at = NULL WHERE "group" = ?`, group)
	if err != nil {
		return fmt.Errorf("cursor unmark %s: %w", group, err)
	}
	return nil
}

// ScheduleProbe arms a single probe after an outage. Dead groups are probed
// once per schedule, never hammered.
func (s *Store) ScheduleProbe(ctx context.Context, group string, delay time.Duration) error {
	at := time.Now().Add(delay).Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursor ("group", last_article, probe_at) VALUES (?, 0, ?)
		ON CONFLICT("group") DO UPDATE SET probe_at = excluded.probe_at`,
		group, at)
	if err != nil {
		return fmt.Errorf("cursor schedule probe %s: %w", group, err)
	}
	return nil
}

// DueProbes returns groups whose probe time has passed.
func (s *Store) DueProbes(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT "group" FROM cursor WHERE probe_at IS NOT NULL AND probe_at <= ?`, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("cursor due probes: %w", err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Skippable reports groups that should not be queried at the given time:
// parked as irrelevant, or waiting on a pending outage probe.
func (s *Store) Skippable(ctx context.Context, now time.Time) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT "group", last_article, irrelevant_until, probe_at FROM cursor`)
	if err != nil {
		return nil, fmt.Errorf("cursor skippable: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var c domain.Cursor
		var irrelevant, probe sql.NullInt64
		if err := rows.Scan(&c.Group, &c.LastArticle, &irrelevant, &probe); err != nil {
			return nil, err
		}
		if irrelevant.Valid {
			c.IrrelevantUntil = time.Unix(irrelevant.Int64, 0)
		}
		if probe.Valid {
			c.ProbeAt = time.Unix(probe.Int64, 0)
		}
		if c.SkipUntil(now) {
			out[c.Group] = true
		}
	}
	return out, rows.Err()
}
