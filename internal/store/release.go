package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/datallboy/nzbidx/internal/domain"
)

const upsertSQL = `
	INSERT INTO release (
		dedupe_key, norm_title, category_id, posted_at, posted_day, language,
		tags, source_group, size_bytes, segments, has_parts, part_count
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (norm_title, category_id, posted_day) DO UPDATE SET
		posted_at  = LEAST(release.posted_at, excluded.posted_at),
		size_bytes = excluded.size_bytes,
		segments   = excluded.segments,
		has_parts  = excluded.has_parts,
		part_count = excluded.part_count,
		tags       = ARRAY(SELECT DISTINCT unnest(release.tags || excluded.tags)),
		updated_at = now()
	RETURNING (xmax = 0) AS inserted`

// Upsert writes a deduped batch atomically and returns the dedupe keys of
// rows that were newly created. Rows that trip a data-integrity error are
// skipped with a warning; the rest of the batch still commits.
func (s *Store) Upsert(ctx context.Context, releases []*domain.Release) ([]string, error) {
	if len(releases) == 0 {
		return nil, nil
	}

	for _, rel := range releases {
		if err := s.ensurePartition(ctx, rel.CategoryID, rel.PostedAt); err != nil {
			return nil, err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("upsert begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var created []string
	for _, rel := range releases {
		rel.SortSegments()
		segs, err := json.Marshal(rel.Segments)
		if err != nil {
			s.log.Warn("release_upsert_skipped", "key", rel.DedupeKey(), "error", err)
			continue
		}

		// Savepoint per row: a bad row must not poison the batch.
		sp, err := tx.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("upsert savepoint: %w", err)
		}

		var inserted bool
		err = sp.QueryRow(ctx, upsertSQL,
			rel.DedupeKey(), rel.NormTitle, rel.CategoryID, rel.PostedAt,
			rel.PostedDay(), rel.Language, rel.Tags, rel.SourceGroup,
			rel.SizeBytes, segs, rel.HasParts(), rel.PartCount(),
		).Scan(&inserted)
		if err != nil {
			sp.Rollback(ctx)
			if isDataError(err) {
				s.log.Warn("release_upsert_skipped", "key", rel.DedupeKey(), "error", err)
				continue
			}
			return nil, fmt.Errorf("upsert %s: %w", rel.DedupeKey(), err)
		}
		if err := sp.Commit(ctx); err != nil {
			return nil, fmt.Errorf("upsert savepoint commit: %w", err)
		}
		if inserted {
			created = append(created, rel.DedupeKey())
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("upsert commit: %w", err)
	}
	return created, nil
}

// isDataError reports SQLSTATE classes 22 (data exception) and 23 (integrity
// constraint violation) — the row is at fault, not the connection.
func isDataError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")
}

const selectCols = `dedupe_key, norm_title, category_id, posted_at, language,
	tags, source_group, size_bytes, segments`

// GetRelease fetches one release by dedupe key, segments included. A key can
// match one row per category; the earliest posting wins.
func (s *Store) GetRelease(ctx context.Context, dedupeKey string) (*domain.Release, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectCols+` FROM release WHERE dedupe_key = $1
		 ORDER BY posted_at ASC NULLS LAST LIMIT 1`, dedupeKey)

	rel, _, err := scanRelease(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrReleaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get release %s: %w", dedupeKey, err)
	}
	return rel, nil
}

// GetSegments bulk-fetches stored segment lists so the deduper can merge new
// parts into releases seen in earlier batches.
func (s *Store) GetSegments(ctx context.Context, dedupeKeys []string) (map[string][]domain.Segment, error) {
	if len(dedupeKeys) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT dedupe_key, segments FROM release WHERE dedupe_key = ANY($1)`, dedupeKeys)
	if err != nil {
		return nil, fmt.Errorf("get segments: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.Segment)
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		var segs []domain.Segment
		if err := json.Unmarshal(raw, &segs); err != nil {
			s.log.Warn("release_segments_unreadable", "key", key, "error", err)
			continue
		}
		out[key] = segs
	}
	return out, rows.Err()
}

// Browse lists releases by recency, optionally filtered to category ranges.
// It backs empty-query API searches so they do not hit the search engine.
// The returned total counts every matching row, not just the current page.
func (s *Store) Browse(ctx context.Context, categories []int, limit, offset int) ([]*domain.Release, int64, error) {
	where, args := categoryPredicate(categories)

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM release`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("browse count: %w", err)
	}

	q := `SELECT ` + selectCols + ` FROM release` + where +
		fmt.Sprintf(` ORDER BY posted_at DESC NULLS LAST LIMIT %d OFFSET %d`, limit, offset)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("browse: %w", err)
	}
	defer rows.Close()

	var out []*domain.Release
	for rows.Next() {
		rel, key, err := scanRelease(rows)
		if err != nil {
			s.log.Warn("release_row_unreadable", "key", key, "error", err)
			continue
		}
		out = append(out, rel)
	}
	return out, total, rows.Err()
}

// categoryPredicate builds the WHERE clause for a category filter. Top-level
// ids cover their whole thousand-block as a range, so cat=2000 matches every
// movie subcategory including off-grid ones like 2045.
func categoryPredicate(categories []int) (string, []any) {
	if len(categories) == 0 {
		return "", nil
	}
	var conds []string
	var args []any
	for _, c := range categories {
		if c%1000 == 0 {
			conds = append(conds, fmt.Sprintf("(category_id >= $%d AND category_id < $%d)",
				len(args)+1, len(args)+2))
			args = append(args, c, c+1000)
			continue
		}
		conds = append(conds, fmt.Sprintf("category_id = $%d", len(args)+1))
		args = append(args, c)
	}
	return " WHERE " + strings.Join(conds, " OR "), args
}

// GetByKeys bulk-fetches full releases so index writes that failed can be
// rebuilt from the rows of record.
func (s *Store) GetByKeys(ctx context.Context, dedupeKeys []string) ([]*domain.Release, error) {
	if len(dedupeKeys) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+selectCols+` FROM release WHERE dedupe_key = ANY($1)`, dedupeKeys)
	if err != nil {
		return nil, fmt.Errorf("get by keys: %w", err)
	}
	defer rows.Close()

	var out []*domain.Release
	for rows.Next() {
		rel, key, err := scanRelease(rows)
		if err != nil {
			s.log.Warn("release_row_unreadable", "key", key, "error", err)
			continue
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

// DeleteByKey removes a single release (administrative takedown).
func (s *Store) DeleteByKey(ctx context.Context, dedupeKey string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM release WHERE dedupe_key = $1`, dedupeKey)
	if err != nil {
		return fmt.Errorf("delete %s: %w", dedupeKey, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReleaseNotFound
	}
	return nil
}

// DeleteByGroup drops everything ingested from a group that was moved to the
// ignore list. Returns the removed dedupe keys so the search index follows.
func (s *Store) DeleteByGroup(ctx context.Context, group string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM release WHERE source_group = $1 RETURNING dedupe_key`, group)
	if err != nil {
		return nil, fmt.Errorf("delete by group %s: %w", group, err)
	}
	defer rows.Close()
	return collectKeys(rows)
}

func collectKeys(rows pgx.Rows) ([]string, error) {
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func scanRelease(row pgx.Row) (*domain.Release, string, error) {
	var rel domain.Release
	var key string
	var raw []byte
	err := row.Scan(&key, &rel.NormTitle, &rel.CategoryID, &rel.PostedAt,
		&rel.Language, &rel.Tags, &rel.SourceGroup, &rel.SizeBytes, &raw)
	if err != nil {
		return nil, key, err
	}
	if err := json.Unmarshal(raw, &rel.Segments); err != nil {
		return nil, key, fmt.Errorf("segments column: %w", err)
	}
	return &rel, key, nil
}
