package store

import (
	"context"
	"fmt"
	"time"
)

// PruneOlderThan drops releases whose posting date predates the cutoff.
// Releases with an unknown posting date are never age-pruned.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM release WHERE posted_at IS NOT NULL AND posted_at < $1 RETURNING dedupe_key`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("prune older than: %w", err)
	}
	defer rows.Close()
	return collectKeys(rows)
}

// PruneByExtension drops releases tagged with a disallowed file extension.
func (s *Store) PruneByExtension(ctx context.Context, disallowed []string) ([]string, error) {
	if len(disallowed) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`DELETE FROM release WHERE tags && $1 RETURNING dedupe_key`, disallowed)
	if err != nil {
		return nil, fmt.Errorf("prune by extension: %w", err)
	}
	defer rows.Close()
	return collectKeys(rows)
}

// PruneBySize enforces per-category minimum sizes and a global maximum.
// minByCategory keys are top-level category ids (2000, 5000, 6000); a
// release is pruned when its category's thousand-block has a minimum it
// falls short of, or when it exceeds maxBytes.
func (s *Store) PruneBySize(ctx context.Context, minByCategory map[int]int64, maxBytes int64) ([]string, error) {
	var pruned []string

	for top, min := range minByCategory {
		if min <= 0 {
			continue
		}
		rows, err := s.pool.Query(ctx, `
			DELETE FROM release
			WHERE category_id >= $1 AND category_id < $1 + 1000 AND size_bytes < $2
			RETURNING dedupe_key`, top, min)
		if err != nil {
			return nil, fmt.Errorf("prune by min size cat %d: %w", top, err)
		}
		keys, err := collectKeys(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		pruned = append(pruned, keys...)
	}

	if maxBytes > 0 {
		rows, err := s.pool.Query(ctx,
			`DELETE FROM release WHERE size_bytes > $1 RETURNING dedupe_key`, maxBytes)
		if err != nil {
			return nil, fmt.Errorf("prune by max size: %w", err)
		}
		keys, err := collectKeys(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		pruned = append(pruned, keys...)
	}

	return pruned, nil
}
