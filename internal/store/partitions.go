package store

import (
	"context"
	"fmt"
	"time"
)

// categoryRanges mirrors the top-level partitions created by the initial
// migration. Categories outside every range land in the default partition.
var categoryRanges = []struct {
	name string
	lo   int
	hi   int
}{
	{"movies", 2000, 3000},
	{"music", 3000, 4000},
	{"tv", 5000, 6000},
	{"adult", 6000, 7000},
	{"books", 7000, 8000},
}

func categoryPartition(categoryID int) string {
	for _, r := range categoryRanges {
		if categoryID >= r.lo && categoryID < r.hi {
			return r.name
		}
	}
	return ""
}

// ensurePartition creates the yearly sub-partition for (category, year) when
// missing. Releases with an unknown posting date go to the per-category
// default sub-partition, which the migration already created. DDL runs
// outside the batch transaction so a rollback cannot poison the cache.
func (s *Store) ensurePartition(ctx context.Context, categoryID int, postedAt *time.Time) error {
	cat := categoryPartition(categoryID)
	if cat == "" || postedAt == nil {
		return nil
	}

	year := postedAt.UTC().Year()
	name := fmt.Sprintf("release_%s_%d", cat, year)

	s.mu.Lock()
	_, known := s.partitions[name]
	s.mu.Unlock()
	if known {
		return nil
	}

	// IF NOT EXISTS makes this safe to race with other workers.
	ddl := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF release_%s FOR VALUES FROM ('%d-01-01') TO ('%d-01-01')`,
		name, cat, year, year+1)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create partition %s: %w", name, err)
	}

	s.mu.Lock()
	s.partitions[name] = struct{}{}
	s.mu.Unlock()
	return nil
}
