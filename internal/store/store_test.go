package store

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestCategoryPartition(t *testing.T) {
	assert.Equal(t, "movies", categoryPartition(2000))
	assert.Equal(t, "movies", categoryPartition(2050))
	assert.Equal(t, "music", categoryPartition(3040))
	assert.Equal(t, "tv", categoryPartition(5030))
	assert.Equal(t, "adult", categoryPartition(6040))
	assert.Equal(t, "books", categoryPartition(7020))
	assert.Equal(t, "", categoryPartition(1000)) // default partition
	assert.Equal(t, "", categoryPartition(4000))
	assert.Equal(t, "", categoryPartition(8020))
}

func TestCategoryPredicate(t *testing.T) {
	where, args := categoryPredicate(nil)
	assert.Empty(t, where)
	assert.Empty(t, args)

	// Top-level ids widen to the whole thousand-block, so off-grid
	// subcategories like TV/UHD (5045) are matched too.
	where, args = categoryPredicate([]int{5000})
	assert.Equal(t, " WHERE (category_id >= $1 AND category_id < $2)", where)
	assert.Equal(t, []any{5000, 6000}, args)

	// Specific subcategories match exactly.
	where, args = categoryPredicate([]int{2000, 5045})
	assert.Equal(t, " WHERE (category_id >= $1 AND category_id < $2) OR category_id = $3", where)
	assert.Equal(t, []any{2000, 3000, 5045}, args)
}

func TestUpsertIdentityIsDayGranular(t *testing.T) {
	// Same title posted at 10:00 and 10:05 must hit one row: the conflict
	// target is the posting day, and the earliest timestamp is kept.
	assert.Contains(t, upsertSQL, "ON CONFLICT (norm_title, category_id, posted_day)")
	assert.Contains(t, upsertSQL, "posted_at  = LEAST(release.posted_at, excluded.posted_at)")
}

func TestIsDataError(t *testing.T) {
	assert.True(t, isDataError(&pgconn.PgError{Code: "22021"})) // invalid byte sequence
	assert.True(t, isDataError(&pgconn.PgError{Code: "23505"})) // unique violation
	assert.False(t, isDataError(&pgconn.PgError{Code: "08006"}))
	assert.False(t, isDataError(errors.New("dial tcp: refused")))
}
