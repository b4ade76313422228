package prune

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/datallboy/nzbidx/internal/breaker"
	"github.com/datallboy/nzbidx/internal/infra/config"
)

type fakeStore struct {
	old, ext, size []string
	gotCutoff      time.Time
	gotExts        []string
	gotMax         int64
}

func (f *fakeStore) PruneOlderThan(_ context.Context, cutoff time.Time) ([]string, error) {
	f.gotCutoff = cutoff
	return f.old, nil
}

func (f *fakeStore) PruneByExtension(_ context.Context, exts []string) ([]string, error) {
	f.gotExts = exts
	return f.ext, nil
}

func (f *fakeStore) PruneBySize(_ context.Context, _ map[int]int64, max int64) ([]string, error) {
	f.gotMax = max
	return f.size, nil
}

type fakeIndex struct{ deleted []string }

func (f *fakeIndex) DeleteByIDs(_ context.Context, keys []string) error {
	f.deleted = append(f.deleted, keys...)
	return nil
}

func TestRunOnceAppliesAllPolicies(t *testing.T) {
	store := &fakeStore{old: []string{"a"}, ext: []string{"b"}, size: []string{"c"}}
	idx := &fakeIndex{}
	brCfg := config.BreakerConfig{FailureThreshold: 5, ResetSeconds: 30}

	p := New(config.RetentionConfig{
		Days:                 30,
		MaxReleaseBytes:      1 << 40,
		DisallowedExtensions: []string{"exe"},
	}, store, idx,
		breaker.New("db", brCfg, slog.Default()),
		breaker.New("search", brCfg, slog.Default()),
		slog.Default())

	p.RunOnce(context.Background())

	assert.ElementsMatch(t, []string{"a", "b", "c"}, idx.deleted)
	assert.Equal(t, []string{"exe"}, store.gotExts)
	assert.Equal(t, int64(1<<40), store.gotMax)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -30), store.gotCutoff, time.Minute)
}

func TestRunOnceSkipsDisabledPolicies(t *testing.T) {
	store := &fakeStore{size: []string{"x"}}
	idx := &fakeIndex{}
	brCfg := config.BreakerConfig{FailureThreshold: 5, ResetSeconds: 30}

	p := New(config.RetentionConfig{}, store, idx,
		breaker.New("db", brCfg, slog.Default()),
		breaker.New("search", brCfg, slog.Default()),
		slog.Default())

	p.RunOnce(context.Background())

	// Days=0 and no extensions: only the size policy runs.
	assert.True(t, store.gotCutoff.IsZero())
	assert.Nil(t, store.gotExts)
	assert.Equal(t, []string{"x"}, idx.deleted)
}
