package ingest

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datallboy/nzbidx/internal/breaker"
	"github.com/datallboy/nzbidx/internal/domain"
	"github.com/datallboy/nzbidx/internal/infra/config"
	"github.com/datallboy/nzbidx/internal/parser"
	"github.com/datallboy/nzbidx/internal/search"
)

type fakeReader struct {
	high      map[string]int64
	headers   map[string][]domain.Header
	failXover map[string]bool
}

func (f *fakeReader) HighWaterMark(group string) int64 { return f.high[group] }

func (f *fakeReader) XOver(group string, start, end int64) ([]domain.Header, bool) {
	if f.failXover[group] {
		return nil, false
	}
	var out []domain.Header
	for _, h := range f.headers[group] {
		if h.ArticleNum >= start && h.ArticleNum <= end {
			out = append(out, h)
		}
	}
	return out, true
}

type fakeStore struct {
	releases map[string]*domain.Release
	fail     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{releases: make(map[string]*domain.Release)}
}

func (f *fakeStore) Upsert(_ context.Context, releases []*domain.Release) ([]string, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	var created []string
	for _, rel := range releases {
		key := rel.DedupeKey()
		if _, ok := f.releases[key]; !ok {
			created = append(created, key)
		}
		cp := *rel
		f.releases[key] = &cp
	}
	return created, nil
}

func (f *fakeStore) GetSegments(_ context.Context, keys []string) (map[string][]domain.Segment, error) {
	out := make(map[string][]domain.Segment)
	for _, k := range keys {
		if rel, ok := f.releases[k]; ok {
			out[k] = rel.Segments
		}
	}
	return out, nil
}

func (f *fakeStore) GetByKeys(_ context.Context, keys []string) ([]*domain.Release, error) {
	var out []*domain.Release
	for _, k := range keys {
		if rel, ok := f.releases[k]; ok {
			cp := *rel
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteByGroup(_ context.Context, group string) ([]string, error) {
	var keys []string
	for k, rel := range f.releases {
		if rel.SourceGroup == group {
			keys = append(keys, k)
			delete(f.releases, k)
		}
	}
	return keys, nil
}

type fakeIndexer struct {
	docs    map[string]search.Doc
	deleted []string
	fail    error
}

func newFakeIndexer() *fakeIndexer { return &fakeIndexer{docs: make(map[string]search.Doc)} }

func (f *fakeIndexer) Bulk(_ context.Context, docs map[string]search.Doc) error {
	if f.fail != nil {
		return f.fail
	}
	for k, d := range docs {
		f.docs[k] = d
	}
	return nil
}

func (f *fakeIndexer) DeleteByIDs(_ context.Context, keys []string) error {
	f.deleted = append(f.deleted, keys...)
	return nil
}

type fakeCursors struct {
	last            map[string]int64
	irrelevantUntil map[string]time.Time
	probeAt         map[string]time.Time
	probes          map[string]time.Duration
}

func newFakeCursors() *fakeCursors {
	return &fakeCursors{
		last:            make(map[string]int64),
		irrelevantUntil: make(map[string]time.Time),
		probeAt:         make(map[string]time.Time),
		probes:          make(map[string]time.Duration),
	}
}

func (f *fakeCursors) Get(_ context.Context, groups []string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, g := range groups {
		out[g] = f.last[g]
	}
	return out, nil
}

func (f *fakeCursors) Set(_ context.Context, group string, last int64) error {
	if last > f.last[group] {
		f.last[group] = last
	}
	return nil
}

func (f *fakeCursors) MarkIrrelevant(_ context.Context, group string, ttl time.Duration) error {
	f.irrelevantUntil[group] = time.Now().Add(ttl)
	return nil
}

func (f *fakeCursors) Unmark(_ context.Context, group string) error {
	delete(f.irrelevantUntil, group)
	delete(f.probeAt, group)
	return nil
}

func (f *fakeCursors) ScheduleProbe(_ context.Context, group string, delay time.Duration) error {
	f.probes[group] = delay
	f.probeAt[group] = time.Now().Add(delay)
	return nil
}

func (f *fakeCursors) Skippable(_ context.Context, now time.Time) (map[string]bool, error) {
	out := make(map[string]bool)
	groups := make(map[string]struct{})
	for g := range f.irrelevantUntil {
		groups[g] = struct{}{}
	}
	for g := range f.probeAt {
		groups[g] = struct{}{}
	}
	for g := range groups {
		c := domain.Cursor{
			Group:           g,
			IrrelevantUntil: f.irrelevantUntil[g],
			ProbeAt:         f.probeAt[g],
		}
		if c.SkipUntil(now) {
			out[g] = true
		}
	}
	return out, nil
}

func testIngestConfig() config.IngestConfig {
	return config.IngestConfig{
		Batch:         1000,
		BatchMin:      100,
		BatchMax:      5000,
		PollMin:       time.Second,
		PollMax:       5 * time.Minute,
		SleepMs:       1000,
		DBLatencyMs:   50,
		OSLatencyMs:   100,
		LogEvery:      1,
		Workers:       1,
		ValidateSegs:  true,
		IrrelevantTTL: 24 * time.Hour,
	}
}

func testBreaker(name string) *breaker.Breaker {
	cfg := config.BreakerConfig{FailureThreshold: 5, ResetSeconds: 30}
	return breaker.New(name, cfg, slog.Default())
}

func testDeduper() *Deduper {
	p := parser.New(nil)
	inf := parser.NewInferencer(0, 0, 0, 0, 0)
	return NewDeduper(p, inf, true, 10000, slog.Default())
}

func newTestLoop(groups []string, reader *fakeReader, store *fakeStore, idx *fakeIndexer, cur *fakeCursors) *Loop {
	return NewLoop(testIngestConfig(), groups, nil,
		[]NewsReader{reader}, cur, store, idx, testDeduper(),
		testBreaker("db"), testBreaker("search"), slog.Default())
}

func TestSingleArticleRelease(t *testing.T) {
	group := "alt.binaries.movies"
	reader := &fakeReader{
		high: map[string]int64{group: 1},
		headers: map[string][]domain.Header{group: {{
			ArticleNum: 1,
			Subject:    "Awesome.Film.2024.1080p.BluRay.x264 (1/1)",
			Date:       "Mon, 01 Jan 2024 00:00:00 +0000",
			MessageID:  "<m1>",
			Bytes:      456,
		}}},
	}
	store := newFakeStore()
	idx := newFakeIndexer()
	cur := newFakeCursors()

	loop := newTestLoop([]string{group}, reader, store, idx, cur)
	loop.RunOnce(context.Background())

	key := "awesome film 2024 1080p bluray x264:2024-01-01"
	rel, ok := store.releases[key]
	require.True(t, ok, "release not stored under %q", key)
	assert.Equal(t, "awesome film 2024 1080p bluray x264", rel.NormTitle)
	assert.Equal(t, 2050, rel.CategoryID)
	assert.Equal(t, int64(456), rel.SizeBytes)
	assert.Equal(t, 1, rel.PartCount())
	require.Len(t, rel.Segments, 1)
	assert.Equal(t, domain.Segment{Number: 1, MessageID: "m1", Group: group, Bytes: 456}, rel.Segments[0])

	assert.Equal(t, int64(1), cur.last[group])
	_, indexed := idx.docs[key]
	assert.True(t, indexed)
}

func TestMultiPartMerging(t *testing.T) {
	group := "alt.binaries.test"
	date := "Mon, 01 Jan 2024 00:00:00 +0000"
	reader := &fakeReader{
		high: map[string]int64{group: 3},
		headers: map[string][]domain.Header{group: {
			{ArticleNum: 1, Subject: "Release.Name (1/2)", Date: date, MessageID: "<p1>", Bytes: 100},
			{ArticleNum: 2, Subject: "Release.Name (2/2)", Date: date, MessageID: "<p2>", Bytes: 200},
			{ArticleNum: 3, Subject: "Release.Name (1/2)", Date: date, MessageID: "<p1>", Bytes: 100},
		}},
	}
	store := newFakeStore()
	loop := newTestLoop([]string{group}, reader, store, newFakeIndexer(), newFakeCursors())
	loop.RunOnce(context.Background())

	require.Len(t, store.releases, 1)
	for _, rel := range store.releases {
		assert.Equal(t, int64(300), rel.SizeBytes)
		assert.Equal(t, 2, rel.PartCount())
		require.Len(t, rel.Segments, 2)
		assert.Equal(t, 1, rel.Segments[0].Number)
		assert.Equal(t, 2, rel.Segments[1].Number)
	}
}

func TestSurrogateSanitization(t *testing.T) {
	group := "alt.binaries.test"
	reader := &fakeReader{
		high: map[string]int64{group: 1},
		headers: map[string][]domain.Header{group: {{
			ArticleNum: 1,
			Subject:    "Example\xed\xb3\xa2(1/1)",
			Date:       "Mon, 01 Jan 2024 00:00:00 +0000",
			MessageID:  "<m1\xed\xb3\xa2>",
			Bytes:      10,
		}}},
	}
	store := newFakeStore()
	loop := newTestLoop([]string{group}, reader, store, newFakeIndexer(), newFakeCursors())

	require.NotPanics(t, func() { loop.RunOnce(context.Background()) })

	rel, ok := store.releases["example:2024-01-01"]
	require.True(t, ok)
	assert.Equal(t, "example", rel.NormTitle)
	require.Len(t, rel.Segments, 1)
	assert.Equal(t, "m1", rel.Segments[0].MessageID)
}

func TestOutageDoesNotMarkIrrelevant(t *testing.T) {
	group := "alt.binaries.dead"
	reader := &fakeReader{high: map[string]int64{group: 0}}
	cur := newFakeCursors()
	cur.last[group] = 42

	loop := newTestLoop([]string{group}, reader, newFakeStore(), newFakeIndexer(), cur)
	loop.RunOnce(context.Background())

	assert.Equal(t, int64(42), cur.last[group])
	assert.NotContains(t, cur.irrelevantUntil, group)
	assert.Contains(t, cur.probes, group)
}

func TestOutageProbeGatesRequery(t *testing.T) {
	group := "alt.binaries.dead"
	reader := &fakeReader{high: map[string]int64{group: 0}}
	cur := newFakeCursors()

	loop := newTestLoop([]string{group}, reader, newFakeStore(), newFakeIndexer(), cur)
	loop.RunOnce(context.Background())
	first := cur.probes[group]

	// The next tick must not touch the group while its probe is pending:
	// the delay stays where the outage left it instead of doubling.
	loop.RunOnce(context.Background())
	assert.Equal(t, first, cur.probes[group])
}

func TestProbeDelayDoubles(t *testing.T) {
	group := "alt.binaries.dead"
	reader := &fakeReader{high: map[string]int64{group: 0}}
	cur := newFakeCursors()

	loop := newTestLoop([]string{group}, reader, newFakeStore(), newFakeIndexer(), cur)
	loop.RunOnce(context.Background())
	first := cur.probes[group]

	// Once the probe fires and the server is still silent, the delay doubles.
	cur.probeAt[group] = time.Now().Add(-time.Second)
	loop.RunOnce(context.Background())

	assert.Equal(t, first*2, cur.probes[group])
}

func TestEmptyXoverMarksIrrelevant(t *testing.T) {
	group := "alt.binaries.quiet"
	reader := &fakeReader{high: map[string]int64{group: 100}}
	cur := newFakeCursors()

	loop := newTestLoop([]string{group}, reader, newFakeStore(), newFakeIndexer(), cur)
	loop.RunOnce(context.Background())

	assert.Contains(t, cur.irrelevantUntil, group)

	// Once irrelevant the group is skipped on the next tick.
	delete(cur.probes, group)
	loop.RunOnce(context.Background())
	assert.NotContains(t, cur.probes, group)
}

func TestXoverFailureDoesNotMarkIrrelevant(t *testing.T) {
	group := "alt.binaries.flaky"
	reader := &fakeReader{
		high:      map[string]int64{group: 5},
		failXover: map[string]bool{group: true},
	}
	cur := newFakeCursors()

	loop := newTestLoop([]string{group}, reader, newFakeStore(), newFakeIndexer(), cur)
	loop.RunOnce(context.Background())
	loop.RunOnce(context.Background())

	// Transport failures only bump the per-group counter; the cursor stays
	// put and the group is neither parked nor probed.
	assert.NotContains(t, cur.irrelevantUntil, group)
	assert.NotContains(t, cur.probes, group)
	assert.Equal(t, int64(0), cur.last[group])
	assert.Equal(t, 2, loop.xoverFails[group])

	// A successful fetch clears the counter.
	reader.failXover[group] = false
	reader.headers = map[string][]domain.Header{group: {{
		ArticleNum: 1,
		Subject:    "Flaky.Thing (1/1)",
		Date:       "Mon, 01 Jan 2024 00:00:00 +0000",
		MessageID:  "<f1>",
		Bytes:      10,
	}}}
	loop.RunOnce(context.Background())
	assert.NotContains(t, loop.xoverFails, group)
}

func TestFailedIndexDocsReplayedNextTick(t *testing.T) {
	group := "alt.binaries.movies"
	reader := &fakeReader{
		high: map[string]int64{group: 1},
		headers: map[string][]domain.Header{group: {{
			ArticleNum: 1,
			Subject:    "Awesome.Film.2024.1080p.BluRay.x264 (1/1)",
			Date:       "Mon, 01 Jan 2024 00:00:00 +0000",
			MessageID:  "<m1>",
			Bytes:      456,
		}}},
	}
	store := newFakeStore()
	idx := newFakeIndexer()
	idx.fail = errors.New("bulk rejected")
	cur := newFakeCursors()

	loop := newTestLoop([]string{group}, reader, store, idx, cur)
	loop.RunOnce(context.Background())

	key := "awesome film 2024 1080p bluray x264:2024-01-01"
	require.Contains(t, store.releases, key)
	assert.NotContains(t, idx.docs, key)
	assert.Equal(t, int64(1), cur.last[group], "cursor advances even when indexing lags")

	// The index recovers: the doc is rebuilt from the stored row on the next
	// tick even though no new articles arrived.
	idx.fail = nil
	loop.RunOnce(context.Background())
	assert.Contains(t, idx.docs, key)
}

func TestIgnoredGroupsPurged(t *testing.T) {
	store := newFakeStore()
	store.releases["old:2024-01-01"] = &domain.Release{NormTitle: "old", SourceGroup: "alt.binaries.bad"}
	idx := newFakeIndexer()
	idx.docs["old:2024-01-01"] = search.Doc{}

	loop := NewLoop(testIngestConfig(), nil, []string{"alt.binaries.bad"},
		[]NewsReader{&fakeReader{}}, newFakeCursors(), store, idx, testDeduper(),
		testBreaker("db"), testBreaker("search"), slog.Default())
	loop.RunOnce(context.Background())

	assert.Empty(t, store.releases)
	assert.Equal(t, []string{"old:2024-01-01"}, idx.deleted)
}

func TestDeduperIdempotence(t *testing.T) {
	d := testDeduper()
	headers := []domain.Header{
		{ArticleNum: 1, Subject: "Some.Thing (1/2)", Date: "Mon, 01 Jan 2024 00:00:00 +0000", MessageID: "<a>", Bytes: 10},
		{ArticleNum: 2, Subject: "Some.Thing (2/2)", Date: "Mon, 01 Jan 2024 00:00:00 +0000", MessageID: "<b>", Bytes: 20},
	}

	first := d.Dedupe(headers, "g")
	second := d.Dedupe(headers, "g")

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	for _, rel := range []*domain.Release{first[0], second[0]} {
		Finalize(rel)
	}
	assert.Equal(t, first[0], second[0])
	assert.Equal(t, 2, first[0].PartCount())
}

func TestMergeStoredKeepsDistinctNumbers(t *testing.T) {
	d := testDeduper()
	store := newFakeStore()
	posted := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.releases["title:2024-01-01"] = &domain.Release{
		NormTitle: "title",
		PostedAt:  &posted,
		Segments:  []domain.Segment{{Number: 1, MessageID: "old1", Group: "g", Bytes: 5}},
	}

	rel := &domain.Release{
		NormTitle: "title",
		PostedAt:  &posted,
		Segments: []domain.Segment{
			{Number: 1, MessageID: "new1", Group: "g", Bytes: 10},
			{Number: 2, MessageID: "new2", Group: "g", Bytes: 20},
		},
	}

	require.NoError(t, d.MergeStored(context.Background(), store, []*domain.Release{rel}))

	// The batch's part 1 wins; the stored one does not duplicate the number.
	assert.Equal(t, 2, rel.PartCount())
	assert.Equal(t, int64(30), rel.SizeBytes)
}

func TestAdaptiveSleepScalesWithBacklog(t *testing.T) {
	loop := newTestLoop(nil, &fakeReader{}, newFakeStore(), newFakeIndexer(), newFakeCursors())

	// Nothing to do: rest at the max interval.
	assert.Equal(t, loop.cfg.PollMax, loop.adaptiveSleep(groupStats{}))

	// Deep backlog polls near the minimum.
	deep := loop.adaptiveSleep(groupStats{processed: 100, remaining: 100000})
	assert.Less(t, deep, loop.cfg.PollMax/10)

	// Cleared backlog rests at the max.
	done := loop.adaptiveSleep(groupStats{processed: 100, remaining: 0})
	assert.Equal(t, loop.cfg.PollMax, done)
}
