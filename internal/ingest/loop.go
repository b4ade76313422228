package ingest

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/datallboy/nzbidx/internal/breaker"
	"github.com/datallboy/nzbidx/internal/domain"
	"github.com/datallboy/nzbidx/internal/infra/config"
	"github.com/datallboy/nzbidx/internal/search"
)

// NewsReader is the slice of the NNTP client the loop consumes. A reader is
// owned by exactly one worker; it is never shared. XOver's second return
// distinguishes a transport failure (false) from an observed-empty window
// (true with no headers); only the latter says anything about the group.
type NewsReader interface {
	HighWaterMark(group string) int64
	XOver(group string, start, end int64) ([]domain.Header, bool)
}

// ReleaseStore is the slice of the persistent store the loop consumes.
type ReleaseStore interface {
	SegmentSource
	Upsert(ctx context.Context, releases []*domain.Release) ([]string, error)
	GetByKeys(ctx context.Context, dedupeKeys []string) ([]*domain.Release, error)
	DeleteByGroup(ctx context.Context, group string) ([]string, error)
}

// DocIndexer is the slice of the search indexer the loop consumes.
type DocIndexer interface {
	Bulk(ctx context.Context, docs map[string]search.Doc) error
	DeleteByIDs(ctx context.Context, dedupeKeys []string) error
}

// CursorStore tracks per-group progress and irrelevance.
type CursorStore interface {
	Get(ctx context.Context, groups []string) (map[string]int64, error)
	Set(ctx context.Context, group string, lastArticle int64) error
	MarkIrrelevant(ctx context.Context, group string, ttl time.Duration) error
	Unmark(ctx context.Context, group string) error
	ScheduleProbe(ctx context.Context, group string, delay time.Duration) error
	Skippable(ctx context.Context, now time.Time) (map[string]bool, error)
}

const (
	initialProbeDelay = 10 * time.Minute
	maxProbeDelay     = 24 * time.Hour
)

type Loop struct {
	cfg     config.IngestConfig
	groups  []string
	ignored []string

	readers []NewsReader
	cursors CursorStore
	store   ReleaseStore
	index   DocIndexer
	dedup   *Deduper
	dbBr    *breaker.Breaker
	osBr    *breaker.Breaker
	log     *slog.Logger

	purgeIgnored sync.Once
	ticks        int

	mu         sync.Mutex
	probeDelay map[string]time.Duration
	xoverFails map[string]int
	dirty      map[string]struct{}
}

// NewLoop wires the tick orchestrator. readers carries one NNTP client per
// worker; groups are sharded by hash so the same worker always owns a group.
func NewLoop(
	cfg config.IngestConfig,
	groups, ignored []string,
	readers []NewsReader,
	cursors CursorStore,
	store ReleaseStore,
	index DocIndexer,
	dedup *Deduper,
	dbBr, osBr *breaker.Breaker,
	log *slog.Logger,
) *Loop {
	return &Loop{
		cfg:        cfg,
		groups:     groups,
		ignored:    ignored,
		readers:    readers,
		cursors:    cursors,
		store:      store,
		index:      index,
		dedup:      dedup,
		dbBr:       dbBr,
		osBr:       osBr,
		log:        log.With("component", "ingest"),
		probeDelay: make(map[string]time.Duration),
		xoverFails: make(map[string]int),
		dirty:      make(map[string]struct{}),
	}
}

// groupStats is what one group contributes to the tick summary.
type groupStats struct {
	processed int
	remaining int64
	inserted  int
	dbTime    time.Duration
	osTime    time.Duration
	dbRows    int
}

// RunOnce performs one tick over all groups and returns the adaptive sleep
// for the next one.
func (l *Loop) RunOnce(ctx context.Context) time.Duration {
	tick := ksuid.New().String()
	l.ticks++

	l.purgeIgnored.Do(func() { l.dropIgnored(ctx) })
	l.replayDirty(ctx, tick)

	skip, err := l.cursors.Skippable(ctx, time.Now())
	if err != nil {
		l.log.Error("ingest_cursor_error", "tick", tick, "error", err)
		return l.cfg.PollMax
	}

	var live []string
	for _, g := range l.groups {
		if !skip[g] {
			live = append(live, g)
		}
	}

	cursors, err := l.cursors.Get(ctx, live)
	if err != nil {
		l.log.Error("ingest_cursor_error", "tick", tick, "error", err)
		return l.cfg.PollMax
	}

	shards := l.shard(live)
	var mu sync.Mutex
	total := groupStats{}

	p := pool.New().WithMaxGoroutines(len(l.readers))
	for i, shard := range shards {
		reader := l.readers[i]
		groups := shard
		p.Go(func() {
			for _, g := range groups {
				if ctx.Err() != nil {
					return
				}
				st := l.processGroup(ctx, reader, tick, g, cursors[g])
				mu.Lock()
				total.processed += st.processed
				total.remaining += st.remaining
				total.inserted += st.inserted
				total.dbTime += st.dbTime
				total.osTime += st.osTime
				total.dbRows += st.dbRows
				mu.Unlock()
			}
		})
	}
	p.Wait()

	sleep := l.adaptiveSleep(total)
	if l.cfg.LogEvery > 0 && l.ticks%l.cfg.LogEvery == 0 {
		l.log.Info("ingest_summary",
			"tick", tick,
			"groups", len(live),
			"headers", total.processed,
			"inserted", total.inserted,
			"remaining", total.remaining,
			"sleep", sleep.String())
	}
	return sleep
}

// processGroup handles one group: high-water check, XOVER, dedupe, upsert,
// index, cursor advance, irrelevance bookkeeping.
func (l *Loop) processGroup(ctx context.Context, reader NewsReader, tick, group string, last int64) groupStats {
	var st groupStats

	high := reader.HighWaterMark(group)
	if high == 0 {
		// Outage: never mark irrelevant on transport silence, just arm a
		// probe and leave the cursor where it is.
		l.scheduleProbe(ctx, group)
		return st
	}

	remaining := high - last
	if remaining < 0 {
		remaining = 0
	}
	if remaining == 0 {
		return st
	}

	batch := clamp(remaining, int64(l.cfg.BatchMin), int64(l.cfg.BatchMax))
	if l.cfg.Batch > 0 && batch > int64(l.cfg.Batch) {
		batch = int64(l.cfg.Batch)
	}

	headers, ok := reader.XOver(group, last+1, last+batch)
	if !ok {
		// Transport failure after the client's own retry: count it and skip.
		// Irrelevance is decided on observed data only.
		l.mu.Lock()
		l.xoverFails[group]++
		fails := l.xoverFails[group]
		l.mu.Unlock()
		l.log.Warn("nntp_fetch_failed", "op", "xover", "group", group, "failures", fails)
		return st
	}
	l.mu.Lock()
	delete(l.xoverFails, group)
	l.mu.Unlock()

	if len(headers) == 0 {
		// The server answered but had nothing in the window: the group has
		// no new matter for us.
		l.markIrrelevant(ctx, group)
		return st
	}
	st.processed = len(headers)
	st.remaining = remaining - int64(len(headers))
	if st.remaining < 0 {
		st.remaining = 0
	}

	releases := l.dedup.Dedupe(headers, group)

	var created []string
	dbStart := time.Now()
	err := l.dbBr.Call(ctx, func() error {
		if err := l.dedup.MergeStored(ctx, l.store, releases); err != nil {
			return err
		}
		var err error
		created, err = l.store.Upsert(ctx, releases)
		return err
	})
	st.dbTime = time.Since(dbStart)
	st.dbRows = len(releases)
	if err != nil {
		l.log.Warn("ingest_db_error", "tick", tick, "group", group, "error", err)
		return st
	}
	st.inserted = len(created)

	if len(created) > 0 {
		docs := make(map[string]search.Doc, len(created))
		byKey := make(map[string]*domain.Release, len(releases))
		for _, rel := range releases {
			byKey[rel.DedupeKey()] = rel
		}
		for _, key := range created {
			if rel, ok := byKey[key]; ok {
				docs[key] = search.DocFor(rel)
			}
		}

		osStart := time.Now()
		// Indexing may lag the store: the cursor still advances, and failed
		// docs are remembered and rebuilt from the rows on the next tick.
		if err := l.osBr.Call(ctx, func() error { return l.index.Bulk(ctx, docs) }); err != nil {
			l.log.Warn("ingest_index_error", "tick", tick, "group", group, "error", err)
			l.mu.Lock()
			for key := range docs {
				l.dirty[key] = struct{}{}
			}
			l.mu.Unlock()
		}
		st.osTime = time.Since(osStart)
	}

	if err := l.cursors.Set(ctx, group, last+int64(len(headers))); err != nil {
		l.log.Error("ingest_cursor_error", "tick", tick, "group", group, "error", err)
		return st
	}

	if st.inserted == 0 {
		l.markIrrelevant(ctx, group)
	} else {
		l.clearIrrelevant(ctx, group)
	}

	l.log.Debug("ingest_batch",
		"tick", tick,
		"group", group,
		"headers", st.processed,
		"inserted", st.inserted,
		"cursor", last+int64(len(headers)))
	return st
}

// RunForever repeats RunOnce until the context is canceled. Unknown panics
// are logged and the loop continues after the maximum poll interval.
func (l *Loop) RunForever(ctx context.Context) {
	for {
		sleep := l.safeRunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

func (l *Loop) safeRunOnce(ctx context.Context) (sleep time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("ingest_tick_panic", "panic", r)
			sleep = l.cfg.PollMax
		}
	}()
	return l.RunOnce(ctx)
}

// adaptiveSleep implements the backpressure policy: breaker-open floor,
// latency multiplier, else linear scaling with backlog.
func (l *Loop) adaptiveSleep(st groupStats) time.Duration {
	sleep := time.Duration(l.cfg.SleepMs) * time.Millisecond

	if l.dbBr.State() == breaker.Open || l.osBr.State() == breaker.Open {
		floor := time.Duration(breakerResetSeconds(l.dbBr, l.osBr) / 2 * float64(time.Second))
		if sleep < floor {
			sleep = floor
		}
		return clampDur(sleep, l.cfg.PollMin, l.cfg.PollMax)
	}

	if st.dbRows > 0 {
		avgDB := float64(st.dbTime.Milliseconds()) / float64(st.dbRows)
		avgOS := float64(st.osTime.Milliseconds()) / float64(st.dbRows)
		dbFactor := avgDB / float64(l.cfg.DBLatencyMs)
		osFactor := avgOS / float64(l.cfg.OSLatencyMs)
		if dbFactor > 1 || osFactor > 1 {
			factor := dbFactor
			if osFactor > factor {
				factor = osFactor
			}
			return clampDur(time.Duration(float64(sleep)*factor), l.cfg.PollMin, l.cfg.PollMax)
		}
	}

	// Scale with backlog: an empty backlog rests at PollMax, a deep one
	// polls at PollMin.
	work := float64(st.processed) + float64(st.remaining)
	if work == 0 {
		return l.cfg.PollMax
	}
	frac := float64(st.remaining) / work
	span := float64(l.cfg.PollMax - l.cfg.PollMin)
	return l.cfg.PollMax - time.Duration(frac*span)
}

func breakerResetSeconds(brs ...*breaker.Breaker) float64 {
	max := 0.0
	for _, b := range brs {
		if b.State() == breaker.Open && b.ResetSeconds() > max {
			max = b.ResetSeconds()
		}
	}
	return max
}

// replayDirty re-reads releases whose index write failed and bulks them
// again. The dedupe key makes the retry idempotent.
func (l *Loop) replayDirty(ctx context.Context, tick string) {
	l.mu.Lock()
	if len(l.dirty) == 0 {
		l.mu.Unlock()
		return
	}
	keys := make([]string, 0, len(l.dirty))
	for k := range l.dirty {
		keys = append(keys, k)
	}
	l.mu.Unlock()

	var rels []*domain.Release
	err := l.dbBr.Call(ctx, func() error {
		var err error
		rels, err = l.store.GetByKeys(ctx, keys)
		return err
	})
	if err != nil {
		l.log.Warn("ingest_index_replay_failed", "tick", tick, "docs", len(keys), "error", err)
		return
	}

	docs := make(map[string]search.Doc, len(rels))
	for _, rel := range rels {
		docs[rel.DedupeKey()] = search.DocFor(rel)
	}
	if err := l.osBr.Call(ctx, func() error { return l.index.Bulk(ctx, docs) }); err != nil {
		l.log.Warn("ingest_index_replay_failed", "tick", tick, "docs", len(docs), "error", err)
		return
	}

	// Keys without a backing row were pruned in the meantime; drop them too.
	l.mu.Lock()
	for _, k := range keys {
		delete(l.dirty, k)
	}
	l.mu.Unlock()
	l.log.Info("ingest_index_replayed", "tick", tick, "docs", len(docs))
}

func (l *Loop) dropIgnored(ctx context.Context) {
	for _, group := range l.ignored {
		var keys []string
		err := l.dbBr.Call(ctx, func() error {
			var err error
			keys, err = l.store.DeleteByGroup(ctx, group)
			return err
		})
		if err != nil {
			l.log.Warn("ingest_ignore_purge_failed", "group", group, "error", err)
			continue
		}
		if len(keys) > 0 {
			if err := l.osBr.Call(ctx, func() error { return l.index.DeleteByIDs(ctx, keys) }); err != nil {
				l.log.Warn("ingest_ignore_purge_failed", "group", group, "error", err)
			}
			l.log.Info("ingest_ignored_purged", "group", group, "releases", len(keys))
		}
	}
}

// scheduleProbe arms a single probe with a per-group doubling delay, so a
// dead group is touched less and less often.
func (l *Loop) scheduleProbe(ctx context.Context, group string) {
	l.mu.Lock()
	delay := l.probeDelay[group]
	if delay == 0 {
		delay = initialProbeDelay
	} else {
		delay *= 2
		if delay > maxProbeDelay {
			delay = maxProbeDelay
		}
	}
	l.probeDelay[group] = delay
	l.mu.Unlock()

	if err := l.cursors.ScheduleProbe(ctx, group, delay); err != nil {
		l.log.Warn("ingest_probe_schedule_failed", "group", group, "error", err)
	}
	l.log.Warn("nntp_fetch_failed", "group", group, "probe_in", delay.String())
}

func (l *Loop) markIrrelevant(ctx context.Context, group string) {
	if err := l.cursors.MarkIrrelevant(ctx, group, l.cfg.IrrelevantTTL); err != nil {
		l.log.Warn("ingest_mark_failed", "group", group, "error", err)
		return
	}
	l.scheduleProbe(ctx, group)
}

func (l *Loop) clearIrrelevant(ctx context.Context, group string) {
	l.mu.Lock()
	delete(l.probeDelay, group)
	l.mu.Unlock()
	if err := l.cursors.Unmark(ctx, group); err != nil {
		l.log.Warn("ingest_unmark_failed", "group", group, "error", err)
	}
}

// shard assigns each group to a fixed worker by hash, preserving cursor
// monotonicity without cross-worker coordination.
func (l *Loop) shard(groups []string) [][]string {
	w := len(l.readers)
	shards := make([][]string, w)
	for _, g := range groups {
		h := fnv.New32a()
		h.Write([]byte(g))
		i := int(h.Sum32() % uint32(w))
		shards[i] = append(shards[i], g)
	}
	return shards
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDur(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
