package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datallboy/nzbidx/internal/app"
	"github.com/datallboy/nzbidx/internal/breaker"
	"github.com/datallboy/nzbidx/internal/cache"
	"github.com/datallboy/nzbidx/internal/domain"
	"github.com/datallboy/nzbidx/internal/infra/config"
	"github.com/datallboy/nzbidx/internal/search"
)

type fakeSearch struct {
	hits []search.Hit
	err  error
}

func (f *fakeSearch) Search(_ context.Context, _ search.Query) ([]search.Hit, int64, error) {
	return f.hits, int64(len(f.hits)), f.err
}

type fakeBrowser struct {
	releases []*domain.Release
	total    int64
}

func (f *fakeBrowser) Browse(_ context.Context, _ []int, _, _ int) ([]*domain.Release, int64, error) {
	return f.releases, f.total, nil
}

type fakeNZB struct {
	xml map[string][]byte
	err error
}

func (f *fakeNZB) Build(_ context.Context, key string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.xml[key]
	if !ok {
		return nil, domain.ErrReleaseNotFound
	}
	return data, nil
}

func testApp(t *testing.T) *app.Context {
	t.Helper()
	cfg := &config.Config{}
	cfg.API.Title = "nzbidx"
	cfg.API.APIKeys = []string{"secret"}
	cfg.API.RateLimit = 100
	cfg.API.RateWindow = time.Minute
	cfg.Category.AllowXXX = true
	cfg.Retention.Days = 1100

	brCfg := config.BreakerConfig{FailureThreshold: 5, ResetSeconds: 30}
	return &app.Context{
		Config:        cfg,
		Logger:        slog.Default(),
		Search:        &fakeSearch{},
		Store:         &fakeBrowser{},
		NZB:           &fakeNZB{xml: map[string][]byte{}},
		Cache:         cache.NewMemory(),
		DBBreaker:     breaker.New("db", brCfg, slog.Default()),
		SearchBreaker: breaker.New("search", brCfg, slog.Default()),
	}
}

func doRequest(e http.Handler, url string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCapsNeedsNoKey(t *testing.T) {
	e := NewServer(testApp(t))
	rec := doRequest(e, "/api?t=caps")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<categories>`)
	assert.Contains(t, rec.Body.String(), `name="Movies"`)
}

func TestSearchRequiresAPIKey(t *testing.T) {
	e := NewServer(testApp(t))

	rec := doRequest(e, "/api?t=search&q=test")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unauthorized", body.Error.Code)
}

func TestSearchRendersRSS(t *testing.T) {
	appCtx := testApp(t)
	posted := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	appCtx.Search = &fakeSearch{hits: []search.Hit{{
		DedupeKey: "awesome film 2024:2024-01-01",
		Doc: search.Doc{
			NormTitle: "awesome film 2024",
			Category:  2050,
			SizeBytes: 456,
			PostedAt:  &posted,
		},
	}}}

	e := NewServer(appCtx)
	rec := doRequest(e, "/api?t=search&q=awesome&apikey=secret")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<title>awesome film 2024</title>")
	assert.Contains(t, body, `total="1"`)
	assert.Contains(t, body, "Movies/BluRay")
	assert.Contains(t, body, "application/x-nzb")
}

func TestBrowseReportsRealTotal(t *testing.T) {
	appCtx := testApp(t)
	posted := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	appCtx.Store = &fakeBrowser{
		releases: []*domain.Release{{NormTitle: "recent thing", CategoryID: 5040, PostedAt: &posted}},
		total:    7,
	}

	e := NewServer(appCtx)
	rec := doRequest(e, "/api?t=search&apikey=secret")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<title>recent thing</title>")
	// The total reflects the whole result set, not the page served.
	assert.Contains(t, body, `total="7"`)
}

func TestUnknownTypeRejected(t *testing.T) {
	e := NewServer(testApp(t))
	rec := doRequest(e, "/api?t=bogus&apikey=secret")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_params")
}

func TestRateLimitEnvelope(t *testing.T) {
	appCtx := testApp(t)
	appCtx.Config.API.RateLimit = 2
	e := NewServer(appCtx)

	for i := 0; i < 2; i++ {
		rec := doRequest(e, "/api?t=search&q=x&apikey=secret")
		require.Equal(t, http.StatusOK, rec.Code, "call %d", i+1)
	}

	rec := doRequest(e, "/api?t=search&q=x&apikey=secret")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limited")
}

func TestGetNZBServesAndCaches(t *testing.T) {
	appCtx := testApp(t)
	nzbData := []byte(`<?xml version="1.0" encoding="UTF-8"?><nzb/>`)
	fake := &fakeNZB{xml: map[string][]byte{"rel:2024-01-01": nzbData}}
	appCtx.NZB = fake

	e := NewServer(appCtx)
	rec := doRequest(e, "/api?t=getnzb&id=rel%3A2024-01-01&apikey=secret")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-nzb", rec.Header().Get("Content-Type"))
	assert.Equal(t, nzbData, rec.Body.Bytes())

	// Second fetch is served from cache even if the builder breaks.
	fake.err = fmt.Errorf("db down")
	rec = doRequest(e, "/api?t=getnzb&id=rel%3A2024-01-01&apikey=secret")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, nzbData, rec.Body.Bytes())
}

func TestGetNZBNotFound(t *testing.T) {
	e := NewServer(testApp(t))
	rec := doRequest(e, "/api?t=getnzb&id=missing&apikey=secret")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetNZBFailureSentinel(t *testing.T) {
	appCtx := testApp(t)
	appCtx.NZB = &fakeNZB{err: fmt.Errorf("bad segments: %w", domain.ErrSegmentsEmpty)}
	e := NewServer(appCtx)

	rec := doRequest(e, "/api?t=getnzb&id=empty&apikey=secret")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "nzb_unavailable")

	// The failure is now cached; the builder is not consulted again.
	appCtx.NZB = &fakeNZB{xml: map[string][]byte{"empty": []byte("<nzb/>")}}
	rec = doRequest(e, "/api?t=getnzb&id=empty&apikey=secret")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSafeSearchHidesAdult(t *testing.T) {
	appCtx := testApp(t)
	appCtx.Config.Category.AllowXXX = false
	appCtx.Search = &fakeSearch{hits: []search.Hit{{DedupeKey: "x", Doc: search.Doc{Category: 6040}}}}

	e := NewServer(appCtx)

	// Requesting only adult categories yields an empty result set, not an
	// upstream query.
	rec := doRequest(e, "/api?t=search&q=x&cat=6000&apikey=secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<item>")

	// Caps hides the adult tree.
	rec = doRequest(e, "/api?t=caps")
	assert.NotContains(t, rec.Body.String(), `name="XXX"`)
}
