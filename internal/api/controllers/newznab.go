package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/datallboy/nzbidx/internal/app"
	"github.com/datallboy/nzbidx/internal/domain"
	"github.com/datallboy/nzbidx/internal/nzb"
	"github.com/datallboy/nzbidx/internal/search"
)

const (
	maxPageSize     = 100
	defaultPageSize = 50
)

type NewznabController struct {
	App *app.Context
}

// Handle is the Newznab entry point: /api?t=...
func (ctrl *NewznabController) Handle(c *echo.Context) error {
	switch c.QueryParam("t") {
	case "caps":
		return ctrl.handleCaps(c)
	case "search", "tvsearch", "movie", "music", "book":
		return ctrl.handleSearch(c)
	case "getnzb", "get":
		return ctrl.HandleDownload(c)
	default:
		return Fail(c, http.StatusBadRequest, "invalid_params", "unknown t parameter")
	}
}

// Fail writes the JSON error envelope every failure path shares.
func Fail(c *echo.Context, status int, code, message string) error {
	return c.JSON(status, ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}

func (ctrl *NewznabController) handleCaps(c *echo.Context) error {
	caps := NewznabCaps{
		Server:    ServerInfo{Version: "1.0", Title: ctrl.App.Config.API.Title},
		Limits:    Limits{Max: maxPageSize, Default: defaultPageSize},
		Retention: Retention{Days: ctrl.App.Config.Retention.Days},
		Searching: Searching{
			Search:      SearchCap{Available: "yes", SupportedParams: "q,cat,limit,offset"},
			TVSearch:    SearchCap{Available: "yes", SupportedParams: "q,cat,limit,offset"},
			MovieSearch: SearchCap{Available: "yes", SupportedParams: "q,cat,limit,offset"},
			AudioSearch: SearchCap{Available: "yes", SupportedParams: "q,cat,limit,offset"},
			BookSearch:  SearchCap{Available: "yes", SupportedParams: "q,cat,limit,offset"},
		},
	}
	for _, top := range nzb.Tree() {
		if ctrl.hideAdult() && top.ID == 6000 {
			continue
		}
		cat := CapCategory{ID: top.ID, Name: top.Name}
		for _, sub := range top.Subs {
			cat.SubCats = append(cat.SubCats, CapSubCat{ID: sub.ID, Name: sub.Name})
		}
		caps.Categories = append(caps.Categories, cat)
	}
	return c.XML(http.StatusOK, caps)
}

// item is the common projection of a search hit or a browsed row.
type item struct {
	key      string
	title    string
	category int
	size     int64
	posted   *time.Time
	language string
	group    string
	parts    int
}

func (ctrl *NewznabController) handleSearch(c *echo.Context) error {
	limit, err := intParam(c, "limit", defaultPageSize)
	if err != nil || limit < 1 {
		return Fail(c, http.StatusBadRequest, "invalid_params", "bad limit")
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err := intParam(c, "offset", 0)
	if err != nil || offset < 0 {
		return Fail(c, http.StatusBadRequest, "invalid_params", "bad offset")
	}

	cats, err := parseCategories(c.QueryParam("cat"))
	if err != nil {
		return Fail(c, http.StatusBadRequest, "invalid_params", "bad cat")
	}
	cats, impossible := ctrl.adjustCategories(c.QueryParam("t"), cats)
	if impossible {
		return c.XML(http.StatusOK, ctrl.renderRSS(c, nil, 0, 0, false))
	}

	query := c.QueryParam("q")
	extended := c.QueryParam("extended") == "1"

	var items []item
	var total int64
	if query == "" {
		// Browsing has no text to score; serve it straight from the store.
		var releases []*domain.Release
		err = ctrl.App.DBBreaker.Call(c.Request().Context(), func() error {
			var err error
			releases, total, err = ctrl.App.Store.Browse(c.Request().Context(), cats, limit, offset)
			return err
		})
		for _, rel := range releases {
			items = append(items, item{
				key:      rel.DedupeKey(),
				title:    rel.NormTitle,
				category: rel.CategoryID,
				size:     rel.SizeBytes,
				posted:   rel.PostedAt,
				language: rel.Language,
				group:    rel.SourceGroup,
				parts:    rel.PartCount(),
			})
		}
	} else {
		var hits []search.Hit
		err = ctrl.App.SearchBreaker.Call(c.Request().Context(), func() error {
			var err error
			hits, total, err = ctrl.App.Search.Search(c.Request().Context(), search.Query{
				Text:       query,
				Categories: cats,
				Limit:      limit,
				Offset:     offset,
			})
			return err
		})
		for _, h := range hits {
			items = append(items, item{
				key:      h.DedupeKey,
				title:    h.Doc.NormTitle,
				category: h.Doc.Category,
				size:     h.Doc.SizeBytes,
				posted:   h.Doc.PostedAt,
				language: h.Doc.Language,
				group:    h.Doc.SourceGroup,
				parts:    h.Doc.PartCount,
			})
		}
	}
	if err != nil {
		return ctrl.failUpstream(c, err)
	}

	return c.XML(http.StatusOK, ctrl.renderRSS(c, items, total, offset, extended))
}

func (ctrl *NewznabController) renderRSS(c *echo.Context, items []item, total int64, offset int, extended bool) NewznabRSS {
	baseURL := fmt.Sprintf("%s://%s", c.Scheme(), c.Request().Host)

	rss := NewznabRSS{
		Version: "2.0",
		NS:      "http://www.newznab.com/DTD/2010/feeds/attributes/",
		Channel: Channel{
			Title:       ctrl.App.Config.API.Title,
			Description: ctrl.App.Config.API.Title + " search results",
			Link:        baseURL,
			Response:    Response{Offset: offset, Total: total},
			Items:       make([]RSSItem, 0, len(items)),
		},
	}

	for _, it := range items {
		link := fmt.Sprintf("%s/api?t=getnzb&id=%s", baseURL, url.QueryEscape(it.key))
		attrs := []Attr{
			{Name: "category", Value: strconv.Itoa(it.category)},
			{Name: "size", Value: strconv.FormatInt(it.size, 10)},
		}
		if extended {
			attrs = append(attrs,
				Attr{Name: "language", Value: it.language},
				Attr{Name: "group", Value: it.group},
				Attr{Name: "files", Value: strconv.Itoa(it.parts)},
			)
		}

		ri := RSSItem{
			Title:      it.title,
			GUID:       RSSGUID{Value: it.key},
			Link:       link,
			Category:   nzb.CategoryName(it.category),
			Enclosure:  Enclosure{URL: link, Length: it.size, Type: "application/x-nzb"},
			Attributes: attrs,
		}
		if it.posted != nil {
			ri.PubDate = it.posted.Format(http.TimeFormat)
		}
		rss.Channel.Items = append(rss.Channel.Items, ri)
	}
	return rss
}

// HandleDownload serves the synthesized NZB, cache first.
func (ctrl *NewznabController) HandleDownload(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		id = c.QueryParam("id")
	}
	if id == "" {
		return Fail(c, http.StatusBadRequest, "invalid_params", "missing id")
	}

	ctx := c.Request().Context()
	if xml, failed, ok := ctrl.App.Cache.Get(ctx, id); ok {
		if failed {
			return Fail(c, http.StatusServiceUnavailable, "nzb_unavailable", "nzb synthesis recently failed")
		}
		ctrl.App.Logger.Debug("nzb_cache_hit_total", "key", id)
		return ctrl.serveNZB(c, id, xml)
	}

	var data []byte
	err := ctrl.App.DBBreaker.Call(ctx, func() error {
		var err error
		data, err = ctrl.App.NZB.Build(ctx, id)
		return err
	})
	switch {
	case err == nil:
		ctrl.App.Cache.Put(ctx, id, data)
		return ctrl.serveNZB(c, id, data)
	case errors.Is(err, domain.ErrCircuitOpen):
		return Fail(c, http.StatusServiceUnavailable, "breaker_open", "database unavailable")
	case errors.Is(err, domain.ErrReleaseNotFound):
		return Fail(c, http.StatusNotFound, "not_found", "no release for id")
	case errors.Is(err, domain.ErrSegmentsEmpty), errors.Is(err, domain.ErrSegmentSchema):
		ctrl.App.Cache.PutFailure(ctx, id)
		return Fail(c, http.StatusServiceUnavailable, "nzb_unavailable", "release has no usable segments")
	default:
		return ctrl.failUpstream(c, err)
	}
}

func (ctrl *NewznabController) serveNZB(c *echo.Context, id string, data []byte) error {
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", id+".nzb"))
	return c.Blob(http.StatusOK, "application/x-nzb", data)
}

func (ctrl *NewznabController) failUpstream(c *echo.Context, err error) error {
	if errors.Is(err, domain.ErrCircuitOpen) {
		return Fail(c, http.StatusServiceUnavailable, "breaker_open", "upstream unavailable")
	}
	ctrl.App.Logger.Error("api_5xx_total", "path", c.Request().URL.Path, "error", err)
	return Fail(c, http.StatusInternalServerError, "internal", "internal error")
}

func (ctrl *NewznabController) hideAdult() bool {
	cfg := ctrl.App.Config.Category
	return cfg.SafeSearch || !cfg.AllowXXX
}

// adjustCategories applies the per-endpoint default neighborhood and the
// adult-content policy. impossible reports that the request asked only for
// categories the policy hides, so the result set is empty by construction.
func (ctrl *NewznabController) adjustCategories(t string, cats []int) (out []int, impossible bool) {
	if len(cats) == 0 {
		switch t {
		case "tvsearch":
			cats = []int{5000}
		case "movie":
			cats = []int{2000}
		case "music":
			cats = []int{3000}
		case "book":
			cats = []int{7000}
		}
	}

	if !ctrl.hideAdult() {
		return cats, false
	}
	if len(cats) == 0 {
		// No filter requested: restrict to the non-adult tops.
		return []int{2000, 3000, 5000, 7000}, false
	}
	for _, c := range cats {
		if c >= 6000 && c < 7000 {
			continue
		}
		out = append(out, c)
	}
	return out, len(out) == 0
}

func intParam(c *echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func parseCategories(raw string) ([]int, error) {
	if raw == "" {
		return nil, nil
	}
	var cats []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		cats = append(cats, id)
	}
	return cats, nil
}
