// Package ingest drives the NNTP harvest: it pulls overview batches, folds
// them into release aggregates, and hands them to the store and the search
// index.
package ingest

import (
	"context"
	"log/slog"

	"github.com/datallboy/nzbidx/internal/domain"
	"github.com/datallboy/nzbidx/internal/nzb"
	"github.com/datallboy/nzbidx/internal/parser"
)

// SegmentSource supplies previously stored segment lists so parts seen in
// earlier batches merge instead of duplicating.
type SegmentSource interface {
	GetSegments(ctx context.Context, dedupeKeys []string) (map[string][]domain.Segment, error)
}

// Deduper folds one XOVER batch from one group into release aggregates
// keyed by dedupe key.
type Deduper struct {
	parse       *parser.Parser
	infer       *parser.Inferencer
	validate    bool
	maxReleases int
	log         *slog.Logger
}

func NewDeduper(p *parser.Parser, inf *parser.Inferencer, validate bool, maxReleases int, log *slog.Logger) *Deduper {
	return &Deduper{
		parse:       p,
		infer:       inf,
		validate:    validate,
		maxReleases: maxReleases,
		log:         log.With("component", "deduper"),
	}
}

// Dedupe is idempotent: the same batch twice yields the same aggregates.
func (d *Deduper) Dedupe(headers []domain.Header, group string) []*domain.Release {
	byKey := make(map[string]*domain.Release)
	var order []string

	for _, h := range headers {
		parsed := d.parse.Parse(h.Subject)
		if parsed.NormTitle == "" {
			d.log.Warn("ingest_subject_unparseable", "group", group, "subject", domain.CleanText(h.Subject))
			continue
		}

		postedAt := h.PostedAt()
		key := domain.MakeDedupeKey(parsed.NormTitle, postedAt)

		rel, ok := byKey[key]
		if !ok {
			if d.maxReleases > 0 && len(byKey) >= d.maxReleases {
				d.log.Warn("ingest_batch_release_cap", "group", group, "cap", d.maxReleases)
				continue
			}
			rel = &domain.Release{
				NormTitle:   parsed.NormTitle,
				CategoryID:  d.infer.Infer(h.Subject, parsed.Tags, group),
				PostedAt:    postedAt,
				Language:    domain.LanguageUnknown,
				SourceGroup: group,
			}
			byKey[key] = rel
			order = append(order, key)
		}

		// Keep the earliest posting time within the day bucket.
		if postedAt != nil && (rel.PostedAt == nil || postedAt.Before(*rel.PostedAt)) {
			rel.PostedAt = postedAt
		}
		if rel.Language == domain.LanguageUnknown && parsed.Language != "" {
			rel.Language = parsed.Language
		}
		rel.Tags = unionTags(rel.Tags, parsed.Tags)
		if parsed.Extension != "" {
			rel.Tags = unionTags(rel.Tags, []string{parsed.Extension})
		}

		seg := domain.Segment{
			Number:    parsed.SegmentNumber,
			MessageID: domain.CleanMessageID(h.MessageID),
			Group:     group,
			Bytes:     h.Bytes,
		}
		if d.validate {
			if err := nzb.ValidateSegments([]domain.Segment{seg}); err != nil {
				d.log.Warn("ingest_segment_invalid", "norm_title", rel.NormTitle, "error", err)
				continue
			}
		}
		rel.AddSegment(seg)
	}

	out := make([]*domain.Release, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}

// MergeStored folds previously persisted segments into the batch aggregates,
// enforcing uniqueness by part number, then finalizes sizes and ordering.
func (d *Deduper) MergeStored(ctx context.Context, src SegmentSource, releases []*domain.Release) error {
	keys := make([]string, 0, len(releases))
	for _, rel := range releases {
		keys = append(keys, rel.DedupeKey())
	}

	stored, err := src.GetSegments(ctx, keys)
	if err != nil {
		return err
	}

	for _, rel := range releases {
		have := make(map[int]struct{}, len(rel.Segments))
		for _, s := range rel.Segments {
			have[s.Number] = struct{}{}
		}
		for _, s := range stored[rel.DedupeKey()] {
			if _, ok := have[s.Number]; ok {
				continue
			}
			have[s.Number] = struct{}{}
			rel.Segments = append(rel.Segments, s)
		}
		Finalize(rel)
	}
	return nil
}

// Finalize recomputes the size from the segment list and sorts it. Summing
// segments rather than headers keeps duplicate parts from inflating sizes.
func Finalize(rel *domain.Release) {
	var total int64
	for _, s := range rel.Segments {
		total += s.Bytes
	}
	rel.SizeBytes = total
	rel.SortSegments()
}

func unionTags(have, add []string) []string {
	seen := make(map[string]struct{}, len(have))
	for _, t := range have {
		seen[t] = struct{}{}
	}
	for _, t := range add {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		have = append(have, t)
	}
	return have
}
