package nzb

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/datallboy/nzbidx/internal/domain"
)

// ReleaseSource is what the builder needs from the release store.
type ReleaseSource interface {
	GetRelease(ctx context.Context, dedupeKey string) (*domain.Release, error)
}

// FetchError wraps everything that can go wrong while synthesizing an NZB
// for a dedupe key. Unwrap exposes the underlying sentinel so callers can
// distinguish "not found" from "malformed" from transport failures.
type FetchError struct {
	Key string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("nzb fetch %q: %v", e.Key, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

type Builder struct {
	store ReleaseSource
	log   *slog.Logger
}

func NewBuilder(store ReleaseSource, log *slog.Logger) *Builder {
	return &Builder{store: store, log: log.With("component", "nzb")}
}

// Build synthesizes the NZB document for a release. Segments are ordered by
// part number and message-ids rendered without angle brackets.
func (b *Builder) Build(ctx context.Context, dedupeKey string) ([]byte, error) {
	rel, err := b.store.GetRelease(ctx, dedupeKey)
	if err != nil {
		return nil, &FetchError{Key: dedupeKey, Err: err}
	}
	if len(rel.Segments) == 0 {
		return nil, &FetchError{Key: dedupeKey, Err: domain.ErrSegmentsEmpty}
	}
	if err := ValidateSegments(rel.Segments); err != nil {
		return nil, &FetchError{Key: dedupeKey, Err: err}
	}

	out, err := Render(rel)
	if err != nil {
		return nil, &FetchError{Key: dedupeKey, Err: err}
	}
	return out, nil
}

// Render emits the XML for a release whose segments already passed
// validation.
func Render(rel *domain.Release) ([]byte, error) {
	segs := make([]domain.Segment, len(rel.Segments))
	copy(segs, rel.Segments)
	sort.Slice(segs, func(i, j int) bool { return segs[i].Number < segs[j].Number })

	file := File{
		Subject: rel.NormTitle,
		Groups:  groupsOf(segs),
	}
	for _, s := range segs {
		file.Segments = append(file.Segments, Segment{
			Bytes:     s.Bytes,
			Number:    s.Number,
			MessageID: strings.Trim(s.MessageID, "<>"),
		})
	}

	body, err := xml.MarshalIndent(Model{Xmlns: xmlns, Files: []File{file}}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render nzb: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// Parse reads an NZB document back into segment records. Used by tests and
// by the admin import path.
func Parse(data []byte) ([]domain.Segment, error) {
	var m Model
	if err := xml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse nzb: %w", err)
	}
	var segs []domain.Segment
	for _, f := range m.Files {
		group := ""
		if len(f.Groups) > 0 {
			group = f.Groups[0]
		}
		for _, s := range f.Segments {
			segs = append(segs, domain.Segment{
				Number:    s.Number,
				MessageID: s.MessageID,
				Group:     group,
				Bytes:     s.Bytes,
			})
		}
	}
	return segs, nil
}

func groupsOf(segs []domain.Segment) []string {
	seen := make(map[string]struct{})
	var groups []string
	for _, s := range segs {
		if _, ok := seen[s.Group]; ok {
			continue
		}
		seen[s.Group] = struct{}{}
		groups = append(groups, s.Group)
	}
	return groups
}
