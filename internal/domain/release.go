package domain

import (
	"fmt"
	"sort"
	"time"
)

// Release is the logical aggregate of one or more Usenet articles that form
// a single downloadable item. Identity is (NormTitle, CategoryID, PostedAt day).
type Release struct {
	NormTitle   string     `json:"norm_title"`
	CategoryID  int        `json:"category_id"`
	PostedAt    *time.Time `json:"posted_at"`
	Language    string     `json:"language"`
	Tags        []string   `json:"tags"`
	SourceGroup string     `json:"source_group"`
	SizeBytes   int64      `json:"size_bytes"`
	Segments    []Segment  `json:"segments"`
}

// Segment is one article that contributes to a Release.
type Segment struct {
	Number    int    `json:"number"`
	MessageID string `json:"message_id"`
	Group     string `json:"group"`
	Bytes     int64  `json:"size"`
}

// LanguageUnknown is stored when no language could be determined.
const LanguageUnknown = "und"

// DedupeKey collapses multi-part postings: "{norm_title}:{yyyy-mm-dd}",
// falling back to the bare title when the posting date is unknown.
func (r *Release) DedupeKey() string {
	return MakeDedupeKey(r.NormTitle, r.PostedAt)
}

// MakeDedupeKey builds the dedupe key without needing a full Release value.
func MakeDedupeKey(normTitle string, postedAt *time.Time) string {
	if postedAt == nil {
		return normTitle
	}
	return fmt.Sprintf("%s:%s", normTitle, postedAt.UTC().Format("2006-01-02"))
}

// PostedDay truncates the posting time to its UTC day, the granularity at
// which releases are identified. Nil when the posting date is unknown.
func (r *Release) PostedDay() *time.Time {
	if r.PostedAt == nil {
		return nil
	}
	y, m, d := r.PostedAt.UTC().Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &day
}

// HasParts is true iff at least one segment is known.
func (r *Release) HasParts() bool { return len(r.Segments) > 0 }

// PartCount is the number of distinct segment numbers.
func (r *Release) PartCount() int {
	seen := make(map[int]struct{}, len(r.Segments))
	for _, s := range r.Segments {
		seen[s.Number] = struct{}{}
	}
	return len(seen)
}

// AddSegment appends a segment unless one with the same (number, message_id)
// is already present. Returns true when the segment was added.
func (r *Release) AddSegment(seg Segment) bool {
	for _, s := range r.Segments {
		if s.Number == seg.Number && s.MessageID == seg.MessageID {
			return false
		}
	}
	r.Segments = append(r.Segments, seg)
	return true
}

// SortSegments orders the segment list by part number. The store persists
// segments in this order so NZB synthesis does not need to re-sort.
func (r *Release) SortSegments() {
	sort.Slice(r.Segments, func(i, j int) bool {
		return r.Segments[i].Number < r.Segments[j].Number
	})
}
