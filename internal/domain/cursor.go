package domain

import "time"

// Cursor is the durable per-group ingest watermark.
type Cursor struct {
	Group           string
	LastArticle     int64
	IrrelevantUntil time.Time
	ProbeAt         time.Time
}

// SkipUntil reports whether the group should be skipped at the given time.
// A scheduled probe gates the group until it fires, whether the group is
// parked as irrelevant or just recovering from an outage; without one the
// irrelevance mark alone decides.
func (c *Cursor) SkipUntil(now time.Time) bool {
	if !c.ProbeAt.IsZero() {
		return c.ProbeAt.After(now)
	}
	return c.IrrelevantUntil.After(now)
}
