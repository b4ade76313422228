package domain

import "time"

// Header is one parsed XOVER overview line.
// Format on the wire: articlenum<tab>subject<tab>from<tab>date<tab>message-id<tab>references<tab>bytes<tab>lines
type Header struct {
	ArticleNum int64
	Subject    string
	From       string
	Date       string
	MessageID  string
	Bytes      int64
}

// xoverDateFormats covers the date styles seen in the wild. RFC 5322 allows
// more than RFC 1123; older clients omit the seconds or the zone name.
var xoverDateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"Mon, 02 Jan 2006 15:04 -0700",
}

// PostedAt parses the overview date. Returns nil when no known format matches.
func (h *Header) PostedAt() *time.Time {
	for _, layout := range xoverDateFormats {
		if t, err := time.Parse(layout, h.Date); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}
