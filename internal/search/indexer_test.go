package search

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datallboy/nzbidx/internal/domain"
)

func TestBuildBulkBody(t *testing.T) {
	docs := map[string]Doc{
		"title a:2024-01-01": {NormTitle: "title a", Category: 2050, SizeBytes: 300},
	}

	body, err := buildBulkBody(docs)
	require.NoError(t, err)

	sc := bufio.NewScanner(bytes.NewReader(body))

	require.True(t, sc.Scan())
	var action map[string]map[string]string
	require.NoError(t, json.Unmarshal(sc.Bytes(), &action))
	assert.Equal(t, Alias, action["index"]["_index"])
	assert.Equal(t, "title a:2024-01-01", action["index"]["_id"])

	require.True(t, sc.Scan())
	var doc Doc
	require.NoError(t, json.Unmarshal(sc.Bytes(), &doc))
	assert.Equal(t, "title a", doc.NormTitle)
	assert.Equal(t, 2050, doc.Category)

	// NDJSON: exactly two lines per entry, newline terminated.
	assert.False(t, sc.Scan())
	assert.Equal(t, byte('\n'), body[len(body)-1])
}

func TestDocFor(t *testing.T) {
	posted := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	rel := &domain.Release{
		NormTitle:   "awesome film 2024",
		CategoryID:  2040,
		PostedAt:    &posted,
		Language:    "en",
		Tags:        []string{"1080p"},
		SourceGroup: "alt.binaries.movies",
		SizeBytes:   100,
		Segments: []domain.Segment{
			{Number: 1, MessageID: "m1", Group: "g", Bytes: 50},
			{Number: 1, MessageID: "m1b", Group: "g", Bytes: 50},
			{Number: 2, MessageID: "m2", Group: "g", Bytes: 50},
		},
	}

	doc := DocFor(rel)
	assert.Equal(t, "awesome film 2024", doc.NormTitle)
	assert.True(t, doc.HasParts)
	assert.Equal(t, 2, doc.PartCount) // distinct numbers, not raw length
}
