package nntp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGroupResponse(t *testing.T) {
	info, err := parseGroupResponse("alt.binaries.movies", "1234 3000234 4002345 alt.binaries.movies")
	require.NoError(t, err)
	assert.Equal(t, int64(1234), info.Count)
	assert.Equal(t, int64(3000234), info.Low)
	assert.Equal(t, int64(4002345), info.High)

	_, err = parseGroupResponse("g", "garbage")
	assert.Error(t, err)
}

func TestParseOverviewLine(t *testing.T) {
	line := "4002345\tAwesome.Film.2024.1080p.BluRay.x264 (1/1)\tposter@example.com\tMon, 01 Jan 2024 00:00:00 +0000\t<m1@post>\t\t456\t12"

	h, err := parseOverviewLine(line)
	require.NoError(t, err)
	assert.Equal(t, int64(4002345), h.ArticleNum)
	assert.Equal(t, "Awesome.Film.2024.1080p.BluRay.x264 (1/1)", h.Subject)
	assert.Equal(t, "<m1@post>", h.MessageID)
	assert.Equal(t, int64(456), h.Bytes)
}

func TestParseOverviewLineByteVariants(t *testing.T) {
	// Some servers emit the metadata field name with the value.
	line := "1\tsubj\tfrom\tdate\t<id>\trefs\tBytes: 789\t10"
	h, err := parseOverviewLine(line)
	require.NoError(t, err)
	assert.Equal(t, int64(789), h.Bytes)
}

func TestParseOverviewLineMalformed(t *testing.T) {
	_, err := parseOverviewLine("too\tfew\tfields")
	assert.Error(t, err)

	_, err = parseOverviewLine("notanum\ts\tf\td\t<id>\tr\t100\t1")
	assert.Error(t, err)

	// An unreadable byte count is an error, not a silent zero-size header.
	_, err = parseOverviewLine("1\ts\tf\td\t<id>\tr\tnotbytes\t1")
	assert.Error(t, err)
}
