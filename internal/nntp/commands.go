package nntp

import (
	"errors"
	"fmt"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/datallboy/nzbidx/internal/domain"
)

// GroupInfo is the parsed GROUP response: "211 count low high name".
type GroupInfo struct {
	Name  string
	Count int64
	Low   int64
	High  int64
}

// Group selects a newsgroup and caches the selection so a following XOVER on
// the same group skips the GROUP round trip.
func (c *Client) Group(name string) (*GroupInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.groupLocked(name)
}

func (c *Client) groupLocked(name string) (*GroupInfo, error) {
	if !c.connected {
		return nil, domain.ErrNoServer
	}

	c.raw.SetDeadline(time.Now().Add(c.cfg.Timeout))
	id, err := c.conn.Cmd("GROUP %s", name)
	if err != nil {
		return nil, err
	}
	c.conn.StartResponse(id)
	defer c.conn.EndResponse(id)

	_, message, err := c.conn.ReadCodeLine(211)
	if err != nil {
		return nil, fmt.Errorf("GROUP %s: %w", name, err)
	}

	info, err := parseGroupResponse(name, message)
	if err != nil {
		return nil, err
	}
	c.curGroup = name
	return info, nil
}

// parseGroupResponse parses "count low high name" per RFC 3977.
func parseGroupResponse(name, message string) (*GroupInfo, error) {
	parts := strings.Fields(message)
	if len(parts) < 3 {
		return nil, fmt.Errorf("malformed GROUP response for %s: %q", name, message)
	}
	count, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("GROUP %s count: %w", name, err)
	}
	low, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("GROUP %s low: %w", name, err)
	}
	high, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("GROUP %s high: %w", name, err)
	}
	return &GroupInfo{Name: name, Count: count, Low: low, High: high}, nil
}

// HighWaterMark returns the highest article number in the group, or 0 when
// the server is unreachable. The ingest loop treats 0 as an outage, not as
// an empty group.
func (c *Client) HighWaterMark(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return 0
	}
	info, err := c.groupLocked(name)
	if err != nil {
		c.log.Warn("nntp_fetch_failed", "op", "group", "group", name, "error", err)
		return 0
	}
	return info.High
}

// XOver fetches overview headers for [start, end]. On a transport error it
// performs at most one in-place reconnect and retries once. The second
// return is false when no answer was observed at all, so callers can tell a
// failed fetch from a genuinely empty window.
func (c *Client) XOver(group string, start, end int64) ([]domain.Header, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, false
	}

	headers, err := c.xoverLocked(group, start, end)
	if err == nil {
		return headers, true
	}
	if isProtocolError(err) {
		// 4xx/5xx from the server, not a broken pipe. Nothing to retry.
		c.log.Warn("ingest_xover_error", "group", group, "start", start, "end", end, "error", err)
		return nil, false
	}

	c.log.Warn("ingest_xover_error", "group", group, "start", start, "end", end, "error", err, "reconnecting", true)
	if !c.reconnectInPlaceLocked() {
		return nil, false
	}
	headers, err = c.xoverLocked(group, start, end)
	if err != nil {
		c.log.Warn("ingest_xover_error", "group", group, "start", start, "end", end, "error", err)
		return nil, false
	}
	return headers, true
}

func (c *Client) xoverLocked(group string, start, end int64) ([]domain.Header, error) {
	if c.curGroup != group {
		if _, err := c.groupLocked(group); err != nil {
			return nil, err
		}
	}

	c.raw.SetDeadline(time.Now().Add(c.cfg.Timeout))
	id, err := c.conn.Cmd("XOVER %d-%d", start, end)
	if err != nil {
		return nil, err
	}
	c.conn.StartResponse(id)
	defer c.conn.EndResponse(id)

	if _, _, err := c.conn.ReadCodeLine(224); err != nil {
		return nil, fmt.Errorf("XOVER %s %d-%d: %w", group, start, end, err)
	}

	lines, err := c.conn.ReadDotLines()
	if err != nil {
		return nil, fmt.Errorf("XOVER %s read: %w", group, err)
	}

	headers := make([]domain.Header, 0, len(lines))
	var malformed int
	for _, line := range lines {
		h, err := parseOverviewLine(line)
		if err != nil {
			malformed++
			continue
		}
		headers = append(headers, h)
	}
	if malformed > 0 {
		c.log.Warn("ingest_xover_malformed", "group", group, "lines", malformed)
	}
	return headers, nil
}

// parseOverviewLine parses a single XOVER response line.
// Format: articlenum<tab>subject<tab>from<tab>date<tab>message-id<tab>references<tab>bytes<tab>lines
// Some servers label the byte count ":bytes"; the field position is what
// counts, so callers always see a plain Bytes value.
func parseOverviewLine(line string) (domain.Header, error) {
	parts := strings.Split(line, "\t")
	if len(parts) < 7 {
		return domain.Header{}, fmt.Errorf("malformed XOVER line: %s", line)
	}

	articleNum, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return domain.Header{}, fmt.Errorf("malformed article number: %s", parts[0])
	}

	rawBytes := parts[6]
	if i := strings.IndexByte(rawBytes, ':'); i >= 0 {
		rawBytes = rawBytes[i+1:] // ":bytes" / "Bytes: n" variants
	}
	size, err := strconv.ParseInt(strings.TrimSpace(rawBytes), 10, 64)
	if err != nil {
		return domain.Header{}, fmt.Errorf("malformed byte count: %s", parts[6])
	}

	return domain.Header{
		ArticleNum: articleNum,
		Subject:    parts[1],
		From:       parts[2],
		Date:       parts[3],
		MessageID:  parts[4],
		Bytes:      size,
	}, nil
}

// BodySize is best effort: HEAD for a Bytes: header, then STAT's trailing
// size, then a full BODY fetch summing line lengths. Returns 0 when the
// article cannot be measured.
func (c *Client) BodySize(messageID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return 0
	}

	msgID := messageID
	if !strings.HasPrefix(msgID, "<") {
		msgID = "<" + msgID + ">"
	}

	if n := c.headBytesLocked(msgID); n > 0 {
		return n
	}
	if n := c.statBytesLocked(msgID); n > 0 {
		return n
	}
	return c.bodyBytesLocked(msgID)
}

func (c *Client) headBytesLocked(msgID string) int64 {
	c.raw.SetDeadline(time.Now().Add(c.cfg.Timeout))
	id, err := c.conn.Cmd("HEAD %s", msgID)
	if err != nil {
		return 0
	}
	c.conn.StartResponse(id)
	defer c.conn.EndResponse(id)

	if _, _, err := c.conn.ReadCodeLine(221); err != nil {
		return 0
	}
	lines, err := c.conn.ReadDotLines()
	if err != nil {
		return 0
	}
	for _, line := range lines {
		if v, ok := strings.CutPrefix(line, "Bytes: "); ok {
			n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			return n
		}
	}
	return 0
}

func (c *Client) statBytesLocked(msgID string) int64 {
	c.raw.SetDeadline(time.Now().Add(c.cfg.Timeout))
	id, err := c.conn.Cmd("STAT %s", msgID)
	if err != nil {
		return 0
	}
	c.conn.StartResponse(id)
	defer c.conn.EndResponse(id)

	_, message, err := c.conn.ReadCodeLine(223)
	if err != nil {
		return 0
	}
	// Some providers append the byte count after the message-id.
	fields := strings.Fields(message)
	if len(fields) >= 3 {
		if n, err := strconv.ParseInt(fields[len(fields)-1], 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func (c *Client) bodyBytesLocked(msgID string) int64 {
	c.raw.SetDeadline(time.Now().Add(c.cfg.Timeout))
	id, err := c.conn.Cmd("BODY %s", msgID)
	if err != nil {
		return 0
	}
	c.conn.StartResponse(id)
	defer c.conn.EndResponse(id)

	if _, _, err := c.conn.ReadCodeLine(222); err != nil {
		return 0
	}
	lines, err := c.conn.ReadDotLines()
	if err != nil {
		return 0
	}
	var total int64
	for _, line := range lines {
		total += int64(len(line)) + 2 // CRLF on the wire
	}
	return total
}

// ListGroups enumerates newsgroups matching a wildmat pattern, used for
// auto-discovery when no explicit group list is configured.
func (c *Client) ListGroups(pattern string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}

	c.raw.SetDeadline(time.Now().Add(c.cfg.Timeout))
	id, err := c.conn.Cmd("LIST ACTIVE %s", pattern)
	if err != nil {
		return nil
	}
	c.conn.StartResponse(id)
	defer c.conn.EndResponse(id)

	if _, _, err := c.conn.ReadCodeLine(215); err != nil {
		c.log.Warn("nntp_fetch_failed", "op", "list", "pattern", pattern, "error", err)
		return nil
	}
	lines, err := c.conn.ReadDotLines()
	if err != nil {
		c.log.Warn("nntp_fetch_failed", "op", "list", "pattern", pattern, "error", err)
		return nil
	}

	groups := make([]string, 0, len(lines))
	for _, line := range lines {
		if fields := strings.Fields(line); len(fields) > 0 {
			groups = append(groups, fields[0])
		}
	}
	return groups
}

func isProtocolError(err error) bool {
	var protoErr *textproto.Error
	return errors.As(err, &protoErr)
}
