package nzb

import (
	"fmt"
	"strings"

	"github.com/datallboy/nzbidx/internal/domain"
)

// ValidateSegments checks the structural shape of a segment list before it
// is rendered or persisted: positive number, non-empty group, positive
// size, and a message-id free of angle brackets and surrogate code points.
func ValidateSegments(segs []domain.Segment) error {
	for i, seg := range segs {
		if seg.Number < 1 {
			return fmt.Errorf("%w: segment %d has number %d", domain.ErrSegmentSchema, i, seg.Number)
		}
		if seg.MessageID == "" {
			return fmt.Errorf("%w: segment %d has empty message_id", domain.ErrSegmentSchema, i)
		}
		if strings.ContainsAny(seg.MessageID, "<>") {
			return fmt.Errorf("%w: segment %d message_id contains angle brackets", domain.ErrSegmentSchema, i)
		}
		if domain.CleanText(seg.MessageID) != seg.MessageID {
			return fmt.Errorf("%w: segment %d message_id contains unencodable characters", domain.ErrSegmentSchema, i)
		}
		if seg.Group == "" {
			return fmt.Errorf("%w: segment %d has empty group", domain.ErrSegmentSchema, i)
		}
		if seg.Bytes < 1 {
			return fmt.Errorf("%w: segment %d has non-positive size", domain.ErrSegmentSchema, i)
		}
	}
	return nil
}
