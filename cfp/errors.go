package cfp

import "github.com/pkg/errors"

// Sentinel errors for the codec's failure taxonomy. All are fatal for the
// call that raised them; the codec never retries internally. Match with
// errors.Is.
var (
	// ErrFormat reports a header or framing inconsistency: shapes missing
	// or non-positive, unknown coding mode byte, mismatched feature-set
	// shapes.
	ErrFormat = errors.New("bitstream format violation")

	// ErrCodecLimit reports that channel clustering produced more groups
	// than the one-byte group-id encoding can carry.
	ErrCodecLimit = errors.New("channel cluster count exceeds one-byte coding limit")

	// ErrStreamTruncated reports a decode read past the end of the
	// bitstream, usually a corrupted or desynchronized stream.
	ErrStreamTruncated = errors.New("bitstream ends before declared data")

	// ErrInvalidState reports a coding step invoked without the state it
	// depends on, e.g. inter coding without a primed reconstruction
	// buffer. This is a caller bug, not a data error.
	ErrInvalidState = errors.New("invalid codec state")
)
