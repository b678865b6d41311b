package wire

import "errors"

// Sentinel errors surfaced by the frame codec and validator. The dispatcher
// distinguishes them to decide between a silent drop, a wire-reported
// failure, or a connection-fatal close — see §7 of the design notes.
var (
	// ErrBufferOverflow means a link's buffer could not hold the bytes being
	// written or read. On header emission this is connection-fatal; reserved
	// during capture streaming it instead triggers fragmentation.
	ErrBufferOverflow = errors.New("wire: buffer overflow")

	// ErrInvalidOpID means op_id fails opid_in_range — neither the data nor
	// the control band contains it.
	ErrInvalidOpID = errors.New("wire: op_id out of range")

	// ErrNotRecvOpcode means op_id is syntactically in range but is a
	// result-side opcode; the server never accepts result frames as
	// requests.
	ErrNotRecvOpcode = errors.New("wire: op_id is not a request opcode")

	// ErrVersionMismatch means protocol_version != NegotiatedVersion. Per
	// §4.2 this is silently dropped, never reported on the wire.
	ErrVersionMismatch = errors.New("wire: protocol_version mismatch")

	// ErrInvalidOpParam means op_param fails validate_op_param for the
	// frame's op_id.
	ErrInvalidOpParam = errors.New("wire: op_param invalid for op_id")

	// ErrInvalidJobDesc means job_desc is outside (0, JobCountPerGroupMax].
	ErrInvalidJobDesc = errors.New("wire: job_desc out of range")

	// ErrMalformed is returned by the dispatcher when header decoding fails
	// for any reason not otherwise distinguished.
	ErrMalformed = errors.New("wire: malformed frame")
)
