package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed length, in bytes, of every CTCP frame header.
//
//	offset  size  field
//	0       1     op_id
//	1       1     op_param
//	2       2     job_desc
//	4       4     session_group_id
//	8       4     protocol_version
//	12      4     data_len
const HeaderSize = 16

// ProtocolVersion packs {major, minor, patch, tag} into the wire's 4-byte
// version field, one byte per component, major in the low byte.
type ProtocolVersion struct {
	Major uint8
	Minor uint8
	Patch uint8
	Tag   uint8
}

// Pack encodes v as the little-endian uint32 carried on the wire.
func (v ProtocolVersion) Pack() uint32 {
	return uint32(v.Major) | uint32(v.Minor)<<8 | uint32(v.Patch)<<16 | uint32(v.Tag)<<24
}

// UnpackVersion reverses ProtocolVersion.Pack.
func UnpackVersion(packed uint32) ProtocolVersion {
	return ProtocolVersion{
		Major: uint8(packed),
		Minor: uint8(packed >> 8),
		Patch: uint8(packed >> 16),
		Tag:   uint8(packed >> 24),
	}
}

// NegotiatedVersion is the only protocol_version this server accepts.
// §4.2 validate_version: a mismatch means the frame is silently dropped.
var NegotiatedVersion = ProtocolVersion{Major: 1, Minor: 0, Patch: 0, Tag: 0}

// NullSGID is the sentinel session_group_id meaning "no session group yet",
// valid only on CREATE_CONTROL_SESSION.
const NullSGID uint32 = 0

// NullJobDesc is the sentinel job_desc meaning "no job".
const NullJobDesc uint16 = 0

// ProtocolHeader is the 16-byte header present on every CTCP frame.
type ProtocolHeader struct {
	OpID            OpID
	OpParam         uint8
	JobDesc         uint16
	SessionGroupID  uint32
	ProtocolVersion uint32
	DataLen         uint32
}

// Encode writes h into buf[0:HeaderSize], fixing ProtocolVersion to
// NegotiatedVersion regardless of h's own value — the codec always emits
// the compiled-in version, it never forwards a caller-supplied one.
//
// Returns ErrBufferOverflow if buf is shorter than HeaderSize.
func (h ProtocolHeader) Encode(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrBufferOverflow
	}
	buf[0] = byte(h.OpID)
	buf[1] = h.OpParam
	binary.LittleEndian.PutUint16(buf[2:4], h.JobDesc)
	binary.LittleEndian.PutUint32(buf[4:8], h.SessionGroupID)
	binary.LittleEndian.PutUint32(buf[8:12], NegotiatedVersion.Pack())
	binary.LittleEndian.PutUint32(buf[12:16], h.DataLen)
	return nil
}

// DecodeHeader parses buf[0:HeaderSize] into a ProtocolHeader without
// applying any validation — validation is the Validator's job, kept
// separate so the dispatcher can choose how to react per failed field.
func DecodeHeader(buf []byte) (ProtocolHeader, error) {
	if len(buf) < HeaderSize {
		return ProtocolHeader{}, ErrBufferOverflow
	}
	return ProtocolHeader{
		OpID:            OpID(buf[0]),
		OpParam:         buf[1],
		JobDesc:         binary.LittleEndian.Uint16(buf[2:4]),
		SessionGroupID:  binary.LittleEndian.Uint32(buf[4:8]),
		ProtocolVersion: binary.LittleEndian.Uint32(buf[8:12]),
		DataLen:         binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// NewResponseHeader builds the header for the result frame paired with req,
// computing the result opcode via ResultOpcodeFor and carrying rc in the
// op_param byte: a response frame has no request-side op_param to report, so
// the header's second byte is repurposed as the result code, matching
// encode_header's (op_id, result_code, job_desc, sgid, data_len) signature.
// dataLen is the length of whatever operation-specific payload follows the
// header (zero for most operations; e.g. the status word for
// REQUEST_JOB_STATUS / REQUEST_SERVER_STATUS, or the item data for a
// captured-data fragment).
//
// jobDesc is taken as an explicit argument rather than echoed from req
// because CREATE_JOB_SESSION's response must report the descriptor the
// server just allocated, which the request never carried.
func NewResponseHeader(req ProtocolHeader, sgid uint32, jobDesc uint16, rc ResultCode, dataLen uint32) ProtocolHeader {
	return ProtocolHeader{
		OpID:           ResultOpcodeFor(req.OpID),
		OpParam:        uint8(rc),
		JobDesc:        jobDesc,
		SessionGroupID: sgid,
		DataLen:        dataLen,
	}
}

// ResultCodeOf extracts the result code a response header carries in its
// op_param byte.
func ResultCodeOf(h ProtocolHeader) ResultCode {
	return ResultCode(h.OpParam)
}

// String renders a header for logging.
func (h ProtocolHeader) String() string {
	return fmt.Sprintf("{op=%s(%d) op_param=%d job_desc=%d sgid=%d data_len=%d}",
		h.OpID, h.OpID, h.OpParam, h.JobDesc, h.SessionGroupID, h.DataLen)
}
