package logger

import (
	"log/slog"
)

// Standard field keys for structured logging across the ctcpd server.
// Use these keys consistently across all log statements so fields line up
// in log aggregation and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // correlation ID assigned at connection accept

	// ========================================================================
	// Protocol & Operation
	// ========================================================================
	KeyOperation  = "operation"   // opcode name: CREATE_CONTROL_SESSION, START_CAPTURE, etc.
	KeyOpID       = "op_id"       // raw wire opcode byte
	KeyOpParam    = "op_param"    // raw wire op_param byte
	KeyResultCode = "result_code" // wire result code returned to the client

	// ========================================================================
	// Session & Job Identification
	// ========================================================================
	KeySessionGroupID = "session_group_id" // control session group identifier
	KeyJobDesc        = "job_desc"         // job descriptor within a session group
	KeyJobState       = "job_state"        // CREATED, PREPARED, RUNNING, STOPPED, CLOSED

	// ========================================================================
	// Capture / Streaming
	// ========================================================================
	KeyTableName  = "table_name" // registered table name
	KeyTxnID      = "txn_id"     // transaction identifier of a captured log item
	KeyItemCount  = "item_count" // number of log items in a fragment
	KeyDataLen    = "data_len"   // payload length of a frame
	KeyFragmented = "fragmented" // true when a capture result spans multiple frames

	// ========================================================================
	// Client Identification
	// ========================================================================
	KeyClientIP   = "client_ip"   // client IP address
	KeyClientPort = "client_port" // client source port

	// ========================================================================
	// Connection
	// ========================================================================
	KeyConnectionID = "connection_id" // internal connection sequence number

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
	KeyError      = "error"       // error message
	KeyErrorCode  = "error_code"  // numeric error code
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for the connection correlation ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// Operation returns a slog.Attr for the operation name
func Operation(name string) slog.Attr {
	return slog.String(KeyOperation, name)
}

// OpID returns a slog.Attr for the raw wire opcode
func OpID(id uint8) slog.Attr {
	return slog.Int(KeyOpID, int(id))
}

// ResultCode returns a slog.Attr for a wire result code
func ResultCode(code uint32) slog.Attr {
	return slog.Uint64(KeyResultCode, uint64(code))
}

// SessionGroupID returns a slog.Attr for a session group identifier
func SessionGroupID(id uint32) slog.Attr {
	return slog.Uint64(KeySessionGroupID, uint64(id))
}

// JobDesc returns a slog.Attr for a job descriptor
func JobDesc(desc uint16) slog.Attr {
	return slog.Int(KeyJobDesc, int(desc))
}

// JobState returns a slog.Attr for a job state name
func JobState(state string) slog.Attr {
	return slog.String(KeyJobState, state)
}

// TableName returns a slog.Attr for a registered table name
func TableName(name string) slog.Attr {
	return slog.String(KeyTableName, name)
}

// ClientIP returns a slog.Attr for client IP address
func ClientIP(ip string) slog.Attr {
	return slog.String(KeyClientIP, ip)
}

// DurationMs returns a slog.Attr for a duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr wrapping an error's message, or a no-op attr if nil
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a numeric error code
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}
