package dispatch

import (
	"errors"

	"github.com/ctcproto/ctcpd/internal/captor"
	"github.com/ctcproto/ctcpd/internal/session"
	"github.com/ctcproto/ctcpd/internal/wire"
)

// resultCodeForSessionErr translates a session.Manager error into the wire
// result code §4.4's error-code translation table assigns it, grounded on
// the per-operation exception switches in the original
// ctcp_do_*/ctcp_send_*_result pairs (e.g. ctcp_do_start_capture's
// err_start_capture_failed_label switch). nil maps to RC_SUCCESS; anything
// this table doesn't recognize falls through to RC_FAILED, matching every
// handler's switch default in the original.
func resultCodeForSessionErr(err error) wire.ResultCode {
	switch {
	case err == nil:
		return wire.RCSuccess
	case errors.Is(err, session.ErrJobNotExist):
		return wire.RCFailedInvalidJob
	case errors.Is(err, session.ErrExceedMax):
		return wire.RCFailedNoMoreJobAllowed
	case errors.Is(err, session.ErrInvalidTableName):
		return wire.RCFailedInvalidTableName
	case errors.Is(err, session.ErrJobAlreadyStarted):
		return wire.RCFailedJobAlreadyStarted
	case errors.Is(err, session.ErrJobAlreadyStopped):
		return wire.RCFailedJobAlreadyStopped
	case errors.Is(err, session.ErrInvalidAttr):
		return wire.RCFailedJobAttrNotExist
	case errors.Is(err, session.ErrInvalidValue):
		return wire.RCFailedInvalidJobAttrValue
	case errors.Is(err, session.ErrInvalidJobStatus):
		return wire.RCFailedInvalidJobStatus
	case errors.Is(err, session.ErrAlreadyRegistered):
		return wire.RCFailedTableAlreadyExist
	case errors.Is(err, session.ErrUnregistered):
		return wire.RCFailedUnregisteredTable
	case errors.Is(err, session.ErrNoTablesRegistered):
		// The original folds "no table registered" into the same
		// CTC_ERR_INVALID_TABLE_NAME_FAILED branch ctcs_sg_start_capture
		// uses for a genuinely bad table name; there is no distinct wire
		// code for "no tables at all".
		return wire.RCFailedInvalidTableName
	case errors.Is(err, session.ErrAlloc):
		return wire.RCFailed
	default:
		return wire.RCFailed
	}
}

// resultCodeForCaptureStartErr translates a captor.Captor.Start error into
// the wire result code START_CAPTURE's handler answers with. §4.4's
// translation table gives an allocation failure on capture start its own
// row (RC_FAILED_INSUFFICIENT_SERVER_RESOURCE), distinct from the RC_FAILED
// a register-table allocation failure gets — confirmed against the
// original's ctcp_do_start_capture vs ctcp_do_register_table, both hitting
// CTC_ERR_ALLOC_FAILED but mapped to different wire codes. Any other
// captor error (none defined today beyond ErrAlreadyCapturing, which the
// caller never passes here) falls back to resultCodeForSessionErr so new
// captor error kinds still get a sane default instead of silently becoming
// RC_SUCCESS.
func resultCodeForCaptureStartErr(err error) wire.ResultCode {
	if errors.Is(err, captor.ErrResourceExhausted) {
		return wire.RCFailedInsufficientServerResource
	}
	return resultCodeForSessionErr(err)
}
