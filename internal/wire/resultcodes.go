package wire

// ResultCode is the wire-level outcome of an operation, carried in a result
// frame's op_param byte (see NewResponseHeader). Declared as its own type,
// rather than a bare uint8, because every send path must run it through
// Coerce first and a distinct type makes that hard to forget at a call site.
type ResultCode uint32

const (
	RCSuccess                        ResultCode = iota // operation completed
	RCSuccessFragmented                                // more CAPTURED_DATA_RESULT frames follow for this transaction
	RCFailed                                            // unspecified/unmapped failure
	RCFailedInvalidHandle                               // session group handle does not exist
	RCFailedCreateSession                               // control session could not be created
	RCFailedSessionClose                                // control session close failed
	RCFailedNoMoreJobAllowed                            // session group is at its job capacity
	RCFailedInvalidJob                                  // job_desc does not reference an existing job
	RCFailedInvalidJobStatus                            // operation not permitted in the job's current state
	RCFailedInvalidTableName                            // table name failed validation
	RCFailedTableAlreadyExist                           // REGISTER_TABLE on an already-registered table
	RCFailedUnregisteredTable                           // UNREGISTER_TABLE on a table that was never registered
	RCFailedJobAttrNotExist                             // SET_JOB_ATTRIBUTE with an unknown attribute id
	RCFailedInvalidJobAttrValue                         // SET_JOB_ATTRIBUTE with a value the attribute rejects
	RCFailedJobAlreadyStarted                           // START_CAPTURE on a RUNNING job
	RCFailedJobAlreadyStopped                           // STOP_CAPTURE on a STOPPED job
	RCFailedInsufficientServerResource                  // allocation failure, or an oversized capture item
	RCFailedWrongPacket                                 // malformed request payload
)

var resultCodeNames = map[ResultCode]string{
	RCSuccess:                           "RC_SUCCESS",
	RCSuccessFragmented:                 "RC_SUCCESS_FRAGMENTED",
	RCFailed:                            "RC_FAILED",
	RCFailedInvalidHandle:               "RC_FAILED_INVALID_HANDLE",
	RCFailedCreateSession:               "RC_FAILED_CREATE_SESSION",
	RCFailedSessionClose:                "RC_FAILED_SESSION_CLOSE",
	RCFailedNoMoreJobAllowed:            "RC_FAILED_NO_MORE_JOB_ALLOWED",
	RCFailedInvalidJob:                  "RC_FAILED_INVALID_JOB",
	RCFailedInvalidJobStatus:            "RC_FAILED_INVALID_JOB_STATUS",
	RCFailedInvalidTableName:            "RC_FAILED_INVALID_TABLE_NAME",
	RCFailedTableAlreadyExist:           "RC_FAILED_TABLE_ALREADY_EXIST",
	RCFailedUnregisteredTable:           "RC_FAILED_UNREGISTERED_TABLE",
	RCFailedJobAttrNotExist:             "RC_FAILED_JOB_ATTR_NOT_EXIST",
	RCFailedInvalidJobAttrValue:         "RC_FAILED_INVALID_JOB_ATTR_VALUE",
	RCFailedJobAlreadyStarted:           "RC_FAILED_JOB_ALREADY_STARTED",
	RCFailedJobAlreadyStopped:           "RC_FAILED_JOB_ALREADY_STOPPED",
	RCFailedInsufficientServerResource:  "RC_FAILED_INSUFFICIENT_SERVER_RESOURCE",
	RCFailedWrongPacket:                 "RC_FAILED_WRONG_PACKET",
}

// String returns the result code's symbolic name, or "RC_UNKNOWN" for
// unknown values.
func (rc ResultCode) String() string {
	if name, ok := resultCodeNames[rc]; ok {
		return name
	}
	return "RC_UNKNOWN"
}

// IsKnown reports whether rc is one of the enumerated result codes. A
// send_*_result implementation must coerce an unknown result code to
// RCFailed before transmitting, per §7: "An unrecognized result_code passed
// into a send_*_result is coerced to RC_FAILED before transmission so
// clients always see a known code."
func (rc ResultCode) IsKnown() bool {
	_, ok := resultCodeNames[rc]
	return ok
}

// Coerce returns rc if it is a known result code, otherwise RCFailed.
func Coerce(rc ResultCode) ResultCode {
	if rc.IsKnown() {
		return rc
	}
	return RCFailed
}
