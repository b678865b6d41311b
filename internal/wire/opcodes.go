// Package wire implements the CTCP frame codec, opcode/result-code tables,
// and request validator: the parts of the protocol that are pure function of
// bytes on the wire, with no session or capture state attached.
package wire

// OpID identifies a CTCP operation on the wire. op_id is a single byte, so
// every request/result pair, in both the data and control bands, must fit
// in [0, 255].
type OpID uint8

// ResultFactor relates a request opcode to its paired result opcode:
// result_opcode = request_opcode * ResultFactor, for every opcode except
// OpStartCapture (see OpCapturedDataResult).
const ResultFactor = 2

// Opcode ranges. opid_in_range accepts exactly two disjoint bands: the data
// band (streaming control: START_CAPTURE, STOP_CAPTURE, CAPTURED_DATA_RESULT)
// and the control band (session/job/table lifecycle and their *_RESULT
// pairs). The bands never overlap.
const (
	DataMin OpID = 0
	DataMax OpID = 10

	CtrlMin OpID = 10
	CtrlMax OpID = 250
)

// Data-plane opcodes.
const (
	// OpStopCapture requests that a running job stop streaming.
	// op_param carries the close condition (StopImmediately/StopAfterTrans).
	OpStopCapture OpID = 1

	// OpStopCaptureResult is STOP_CAPTURE's paired result, following the
	// standard ResultFactor formula (1 * ResultFactor).
	OpStopCaptureResult OpID = 2

	// OpStartCapture begins streaming committed rows for a job's registered
	// tables. Its numeric value is itself a multiple of ResultFactor — the
	// "explicit exception" the validator's is_recv_opcode predicate must
	// special-case to still accept it as a request opcode.
	OpStartCapture OpID = 4

	// OpCapturedDataResult is the server-to-client data frame opcode used to
	// stream captured rows. It is START_CAPTURE's de facto "result" opcode,
	// but does not follow the ResultFactor formula (4 * ResultFactor = 8 is
	// never used) — it is the documented whitelisted exception to the
	// request/result pairing rule.
	OpCapturedDataResult OpID = 6
)

// Control-plane opcodes: session-group and job lifecycle, table
// registration, job attributes, and status queries.
const (
	OpCreateControlSession  OpID = 21
	OpDestroyControlSession OpID = 23
	OpCreateJobSession      OpID = 25
	OpDestroyJobSession     OpID = 27
	OpRequestJobStatus      OpID = 29
	OpRequestServerStatus   OpID = 31
	OpRegisterTable         OpID = 33
	OpUnregisterTable       OpID = 35
	OpSetJobAttribute       OpID = 37

	OpCreateControlSessionResult  OpID = OpCreateControlSession * ResultFactor
	OpDestroyControlSessionResult OpID = OpDestroyControlSession * ResultFactor
	OpCreateJobSessionResult      OpID = OpCreateJobSession * ResultFactor
	OpDestroyJobSessionResult     OpID = OpDestroyJobSession * ResultFactor
	OpRequestJobStatusResult      OpID = OpRequestJobStatus * ResultFactor
	OpRequestServerStatusResult   OpID = OpRequestServerStatus * ResultFactor
	OpRegisterTableResult         OpID = OpRegisterTable * ResultFactor
	OpUnregisterTableResult       OpID = OpUnregisterTable * ResultFactor
	OpSetJobAttributeResult       OpID = OpSetJobAttribute * ResultFactor
)

// opNames supports human-readable logging without a reflection-based dance.
var opNames = map[OpID]string{
	OpStopCapture:                 "STOP_CAPTURE",
	OpStopCaptureResult:           "STOP_CAPTURE_RESULT",
	OpStartCapture:                "START_CAPTURE",
	OpCapturedDataResult:          "CAPTURED_DATA_RESULT",
	OpCreateControlSession:        "CREATE_CONTROL_SESSION",
	OpCreateControlSessionResult:  "CREATE_CONTROL_SESSION_RESULT",
	OpDestroyControlSession:       "DESTROY_CONTROL_SESSION",
	OpDestroyControlSessionResult: "DESTROY_CONTROL_SESSION_RESULT",
	OpCreateJobSession:            "CREATE_JOB_SESSION",
	OpCreateJobSessionResult:      "CREATE_JOB_SESSION_RESULT",
	OpDestroyJobSession:           "DESTROY_JOB_SESSION",
	OpDestroyJobSessionResult:     "DESTROY_JOB_SESSION_RESULT",
	OpRequestJobStatus:            "REQUEST_JOB_STATUS",
	OpRequestJobStatusResult:      "REQUEST_JOB_STATUS_RESULT",
	OpRequestServerStatus:         "REQUEST_SERVER_STATUS",
	OpRequestServerStatusResult:   "REQUEST_SERVER_STATUS_RESULT",
	OpRegisterTable:               "REGISTER_TABLE",
	OpRegisterTableResult:         "REGISTER_TABLE_RESULT",
	OpUnregisterTable:             "UNREGISTER_TABLE",
	OpUnregisterTableResult:       "UNREGISTER_TABLE_RESULT",
	OpSetJobAttribute:             "SET_JOB_ATTRIBUTE",
	OpSetJobAttributeResult:       "SET_JOB_ATTRIBUTE_RESULT",
}

// String returns the opcode's symbolic name, or "UNKNOWN_OPCODE" for
// unknown values.
func (o OpID) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "UNKNOWN_OPCODE"
}

// ResultOpcodeFor returns the result opcode paired with a request opcode,
// honoring the OpStartCapture exception.
func ResultOpcodeFor(req OpID) OpID {
	if req == OpStartCapture {
		return OpCapturedDataResult
	}
	return req * ResultFactor
}

// connection parameter values for CREATE_CONTROL_SESSION's op_param.
const (
	ConnectionDefault  uint8 = 0
	ConnectionCtrlOnly uint8 = 1
)

// close condition values for STOP_CAPTURE's op_param.
const (
	StopImmediately uint8 = 0
	StopAfterTrans  uint8 = 1
)

// Job attribute id bounds for SET_JOB_ATTRIBUTE's op_param. Valid ids are
// strictly between these bounds.
const (
	JobAttrIDStart uint8 = 0
	JobAttrIDLast  uint8 = 16
)

// JobCountPerGroupMax bounds job_desc: a valid job_desc is in
// (0, JobCountPerGroupMax].
const JobCountPerGroupMax = 1024
