package dispatch

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ctcproto/ctcpd/internal/capture"
	"github.com/ctcproto/ctcpd/internal/captor"
	"github.com/ctcproto/ctcpd/internal/linkio"
	"github.com/ctcproto/ctcpd/internal/session"
	"github.com/ctcproto/ctcpd/internal/wire"
)

// testHarness wires a real Dispatcher to one half of a net.Pipe, with the
// test driving the other half as the client.
type testHarness struct {
	t    *testing.T
	d    *Dispatcher
	serv *linkio.Link
	cli  *linkio.Link
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	return newHarnessWithCaptor(t, captor.NewCaptor())
}

func newHarnessWithCaptor(t *testing.T, cptr *captor.Captor) *testHarness {
	t.Helper()
	c1, c2 := net.Pipe()
	t.Cleanup(func() { c1.Close(); c2.Close() })

	servLink := linkio.New(c1, linkio.DefaultBufferSize)
	cliLink := linkio.New(c2, linkio.DefaultBufferSize)

	mgr := session.NewManager(nil, nil)
	t.Cleanup(cptr.StopAll)
	streamer := capture.NewStreamer()

	d := NewDispatcher(mgr, cptr, streamer, func(sgid uint32, jobDesc uint16) captor.ChangeSource {
		return &captor.FakeSource{}
	})

	return &testHarness{t: t, d: d, serv: servLink, cli: cliLink}
}

// sendRequest writes hdr (plus optional payload) onto the client half and
// returns once written; the caller's goroutine must separately drive
// ProcessOnce on the server half.
func (h *testHarness) sendRequest(hdr wire.ProtocolHeader, payload []byte) {
	h.t.Helper()
	hdr.DataLen = uint32(len(payload))

	h.cli.ResetWBuf()
	headerPos, err := h.cli.ForwardWBufPos(wire.HeaderSize)
	if err != nil {
		h.t.Fatalf("reserve header: %v", err)
	}
	if len(payload) > 0 {
		if err := h.cli.WriteBytes(payload); err != nil {
			h.t.Fatalf("write payload: %v", err)
		}
	}
	if err := h.cli.PutHeaderAt(headerPos, hdr); err != nil {
		h.t.Fatalf("put header: %v", err)
	}

	// Send blocks until the server side's Recv reads these bytes (a
	// net.Pipe has no internal buffering), so it must run on its own
	// goroutine: the caller drives ProcessOnce concurrently.
	done := make(chan error, 1)
	go func() { done <- h.cli.Send() }()
	if err := <-done; err != nil {
		h.t.Fatalf("send request: %v", err)
	}
}

// recvResult reads one result frame from the client half's perspective.
func (h *testHarness) recvResult() wire.ProtocolHeader {
	h.t.Helper()
	if err := h.cli.Recv(2 * time.Second); err != nil {
		h.t.Fatalf("recv result: %v", err)
	}
	hdr, err := wire.DecodeHeader(h.cli.RBytes())
	if err != nil {
		h.t.Fatalf("decode result header: %v", err)
	}
	if _, err := h.cli.ReadBytes(wire.HeaderSize); err != nil {
		h.t.Fatalf("advance past result header: %v", err)
	}
	return hdr
}

func (h *testHarness) roundTrip(t *testing.T, req wire.ProtocolHeader, payload []byte) wire.ProtocolHeader {
	t.Helper()
	type procResult struct {
		hdr wire.ProtocolHeader
		err error
	}
	procCh := make(chan procResult, 1)
	go func() {
		hdr, err := h.d.ProcessOnce(context.Background(), h.serv, 2*time.Second)
		procCh <- procResult{hdr, err}
	}()

	h.sendRequest(req, payload)
	resultHdr := h.recvResult()

	pr := <-procCh
	if pr.err != nil {
		t.Fatalf("ProcessOnce: %v", pr.err)
	}
	return resultHdr
}

func ctrlHeader(op wire.OpID, opParam uint8, sgid uint32, jobDesc uint16) wire.ProtocolHeader {
	return wire.ProtocolHeader{
		OpID:            op,
		OpParam:         opParam,
		JobDesc:         jobDesc,
		SessionGroupID:  sgid,
		ProtocolVersion: wire.NegotiatedVersion.Pack(),
	}
}

// Scenario 1: CREATE_CONTROL_SESSION with sgid=0 assigns a non-zero SGID.
func TestCreateControlSessionAssignsSGID(t *testing.T) {
	h := newHarness(t)

	req := ctrlHeader(wire.OpCreateControlSession, wire.ConnectionDefault, wire.NullSGID, wire.NullJobDesc)
	res := h.roundTrip(t, req, nil)

	if wire.ResultCodeOf(res) != wire.RCSuccess {
		t.Fatalf("expected RC_SUCCESS, got %s", wire.ResultCodeOf(res))
	}
	if res.SessionGroupID == wire.NullSGID {
		t.Fatal("expected a non-zero assigned session group id")
	}
}

// Scenario 2: REGISTER_TABLE/UNREGISTER_TABLE idempotency.
func TestRegisterTableIdempotency(t *testing.T) {
	h := newHarness(t)

	sgid := h.createSession(t)
	jobDesc := h.createJob(t, sgid)

	payload := tablePayload(t, "alice", "orders")

	res := h.roundTrip(t, ctrlHeader(wire.OpRegisterTable, 0, sgid, jobDesc), payload)
	if wire.ResultCodeOf(res) != wire.RCSuccess {
		t.Fatalf("first REGISTER_TABLE: expected RC_SUCCESS, got %s", wire.ResultCodeOf(res))
	}

	res = h.roundTrip(t, ctrlHeader(wire.OpRegisterTable, 0, sgid, jobDesc), payload)
	if wire.ResultCodeOf(res) != wire.RCFailedTableAlreadyExist {
		t.Fatalf("duplicate REGISTER_TABLE: expected RC_FAILED_TABLE_ALREADY_EXIST, got %s", wire.ResultCodeOf(res))
	}

	res = h.roundTrip(t, ctrlHeader(wire.OpUnregisterTable, 0, sgid, jobDesc), payload)
	if wire.ResultCodeOf(res) != wire.RCSuccess {
		t.Fatalf("UNREGISTER_TABLE: expected RC_SUCCESS, got %s", wire.ResultCodeOf(res))
	}

	res = h.roundTrip(t, ctrlHeader(wire.OpUnregisterTable, 0, sgid, jobDesc), payload)
	if wire.ResultCodeOf(res) != wire.RCFailedUnregisteredTable {
		t.Fatalf("duplicate UNREGISTER_TABLE: expected RC_FAILED_UNREGISTERED_TABLE, got %s", wire.ResultCodeOf(res))
	}
}

// Scenario 3: STOP_CAPTURE with a malformed op_param still yields a
// well-formed RC_FAILED response rather than being silently dropped —
// op_param validation happens after opcode/recv-opcode checks, so the
// frame reaches sendResult instead of being dropped like a version
// mismatch would be.
func TestStopCaptureMalformedOpParam(t *testing.T) {
	h := newHarness(t)

	sgid := h.createSession(t)
	jobDesc := h.createJob(t, sgid)

	res := h.roundTrip(t, ctrlHeader(wire.OpStopCapture, 0xFF, sgid, jobDesc), nil)
	if wire.ResultCodeOf(res) != wire.RCFailed {
		t.Fatalf("expected RC_FAILED for malformed op_param, got %s", wire.ResultCodeOf(res))
	}
	if res.OpID != wire.ResultOpcodeFor(wire.OpStopCapture) {
		t.Fatalf("expected result opcode %s, got %s", wire.ResultOpcodeFor(wire.OpStopCapture), res.OpID)
	}
}

// Scenario 4: a frame with a mismatched protocol_version is silently
// dropped (no response frame at all), while a subsequent valid request on
// the same connection still succeeds.
func TestVersionMismatchSilentlyDropped(t *testing.T) {
	h := newHarness(t)

	badReq := wire.ProtocolHeader{
		OpID:            wire.OpCreateControlSession,
		OpParam:         wire.ConnectionDefault,
		SessionGroupID:  wire.NullSGID,
		ProtocolVersion: wire.NegotiatedVersion.Pack() ^ 0xFFFFFFFF,
	}

	procCh := make(chan error, 1)
	go func() {
		_, err := h.d.ProcessOnce(context.Background(), h.serv, 2*time.Second)
		procCh <- err
	}()
	h.sendRequest(badReq, nil)
	if err := <-procCh; err != nil {
		t.Fatalf("ProcessOnce on bad-version frame: %v", err)
	}

	// No result frame was sent for the dropped request; the very next
	// ProcessOnce/request pair must still succeed normally.
	goodReq := ctrlHeader(wire.OpCreateControlSession, wire.ConnectionDefault, wire.NullSGID, wire.NullJobDesc)
	res := h.roundTrip(t, goodReq, nil)
	if wire.ResultCodeOf(res) != wire.RCSuccess {
		t.Fatalf("expected RC_SUCCESS after dropped frame, got %s", wire.ResultCodeOf(res))
	}
}

// A job-scoped request whose job_desc is out of range (0, JobCountPerGroupMax]
// is wire-reported as RC_FAILED_INVALID_JOB rather than reaching the
// handler at all — §3's header invariant on job_desc is enforced by
// ProcessOnce, the same place op_param's domain is enforced.
func TestJobScopedRequestWithOutOfRangeJobDescFails(t *testing.T) {
	h := newHarness(t)

	sgid := h.createSession(t)

	res := h.roundTrip(t, ctrlHeader(wire.OpRequestJobStatus, 0, sgid, 0), nil)
	if wire.ResultCodeOf(res) != wire.RCFailedInvalidJob {
		t.Fatalf("job_desc=0: expected RC_FAILED_INVALID_JOB, got %s", wire.ResultCodeOf(res))
	}

	res = h.roundTrip(t, ctrlHeader(wire.OpRequestJobStatus, 0, sgid, wire.JobCountPerGroupMax+1), nil)
	if wire.ResultCodeOf(res) != wire.RCFailedInvalidJob {
		t.Fatalf("job_desc beyond max: expected RC_FAILED_INVALID_JOB, got %s", wire.ResultCodeOf(res))
	}

	// A session-group-scoped request (no job_desc) is unaffected by the
	// check above even with job_desc left at its zero value.
	res = h.roundTrip(t, ctrlHeader(wire.OpRequestServerStatus, 0, sgid, 0), nil)
	if wire.ResultCodeOf(res) != wire.RCSuccess {
		t.Fatalf("REQUEST_SERVER_STATUS: expected RC_SUCCESS, got %s", wire.ResultCodeOf(res))
	}
}

// Scenario 6: START_CAPTURE called twice on the same job succeeds once,
// then fails with RC_FAILED_JOB_ALREADY_STARTED.
func TestStartCaptureTwice(t *testing.T) {
	h := newHarness(t)

	sgid := h.createSession(t)
	jobDesc := h.createJob(t, sgid)
	h.registerTable(t, sgid, jobDesc, "alice", "orders")

	res := h.roundTrip(t, ctrlHeader(wire.OpStartCapture, 0, sgid, jobDesc), nil)
	if wire.ResultCodeOf(res) != wire.RCSuccess {
		t.Fatalf("first START_CAPTURE: expected RC_SUCCESS, got %s", wire.ResultCodeOf(res))
	}

	res = h.roundTrip(t, ctrlHeader(wire.OpStartCapture, 0, sgid, jobDesc), nil)
	if wire.ResultCodeOf(res) != wire.RCFailedJobAlreadyStarted {
		t.Fatalf("second START_CAPTURE: expected RC_FAILED_JOB_ALREADY_STARTED, got %s", wire.ResultCodeOf(res))
	}
}

// START_CAPTURE reports RC_FAILED_INSUFFICIENT_SERVER_RESOURCE, not
// RC_SUCCESS, when the captor can't allocate a producer for the job — the
// register-table allocation failure and the capture-start allocation
// failure are distinct rows in §4.4's translation table (RC_FAILED vs
// RC_FAILED_INSUFFICIENT_SERVER_RESOURCE) and must stay that way. The job
// must also not be left RUNNING with no producer behind it.
func TestStartCaptureResourceExhaustion(t *testing.T) {
	cptr := captor.NewCaptorWithCapacity(1)
	h := newHarnessWithCaptor(t, cptr)

	sgidA := h.createSession(t)
	jobA := h.createJob(t, sgidA)
	h.registerTable(t, sgidA, jobA, "alice", "orders")

	sgidB := h.createSession(t)
	jobB := h.createJob(t, sgidB)
	h.registerTable(t, sgidB, jobB, "bob", "orders")

	res := h.roundTrip(t, ctrlHeader(wire.OpStartCapture, 0, sgidA, jobA), nil)
	if wire.ResultCodeOf(res) != wire.RCSuccess {
		t.Fatalf("first START_CAPTURE: expected RC_SUCCESS, got %s", wire.ResultCodeOf(res))
	}

	res = h.roundTrip(t, ctrlHeader(wire.OpStartCapture, 0, sgidB, jobB), nil)
	if wire.ResultCodeOf(res) != wire.RCFailedInsufficientServerResource {
		t.Fatalf("second START_CAPTURE at capacity: expected RC_FAILED_INSUFFICIENT_SERVER_RESOURCE, got %s", wire.ResultCodeOf(res))
	}

	status, err := h.d.sessions.JobStatus(mustFindGroup(t, h, sgidB), jobB)
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if status == session.StatusRunning {
		t.Fatal("job must not be left RUNNING when the captor failed to allocate a producer")
	}
}

func mustFindGroup(t *testing.T, h *testHarness, sgid uint32) *session.Group {
	t.Helper()
	g, ok := h.d.sessions.FindGroup(sgid)
	if !ok {
		t.Fatalf("FindGroup(%d): not found", sgid)
	}
	return g
}

// registerTable drives a REGISTER_TABLE round trip expecting RC_SUCCESS.
func (h *testHarness) registerTable(t *testing.T, sgid uint32, jobDesc uint16, user, table string) {
	t.Helper()
	res := h.roundTrip(t, ctrlHeader(wire.OpRegisterTable, 0, sgid, jobDesc), tablePayload(t, user, table))
	if wire.ResultCodeOf(res) != wire.RCSuccess {
		t.Fatalf("registerTable: expected RC_SUCCESS, got %s", wire.ResultCodeOf(res))
	}
}

// createSession drives a CREATE_CONTROL_SESSION round trip and returns the
// assigned sgid, for tests that need a valid session group before
// exercising the operation under test.
func (h *testHarness) createSession(t *testing.T) uint32 {
	t.Helper()
	req := ctrlHeader(wire.OpCreateControlSession, wire.ConnectionDefault, wire.NullSGID, wire.NullJobDesc)
	res := h.roundTrip(t, req, nil)
	if wire.ResultCodeOf(res) != wire.RCSuccess {
		t.Fatalf("createSession: expected RC_SUCCESS, got %s", wire.ResultCodeOf(res))
	}
	return res.SessionGroupID
}

// createJob drives a CREATE_JOB_SESSION round trip under sgid and returns
// the allocated job_desc.
func (h *testHarness) createJob(t *testing.T, sgid uint32) uint16 {
	t.Helper()
	req := ctrlHeader(wire.OpCreateJobSession, 0, sgid, wire.NullJobDesc)
	res := h.roundTrip(t, req, nil)
	if wire.ResultCodeOf(res) != wire.RCSuccess {
		t.Fatalf("createJob: expected RC_SUCCESS, got %s", wire.ResultCodeOf(res))
	}
	return res.JobDesc
}

// tablePayload builds REGISTER_TABLE/UNREGISTER_TABLE's length-prefixed
// user_name + table_name payload per §4.4.
func tablePayload(t *testing.T, user, table string) []byte {
	t.Helper()
	buf := make([]byte, 0, 8+len(user)+len(table))
	buf = appendFourByte(buf, uint32(len(user)))
	buf = append(buf, user...)
	buf = appendFourByte(buf, uint32(len(table)))
	buf = append(buf, table...)
	return buf
}

func appendFourByte(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
