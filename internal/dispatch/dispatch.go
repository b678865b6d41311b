// Package dispatch implements the CTCP operation dispatcher: the component
// that decodes one request frame, routes it to the operation handler named
// by its op_id, and guarantees exactly one well-formed result frame is sent
// back before returning, per §4.3's synchronous per-connection contract.
//
// The opcode -> handler table mirrors the teacher's NFSv4 dispatch table
// (internal/protocol/nfs/dispatch.go's map[opcode]*procedure{Name,Handler}):
// a package-level map built once in init(), rather than a switch statement,
// so adding an operation never touches the routing logic itself.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/ctcproto/ctcpd/internal/capture"
	"github.com/ctcproto/ctcpd/internal/captor"
	"github.com/ctcproto/ctcpd/internal/linkio"
	"github.com/ctcproto/ctcpd/internal/logger"
	"github.com/ctcproto/ctcpd/internal/metrics"
	"github.com/ctcproto/ctcpd/internal/session"
	"github.com/ctcproto/ctcpd/internal/wire"
)

// RecvTimeoutMax bounds how long the dispatcher waits for a client's next
// frame before treating the connection as fatally stalled, per §5/§7's
// "recv timeout is connection-fatal, the session group survives" rule.
const RecvTimeoutMax = 30 * time.Second

// CapturePollInterval is the recv timeout used instead of RecvTimeoutMax
// while at least one job under the connection's session group is RUNNING:
// short enough that queued captured data is flushed promptly, but long
// enough not to busy-loop the connection goroutine between polls.
const CapturePollInterval = 250 * time.Millisecond

// SourceFactory builds the ChangeSource a newly started capture job reads
// from. The concrete CDC backend (e.g. a Postgres logical replication slot
// reader) is supplied by cmd/ctcpd at wiring time; dispatch itself is
// backend-agnostic, matching §4.6's "LogCaptor collaborator" boundary.
type SourceFactory func(sgid uint32, jobDesc uint16) captor.ChangeSource

// operationHandler processes one validated request frame and is
// responsible for sending exactly one result frame on link before
// returning. hdr has already passed protocol_version, op_id range, and
// recv-opcode membership checks; op_param has already passed domain
// validation; and, for job-scoped operations, job_desc has already passed
// range validation.
//
// The returned uint32 is the session group the request resolved to — for
// every operation except CREATE_CONTROL_SESSION this is just hdr's own
// SessionGroupID, but CREATE_CONTROL_SESSION is the one request that
// arrives with SGID 0 and only learns its real SGID from the server during
// handling. ProcessOnce folds this back into the header it returns so the
// connection loop (§5's "sgid_hint") tracks the right group from its very
// first request without having to parse the response frame itself.
type operationHandler func(d *Dispatcher, ctx context.Context, link *linkio.Link, hdr wire.ProtocolHeader) (uint32, error)

var dispatchTable = map[wire.OpID]operationHandler{
	wire.OpCreateControlSession:  handleCreateControlSession,
	wire.OpDestroyControlSession: handleDestroyControlSession,
	wire.OpCreateJobSession:      handleCreateJobSession,
	wire.OpDestroyJobSession:     handleDestroyJobSession,
	wire.OpRequestJobStatus:      handleRequestJobStatus,
	wire.OpRequestServerStatus:   handleRequestServerStatus,
	wire.OpRegisterTable:         handleRegisterTable,
	wire.OpUnregisterTable:       handleUnregisterTable,
	wire.OpSetJobAttribute:       handleSetJobAttribute,
	wire.OpStartCapture:          handleStartCapture,
	wire.OpStopCapture:           handleStopCapture,
}

// Dispatcher ties together the session state machine, the capture producer
// registry, and the frame codec/streamer into the CTCP protocol core.
// A Dispatcher has no per-connection state of its own — internal/dispatch's
// Connection wraps one Dispatcher per accepted net.Conn, each with its own
// Link, and every method here is safe for concurrent use across them.
type Dispatcher struct {
	sessions      *session.Manager
	captor        *captor.Captor
	streamer      *capture.Streamer
	validator     wire.Validator
	sourceFactory SourceFactory
	metrics       *metrics.ProtocolMetrics
}

// NewDispatcher constructs a Dispatcher. sourceFactory must not be nil —
// cmd/ctcpd wires in the concrete CDC backend; tests typically pass a
// factory returning a *captor.FakeSource.
func NewDispatcher(sessions *session.Manager, c *captor.Captor, streamer *capture.Streamer, sourceFactory SourceFactory) *Dispatcher {
	return &Dispatcher{
		sessions:      sessions,
		captor:        c,
		streamer:      streamer,
		sourceFactory: sourceFactory,
	}
}

// SetMetrics attaches m as the dispatcher's protocol metrics sink. Calling
// it is optional — a Dispatcher with nil metrics behaves exactly as
// before, since every ProtocolMetrics method is nil-safe.
func (d *Dispatcher) SetMetrics(m *metrics.ProtocolMetrics) {
	d.metrics = m
}

// ProcessOnce receives and handles exactly one request frame, blocking up
// to timeout for it to arrive. It returns the decoded header for every
// frame that made it past Recv — including ones silently dropped by
// validation — so the caller's connection loop can track which session
// group this connection belongs to without re-parsing anything.
//
// A non-nil error means either the frame never arrived (ErrTimedOut or a
// transport error from link.Recv) or sending the result frame itself
// failed (e.g. ErrBufferOverflow on header emission) — both connection
// fatal per §7 tier 3. A dropped-frame or successfully-answered request
// both return a nil error.
func (d *Dispatcher) ProcessOnce(ctx context.Context, link *linkio.Link, timeout time.Duration) (wire.ProtocolHeader, error) {
	if err := link.Recv(timeout); err != nil {
		return wire.ProtocolHeader{}, err
	}

	hdr, err := wire.DecodeHeader(link.RBytes())
	if err != nil {
		return wire.ProtocolHeader{}, fmt.Errorf("dispatch: decode header: %w", err)
	}
	if _, err := link.ReadBytes(wire.HeaderSize); err != nil {
		return hdr, fmt.Errorf("dispatch: advance past header: %w", err)
	}

	if !d.validator.ValidateVersion(hdr.ProtocolVersion) {
		logger.Debug("ctcp: dropping frame, protocol version mismatch", "version", hdr.ProtocolVersion)
		return hdr, nil
	}
	if !d.validator.OpIDInRange(hdr.OpID) {
		logger.Debug("ctcp: dropping frame, op_id out of range", "op_id", uint8(hdr.OpID))
		return hdr, nil
	}
	if !d.validator.IsRecvOpcode(hdr.OpID) {
		logger.Debug("ctcp: dropping frame, op_id is a result-side opcode", "op_id", hdr.OpID)
		return hdr, nil
	}

	handler, ok := dispatchTable[hdr.OpID]
	if !ok {
		logger.Debug("ctcp: dropping frame, no handler registered", "op_id", hdr.OpID)
		return hdr, nil
	}

	if !d.validator.ValidateOpParam(hdr.OpID, hdr.OpParam) {
		return hdr, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, wire.RCFailed, nil)
	}

	if d.validator.IsJobScopedOpcode(hdr.OpID) && !d.validator.ValidateJobDesc(hdr.JobDesc) {
		return hdr, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, wire.RCFailedInvalidJob, nil)
	}

	sgid, err := handler(d, ctx, link, hdr)
	hdr.SessionGroupID = sgid
	return hdr, err
}

// sendResult builds and sends the result frame paired with req, coercing rc
// to a known code first per §7's "unrecognized result_code is coerced to
// RC_FAILED before transmission" rule.
func (d *Dispatcher) sendResult(link *linkio.Link, req wire.ProtocolHeader, sgid uint32, jobDesc uint16, rc wire.ResultCode, payload []byte) error {
	rc = wire.Coerce(rc)

	link.ResetWBuf()
	headerPos, err := link.ForwardWBufPos(wire.HeaderSize)
	if err != nil {
		return fmt.Errorf("dispatch: reserve header: %w", err)
	}
	if len(payload) > 0 {
		if err := link.WriteBytes(payload); err != nil {
			return fmt.Errorf("dispatch: write payload: %w", err)
		}
	}

	hdr := wire.NewResponseHeader(req, sgid, jobDesc, rc, uint32(len(payload)))
	if err := link.PutHeaderAt(headerPos, hdr); err != nil {
		return fmt.Errorf("dispatch: write header: %w", err)
	}

	if err := link.Send(); err != nil {
		return fmt.Errorf("dispatch: send frame: %w", err)
	}

	logger.Debug("ctcp result sent", "op", hdr.OpID, "result", rc, "sgid", sgid, "job_desc", jobDesc)
	d.metrics.RecordRequest(req.OpID.String(), rc.String())
	return nil
}

// HasActiveCapture reports whether any job under sgid is currently RUNNING,
// used by the connection loop to decide between RecvTimeoutMax and
// CapturePollInterval.
func (d *Dispatcher) HasActiveCapture(sgid uint32) bool {
	g, ok := d.sessions.FindGroup(sgid)
	if !ok {
		return false
	}
	for _, snap := range g.Jobs() {
		if snap.Status == session.StatusRunning {
			return true
		}
	}
	return false
}
