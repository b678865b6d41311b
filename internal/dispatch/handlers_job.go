package dispatch

import (
	"context"
	"encoding/binary"

	"github.com/ctcproto/ctcpd/internal/linkio"
	"github.com/ctcproto/ctcpd/internal/session"
	"github.com/ctcproto/ctcpd/internal/wire"
)

// handleCreateJobSession implements CREATE_JOB_SESSION. Unlike every other
// job-scoped operation, the response's job_desc field isn't an echo of the
// request — it's the descriptor the server just allocated, which the
// request never carried (the client sends wire.NullJobDesc).
func handleCreateJobSession(d *Dispatcher, ctx context.Context, link *linkio.Link, hdr wire.ProtocolHeader) (uint32, error) {
	g, ok := d.sessions.FindGroup(hdr.SessionGroupID)
	if !ok {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, wire.NullJobDesc, wire.RCFailedInvalidHandle, nil)
	}

	desc, err := d.sessions.AddJob(ctx, g)
	if err != nil {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, wire.NullJobDesc, resultCodeForSessionErr(err), nil)
	}

	return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, desc, wire.RCSuccess, nil)
}

// handleDestroyJobSession implements DESTROY_JOB_SESSION, which implicitly
// stops capture on the job first if it was RUNNING (session.Manager.
// DeleteJob handles the state transition; this handler only needs to tear
// down the matching captor producer, if any).
func handleDestroyJobSession(d *Dispatcher, ctx context.Context, link *linkio.Link, hdr wire.ProtocolHeader) (uint32, error) {
	g, ok := d.sessions.FindGroup(hdr.SessionGroupID)
	if !ok {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, wire.RCFailedInvalidHandle, nil)
	}

	if err := d.sessions.DeleteJob(ctx, g, hdr.JobDesc); err != nil {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, resultCodeForSessionErr(err), nil)
	}

	_ = d.captor.Stop(hdr.SessionGroupID, hdr.JobDesc)

	return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, wire.RCSuccess, nil)
}

// handleRequestJobStatus implements REQUEST_JOB_STATUS. Per SPEC_FULL's
// supplemented-feature note, the status the original computed but never
// transmitted (ctcp_do_request_job_status always passed data_len=0 to
// ctcp_make_protocol_header) is now carried as a 4-byte little-endian
// status word following the header.
func handleRequestJobStatus(d *Dispatcher, ctx context.Context, link *linkio.Link, hdr wire.ProtocolHeader) (uint32, error) {
	g, ok := d.sessions.FindGroup(hdr.SessionGroupID)
	if !ok {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, wire.RCFailedInvalidHandle, nil)
	}

	status, err := d.sessions.JobStatus(g, hdr.JobDesc)
	if err != nil {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, resultCodeForSessionErr(err), nil)
	}
	// CREATED and PREPARED are reported as the same status word.
	if status == session.StatusCreated {
		status = session.StatusPrepared
	}

	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, uint32(status))
	return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, wire.RCSuccess, payload)
}
