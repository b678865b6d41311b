package dispatch

import (
	"context"

	"github.com/ctcproto/ctcpd/internal/linkio"
	"github.com/ctcproto/ctcpd/internal/wire"
)

// handleCreateControlSession implements CREATE_CONTROL_SESSION. Per
// ctcp_do_create_ctrl_session: a client presenting wire.NullSGID gets a
// freshly allocated session group; a client presenting a non-zero sgid is
// an invalid packet the original silently tolerates rather than rejects
// ("invalid packet error but, ignore because..") — this handler reproduces
// that instead of inventing a new rejection path, since it isn't among the
// three defects §9 names for correction.
//
// The resolved sgid it returns is what lets the connection loop learn a
// freshly assigned SGID straight from this one call, without parsing the
// response frame it just sent — see operationHandler's doc comment.
func handleCreateControlSession(d *Dispatcher, ctx context.Context, link *linkio.Link, hdr wire.ProtocolHeader) (uint32, error) {
	sgid := hdr.SessionGroupID

	if sgid == wire.NullSGID {
		newSGID, err := d.sessions.CreateGroup(ctx)
		if err != nil {
			return wire.NullSGID, d.sendResult(link, hdr, wire.NullSGID, wire.NullJobDesc, wire.RCFailedCreateSession, nil)
		}
		sgid = newSGID
	}

	return sgid, d.sendResult(link, hdr, sgid, wire.NullJobDesc, wire.RCSuccess, nil)
}

// handleDestroyControlSession implements DESTROY_CONTROL_SESSION. Per §9
// this must NOT reproduce the original's result-code leakage: ctcp_do_
// destroy_ctrl_session sets *result_code from its if/else branch and then
// unconditionally overwrites it with CTCP_RC_SUCCESS right before
// returning, discarding RC_FAILED_INVALID_HANDLE and RC_FAILED_SESSION_
// CLOSE. This handler keeps whichever branch it took.
func handleDestroyControlSession(d *Dispatcher, ctx context.Context, link *linkio.Link, hdr wire.ProtocolHeader) (uint32, error) {
	g, ok := d.sessions.FindGroup(hdr.SessionGroupID)
	if !ok {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, wire.NullJobDesc, wire.RCFailedInvalidHandle, nil)
	}

	jobs := g.Jobs()

	if err := d.sessions.DestroyGroup(ctx, g.SGID); err != nil {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, wire.NullJobDesc, wire.RCFailedSessionClose, nil)
	}

	for _, snap := range jobs {
		_ = d.captor.Stop(hdr.SessionGroupID, snap.Desc)
	}

	return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, wire.NullJobDesc, wire.RCSuccess, nil)
}
