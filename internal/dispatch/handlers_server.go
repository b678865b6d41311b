package dispatch

import (
	"context"
	"encoding/binary"

	"github.com/ctcproto/ctcpd/internal/linkio"
	"github.com/ctcproto/ctcpd/internal/wire"
)

// handleRequestServerStatus implements REQUEST_SERVER_STATUS, the feature
// SPEC_FULL.md's §9.3 reinstates: ctcp_do_request_server_status only ever
// checked that the requester's session group existed, then reported a
// server-wide status word the distillation dropped. Reporting it only
// requires an existing session group, same as the original's "just check
// requester is valid user" comment.
func handleRequestServerStatus(d *Dispatcher, ctx context.Context, link *linkio.Link, hdr wire.ProtocolHeader) (uint32, error) {
	if _, ok := d.sessions.FindGroup(hdr.SessionGroupID); !ok {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, wire.NullJobDesc, wire.RCFailedInvalidHandle, nil)
	}

	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, d.sessions.ServerStatus())
	return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, wire.NullJobDesc, wire.RCSuccess, payload)
}
