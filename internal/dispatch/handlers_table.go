package dispatch

import (
	"context"

	"github.com/ctcproto/ctcpd/internal/linkio"
	"github.com/ctcproto/ctcpd/internal/wire"
)

// readTableNames parses REGISTER_TABLE/UNREGISTER_TABLE's payload: a
// length-prefixed user_name followed by a length-prefixed table_name, per
// §4.4. Any short read here means a malformed packet, not a transport
// error — the caller maps it to RC_FAILED_WRONG_PACKET.
func readTableNames(link *linkio.Link) (user, table string, err error) {
	userLen, err := link.ReadFourByteNumber()
	if err != nil {
		return "", "", err
	}
	userBytes, err := link.ReadBytes(int(userLen))
	if err != nil {
		return "", "", err
	}

	tableLen, err := link.ReadFourByteNumber()
	if err != nil {
		return "", "", err
	}
	tableBytes, err := link.ReadBytes(int(tableLen))
	if err != nil {
		return "", "", err
	}

	return string(userBytes), string(tableBytes), nil
}

// handleRegisterTable implements REGISTER_TABLE. Per §4.4 a zero data_len
// is rejected outright; otherwise the dispatcher checks
// IsTableRegistered itself before calling RegisterTable, matching
// ctcp_do_register_table's is_exist pre-check ahead of the actual insert.
func handleRegisterTable(d *Dispatcher, ctx context.Context, link *linkio.Link, hdr wire.ProtocolHeader) (uint32, error) {
	if hdr.DataLen == 0 {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, wire.RCFailedWrongPacket, nil)
	}

	user, table, err := readTableNames(link)
	if err != nil {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, wire.RCFailedWrongPacket, nil)
	}

	g, ok := d.sessions.FindGroup(hdr.SessionGroupID)
	if !ok {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, wire.RCFailedInvalidHandle, nil)
	}

	registered, err := d.sessions.IsTableRegistered(g, hdr.JobDesc, user, table)
	if err != nil {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, resultCodeForSessionErr(err), nil)
	}
	if registered {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, wire.RCFailedTableAlreadyExist, nil)
	}

	err = d.sessions.RegisterTable(ctx, g, hdr.JobDesc, user, table)
	return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, resultCodeForSessionErr(err), nil)
}

// handleUnregisterTable implements UNREGISTER_TABLE, the mirror image of
// handleRegisterTable: an unregistered table fails with
// RC_FAILED_UNREGISTERED_TABLE instead of succeeding as a no-op.
func handleUnregisterTable(d *Dispatcher, ctx context.Context, link *linkio.Link, hdr wire.ProtocolHeader) (uint32, error) {
	if hdr.DataLen == 0 {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, wire.RCFailedWrongPacket, nil)
	}

	user, table, err := readTableNames(link)
	if err != nil {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, wire.RCFailedWrongPacket, nil)
	}

	g, ok := d.sessions.FindGroup(hdr.SessionGroupID)
	if !ok {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, wire.RCFailedInvalidHandle, nil)
	}

	registered, err := d.sessions.IsTableRegistered(g, hdr.JobDesc, user, table)
	if err != nil {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, resultCodeForSessionErr(err), nil)
	}
	if !registered {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, wire.RCFailedUnregisteredTable, nil)
	}

	err = d.sessions.UnregisterTable(ctx, g, hdr.JobDesc, user, table)
	return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, resultCodeForSessionErr(err), nil)
}
