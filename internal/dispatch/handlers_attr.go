package dispatch

import (
	"context"
	"encoding/binary"

	"github.com/ctcproto/ctcpd/internal/linkio"
	"github.com/ctcproto/ctcpd/internal/wire"
)

// handleSetJobAttribute implements SET_JOB_ATTRIBUTE. Per §4.4, the
// attribute's value is the header's own data_len field, not a separate
// payload — ctcp_do_set_job_attribute's caller builds its CTCJ_JOB_ATTR
// straight from header->data_len. The attribute id rides in op_param,
// already range-checked by the validator against
// (JobAttrIDStart, JobAttrIDLast).
func handleSetJobAttribute(d *Dispatcher, ctx context.Context, link *linkio.Link, hdr wire.ProtocolHeader) (uint32, error) {
	g, ok := d.sessions.FindGroup(hdr.SessionGroupID)
	if !ok {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, wire.RCFailedInvalidHandle, nil)
	}

	value := make([]byte, 4)
	binary.LittleEndian.PutUint32(value, hdr.DataLen)

	err := d.sessions.SetJobAttr(ctx, g, hdr.JobDesc, hdr.OpParam, value)
	return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, resultCodeForSessionErr(err), nil)
}
