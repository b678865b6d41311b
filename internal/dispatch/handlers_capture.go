package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/ctcproto/ctcpd/internal/capture"
	"github.com/ctcproto/ctcpd/internal/captor"
	"github.com/ctcproto/ctcpd/internal/linkio"
	"github.com/ctcproto/ctcpd/internal/logger"
	"github.com/ctcproto/ctcpd/internal/session"
	"github.com/ctcproto/ctcpd/internal/wire"
)

// handleStartCapture implements START_CAPTURE. On success it starts the
// job's captor producer; the connection loop begins polling Drain for this
// job on every subsequent iteration via HasActiveCapture.
func handleStartCapture(d *Dispatcher, ctx context.Context, link *linkio.Link, hdr wire.ProtocolHeader) (uint32, error) {
	g, ok := d.sessions.FindGroup(hdr.SessionGroupID)
	if !ok {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, wire.RCFailedInvalidHandle, nil)
	}

	if err := d.sessions.StartCapture(ctx, g, hdr.JobDesc); err != nil {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, resultCodeForSessionErr(err), nil)
	}

	source := d.sourceFactory(hdr.SessionGroupID, hdr.JobDesc)
	if err := d.captor.Start(ctx, hdr.SessionGroupID, hdr.JobDesc, source); err != nil && !errors.Is(err, captor.ErrAlreadyCapturing) {
		logger.Warn("ctcp: failed to start capture producer", "sgid", hdr.SessionGroupID, "job_desc", hdr.JobDesc, "error", err)
		d.sessions.MarkStoppedForResourceExhaustion(ctx, g, hdr.JobDesc)
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, resultCodeForCaptureStartErr(err), nil)
	}

	return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, wire.RCSuccess, nil)
}

// handleStopCapture implements STOP_CAPTURE. op_param has already been
// validated to be StopImmediately or StopAfterTrans.
func handleStopCapture(d *Dispatcher, ctx context.Context, link *linkio.Link, hdr wire.ProtocolHeader) (uint32, error) {
	g, ok := d.sessions.FindGroup(hdr.SessionGroupID)
	if !ok {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, wire.RCFailedInvalidHandle, nil)
	}

	cond := session.StopImmediately
	if hdr.OpParam == wire.StopAfterTrans {
		cond = session.StopAfterTrans
	}

	if err := d.sessions.StopCapture(ctx, g, hdr.JobDesc, cond); err != nil {
		return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, resultCodeForSessionErr(err), nil)
	}

	if err := d.captor.Stop(hdr.SessionGroupID, hdr.JobDesc); err != nil && !errors.Is(err, captor.ErrNotCapturing) {
		logger.Warn("ctcp: failed to stop capture producer", "sgid", hdr.SessionGroupID, "job_desc", hdr.JobDesc, "error", err)
	}

	return hdr.SessionGroupID, d.sendResult(link, hdr, hdr.SessionGroupID, hdr.JobDesc, wire.RCSuccess, nil)
}

// maxDrainPerPoll bounds how many already-queued TransactionLogLists a
// single PushReadyCapturedData call drains per job, so one connection with
// a deep backlog can't starve its own response to the client's next
// request indefinitely.
const maxDrainPerPoll = 32

// PushReadyCapturedData streams any TransactionLogLists already queued for
// sgid's RUNNING jobs as CAPTURED_DATA_RESULT frames, without blocking —
// it only drains what a producer has already buffered. Called by the
// connection loop between request/response cycles, since CTCP's single
// Link has one write cursor and must not be written to concurrently from
// more than one goroutine.
//
// Per §4.5's tie-break rule, a job whose capture hits ErrOversizedItem is
// marked STOPPED and logged; the connection itself is not torn down for
// that job's sake. Any other streamer error (e.g. a write-buffer overflow
// while emitting the header) is connection-fatal and propagates.
func (d *Dispatcher) PushReadyCapturedData(link *linkio.Link, sgid uint32) error {
	g, ok := d.sessions.FindGroup(sgid)
	if !ok {
		return nil
	}

jobLoop:
	for _, snap := range g.Jobs() {
		if snap.Status != session.StatusRunning {
			continue
		}

		ch, ok := d.captor.Drain(sgid, snap.Desc)
		if !ok {
			continue
		}

		for i := 0; i < maxDrainPerPoll; i++ {
			select {
			case tl := <-ch:
				itemCount, byteCount := itemStats(tl)
				err := d.streamer.SendCapturedData(link, snap.Desc, sgid, []*capture.TransactionLogList{tl})
				if err == nil {
					d.metrics.RecordCaptured(itemCount, byteCount)
					continue
				}
				if errors.Is(err, capture.ErrOversizedItem) {
					d.sessions.MarkStoppedForResourceExhaustion(context.Background(), g, snap.Desc)
					logger.Warn("ctcp: capture item too large to send, job stopped",
						"sgid", sgid, "job_desc", snap.Desc, "error", err)
					continue jobLoop
				}
				return fmt.Errorf("dispatch: send captured data: %w", err)
			default:
				continue jobLoop
			}
		}
	}

	return nil
}

// itemStats reports the item count and an approximate encoded byte size
// of tl, for the metrics recorded once a transaction has been fully sent.
// It mirrors capture.LogItem.wireSize's shape without depending on that
// unexported method, since dispatch only needs ballpark throughput
// numbers, not the exact frame-budget accounting the streamer itself does.
func itemStats(tl *capture.TransactionLogList) (items int, bytes int) {
	items = len(tl.Items)
	for _, li := range tl.Items {
		bytes += len(li.TableName)
		bytes += len(li.KeyColumn.Name) + len(li.KeyColumn.Value)
		for _, c := range li.SetColumns {
			bytes += len(c.Name) + len(c.Value)
		}
	}
	return items, bytes
}
