package capture

import (
	"errors"
	"fmt"

	"github.com/ctcproto/ctcpd/internal/linkio"
	"github.com/ctcproto/ctcpd/internal/logger"
	"github.com/ctcproto/ctcpd/internal/wire"
)

// ErrOversizedItem is the fatal condition of §4.5: a single LogItem whose
// serialized size exceeds linkio.PacketDataMaxLen cannot be fragmented, so
// it can never be sent regardless of how the write buffer is split.
var ErrOversizedItem = errors.New("capture: log item exceeds max packet data length")

// Streamer serializes TransactionLogLists into one or more fragmented
// CAPTURED_DATA_RESULT frames, per §4.5. It holds no state of its own;
// every method is safe to call from the single dispatcher goroutine that
// owns the link passed in.
type Streamer struct{}

// NewStreamer constructs a Streamer. A zero Streamer is equally usable;
// the constructor exists for symmetry with the rest of the package set and
// to leave room for future per-streamer configuration (e.g. a metrics
// sink) without changing call sites.
func NewStreamer() *Streamer {
	return &Streamer{}
}

// SendCapturedData writes trans, in order, as CAPTURED_DATA_RESULT frames
// on link, addressed to jobDesc within sgid. Transactions are emitted in
// list order; within a transaction, fragments are emitted contiguously and
// items in list order, matching the ordering guarantees of §5.
//
// On success, every transaction's RefCnt has been decremented exactly
// once. On ErrOversizedItem, the caller (the capture handler) is
// responsible for marking the job STOPPED per §4.5's tie-break rule; the
// connection itself stays open.
func (s *Streamer) SendCapturedData(link *linkio.Link, jobDesc uint16, sgid uint32, trans []*TransactionLogList) error {
	for _, tl := range trans {
		if err := s.sendTransaction(link, jobDesc, sgid, tl); err != nil {
			return err
		}
	}
	return nil
}

// sendTransaction emits tl as one or more frames, decrementing tl's RefCnt
// once all of its items have been acknowledged sent.
func (s *Streamer) sendTransaction(link *linkio.Link, jobDesc uint16, sgid uint32, tl *TransactionLogList) error {
	idx := 0
	for idx < len(tl.Items) {
		sent, err := s.sendFragment(link, jobDesc, sgid, tl.TID, tl.Items, idx)
		if err != nil {
			return err
		}
		idx += sent
	}

	if idx == 0 && len(tl.Items) == 0 {
		// An empty transaction list still needs one RC_SUCCESS frame so the
		// client's per-transaction bookkeeping doesn't stall; total_data_len
		// is just tid + a zero item count.
		if err := s.sendFinalEmpty(link, jobDesc, sgid, tl.TID); err != nil {
			return err
		}
	}

	tl.Release()
	return nil
}

// sendFragment writes as many items starting at items[start] as fit in one
// frame, returning how many were consumed. The last fragment of a
// transaction (one that consumes every remaining item) is sent with
// RC_SUCCESS; every earlier fragment is sent with RC_SUCCESS_FRAGMENTED,
// per §4.5 step 3.
//
// totalDataLen is the encoded byte length of the frame's entire payload —
// tid(4) + num_items(4) + the encoded items themselves, i.e. everything
// after the 16-byte header, matching what a peer's Recv(data_len) must
// read to stay in sync with the next frame. It is computed fresh from
// headerPos on each exit path below (the fix for the uninitialized
// accumulator named in §9), never just the items' own bytes.
func (s *Streamer) sendFragment(link *linkio.Link, jobDesc uint16, sgid uint32, tid uint32, items []LogItem, start int) (int, error) {
	link.ResetWBuf()

	headerPos, err := link.ForwardWBufPos(wire.HeaderSize)
	if err != nil {
		return 0, fmt.Errorf("capture: reserve header: %w", err)
	}

	if err := link.WriteFourByteNumber(tid); err != nil {
		return 0, fmt.Errorf("capture: write tid: %w", err)
	}

	numItemsPos, err := link.ForwardWBufPos(4)
	if err != nil {
		return 0, fmt.Errorf("capture: reserve item count: %w", err)
	}

	read := 0
	totalDataLen := 0

	for start+read < len(items) {
		item := items[start+read]
		boundaryPos := link.WPos()

		if err := encodeItem(link, item); err != nil {
			if !errors.Is(err, wire.ErrBufferOverflow) {
				return 0, err
			}

			if read == 0 {
				// The very first item in this (empty so far) frame didn't
				// fit: no amount of fragmentation will ever make it fit.
				return 0, fmt.Errorf("%w: table=%s", ErrOversizedItem, item.TableName)
			}

			if err := link.SeekWBufPos(boundaryPos); err != nil {
				return 0, fmt.Errorf("capture: rewind to fragment boundary: %w", err)
			}

			totalDataLen = boundaryPos - (headerPos + wire.HeaderSize)
			if err := s.finishFragment(link, jobDesc, sgid, headerPos, numItemsPos, uint32(read), uint32(totalDataLen), wire.RCSuccessFragmented); err != nil {
				return 0, err
			}
			return read, nil
		}

		read++
	}

	// Every remaining item fit: this is the transaction's final fragment.
	totalDataLen = link.WPos() - (headerPos + wire.HeaderSize)
	if err := s.finishFragment(link, jobDesc, sgid, headerPos, numItemsPos, uint32(read), uint32(totalDataLen), wire.RCSuccess); err != nil {
		return 0, err
	}
	return read, nil
}

// finishFragment backfills the item count, writes the frame header into
// its reserved slot, and sends the frame.
func (s *Streamer) finishFragment(link *linkio.Link, jobDesc uint16, sgid uint32, headerPos, numItemsPos int, numItems, totalDataLen uint32, rc wire.ResultCode) error {
	if err := link.PutFourByteNumberAt(numItemsPos, numItems); err != nil {
		return fmt.Errorf("capture: backfill item count: %w", err)
	}

	hdr := wire.ProtocolHeader{
		OpID:           wire.OpCapturedDataResult,
		OpParam:        uint8(rc),
		JobDesc:        jobDesc,
		SessionGroupID: sgid,
		DataLen:        totalDataLen,
	}
	if err := link.PutHeaderAt(headerPos, hdr); err != nil {
		return fmt.Errorf("capture: write header: %w", err)
	}

	if err := link.Send(); err != nil {
		return fmt.Errorf("capture: send frame: %w", err)
	}

	logger.Debug("captured data frame sent",
		"job_desc", jobDesc, "sgid", sgid, "result", rc, "items", numItems, "data_len", totalDataLen)
	return nil
}

// sendFinalEmpty sends a single RC_SUCCESS frame with zero items, used
// only for a TransactionLogList that arrives with no items at all.
func (s *Streamer) sendFinalEmpty(link *linkio.Link, jobDesc uint16, sgid uint32, tid uint32) error {
	link.ResetWBuf()
	headerPos, err := link.ForwardWBufPos(wire.HeaderSize)
	if err != nil {
		return err
	}
	if err := link.WriteFourByteNumber(tid); err != nil {
		return err
	}
	numItemsPos, err := link.ForwardWBufPos(4)
	if err != nil {
		return err
	}
	totalDataLen := link.WPos() - (headerPos + wire.HeaderSize)
	return s.finishFragment(link, jobDesc, sgid, headerPos, numItemsPos, 0, uint32(totalDataLen), wire.RCSuccess)
}

// encodeItem writes one LogItem's wire encoding (§4.5's per-item layout)
// starting at the link's current write cursor. Any primitive write failing
// with wire.ErrBufferOverflow propagates unchanged so sendFragment can
// detect "didn't fit" without partially corrupting the reserved slots.
func encodeItem(link *linkio.Link, item LogItem) error {
	if err := link.WriteFourByteNumber(uint32(len(item.TableName))); err != nil {
		return err
	}
	if err := link.WriteBytes([]byte(item.TableName)); err != nil {
		return err
	}
	if err := link.WriteFourByteNumber(uint32(item.StmtType)); err != nil {
		return err
	}

	switch item.StmtType {
	case StmtInsert:
		if err := link.WriteFourByteNumber(uint32(len(item.SetColumns))); err != nil {
			return err
		}
		for _, c := range item.SetColumns {
			if err := encodeColumn(link, c); err != nil {
				return err
			}
		}

	case StmtUpdate:
		if err := encodeColumn(link, item.KeyColumn); err != nil {
			return err
		}
		if err := link.WriteFourByteNumber(uint32(len(item.SetColumns))); err != nil {
			return err
		}
		for _, c := range item.SetColumns {
			if err := encodeColumn(link, c); err != nil {
				return err
			}
		}

	case StmtDelete:
		if err := encodeColumn(link, item.KeyColumn); err != nil {
			return err
		}
	}

	return nil
}

// encodeColumn writes one Column: name_len, name, type, val_len, val.
func encodeColumn(link *linkio.Link, c Column) error {
	if err := link.WriteFourByteNumber(uint32(len(c.Name))); err != nil {
		return err
	}
	if err := link.WriteBytes(c.Name); err != nil {
		return err
	}
	if err := link.WriteFourByteNumber(c.Type); err != nil {
		return err
	}
	if err := link.WriteFourByteNumber(uint32(len(c.Value))); err != nil {
		return err
	}
	return link.WriteBytes(c.Value)
}
