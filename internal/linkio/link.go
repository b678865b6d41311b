// Package linkio implements LinkIO, the byte-oriented transport collaborator
// CTCP's core is specified against: a buffered net.Conn wrapper with
// explicit read/write cursors and a blocking-with-timeout recv.
package linkio

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"time"

	"github.com/ctcproto/ctcpd/internal/wire"
)

// DefaultBufferSize is the read/write buffer capacity used when none is
// specified. Per §6.2 it must be at least PACKET_DATA_MAX_LEN + HeaderSize.
const DefaultBufferSize = PacketDataMaxLen + wire.HeaderSize

// PacketDataMaxLen bounds a single CAPTURED_DATA_RESULT frame's payload.
// The capture streamer fragments across this boundary; a single item that
// doesn't fit is a fatal OversizedItem condition (§4.5).
const PacketDataMaxLen = 64 * 1024

// ErrTimedOut is returned by Recv when no complete frame arrives within the
// given timeout. Per §5, the caller (the connection loop) treats this as
// connection-fatal: the connection is closed, the session group survives.
var ErrTimedOut = errors.New("linkio: recv timed out")

// Link wraps a net.Conn with fixed-capacity read and write buffers and
// explicit cursor bookkeeping, mirroring the ctcn_link_* primitives the
// capture streamer needs to reserve and later backfill a length prefix.
type Link struct {
	conn net.Conn

	rbuf []byte
	rpos int
	rlen int // valid bytes in rbuf, set by Recv

	wbuf []byte
	wpos int
}

// New wraps conn with read/write buffers of size bufSize.
func New(conn net.Conn, bufSize int) *Link {
	if bufSize < DefaultBufferSize {
		bufSize = DefaultBufferSize
	}
	return &Link{
		conn: conn,
		rbuf: make([]byte, bufSize),
		wbuf: make([]byte, bufSize),
	}
}

// Conn returns the underlying net.Conn, e.g. for RemoteAddr() or Close().
func (l *Link) Conn() net.Conn { return l.conn }

// Close closes the underlying connection.
func (l *Link) Close() error { return l.conn.Close() }

// ResetRBuf rewinds the read cursor to the start of the buffer.
func (l *Link) ResetRBuf() { l.rpos = 0 }

// ResetWBuf rewinds the write cursor to the start of the buffer.
func (l *Link) ResetWBuf() { l.wpos = 0 }

// WPos returns the current write cursor offset.
func (l *Link) WPos() int { return l.wpos }

// RPos returns the current read cursor offset.
func (l *Link) RPos() int { return l.rpos }

// ForwardWBufPos advances the write cursor by n bytes without writing,
// reserving space for a value to be filled in later (e.g. a fragment's
// item count). Returns the offset of the reserved region.
func (l *Link) ForwardWBufPos(n int) (int, error) {
	if l.wpos+n > len(l.wbuf) {
		return 0, wire.ErrBufferOverflow
	}
	pos := l.wpos
	l.wpos += n
	return pos, nil
}

// BackwardWBufPos rewinds the write cursor by n bytes, discarding anything
// written past the new position. Used when a capture item doesn't fit in
// the current frame and must be retried in the next one.
func (l *Link) BackwardWBufPos(n int) error {
	if l.wpos-n < 0 {
		return wire.ErrBufferOverflow
	}
	l.wpos -= n
	return nil
}

// SeekWBufPos sets the write cursor to an absolute offset, used to backfill
// a previously reserved length prefix without disturbing bytes written
// since.
func (l *Link) SeekWBufPos(pos int) error {
	if pos < 0 || pos > len(l.wbuf) {
		return wire.ErrBufferOverflow
	}
	l.wpos = pos
	return nil
}

// WriteOneByteNumber appends a single byte at the write cursor.
func (l *Link) WriteOneByteNumber(v uint8) error {
	if l.wpos+1 > len(l.wbuf) {
		return wire.ErrBufferOverflow
	}
	l.wbuf[l.wpos] = v
	l.wpos++
	return nil
}

// WriteTwoByteNumber appends a little-endian uint16 at the write cursor.
func (l *Link) WriteTwoByteNumber(v uint16) error {
	if l.wpos+2 > len(l.wbuf) {
		return wire.ErrBufferOverflow
	}
	binary.LittleEndian.PutUint16(l.wbuf[l.wpos:], v)
	l.wpos += 2
	return nil
}

// WriteFourByteNumber appends a little-endian uint32 at the write cursor.
func (l *Link) WriteFourByteNumber(v uint32) error {
	if l.wpos+4 > len(l.wbuf) {
		return wire.ErrBufferOverflow
	}
	binary.LittleEndian.PutUint32(l.wbuf[l.wpos:], v)
	l.wpos += 4
	return nil
}

// WriteBytes appends raw bytes at the write cursor.
func (l *Link) WriteBytes(b []byte) error {
	if l.wpos+len(b) > len(l.wbuf) {
		return wire.ErrBufferOverflow
	}
	copy(l.wbuf[l.wpos:], b)
	l.wpos += len(b)
	return nil
}

// PutFourByteNumberAt backfills a little-endian uint32 at a fixed offset
// without moving the write cursor — used to fill in a count reserved
// earlier via ForwardWBufPos.
func (l *Link) PutFourByteNumberAt(pos int, v uint32) error {
	if pos < 0 || pos+4 > len(l.wbuf) {
		return wire.ErrBufferOverflow
	}
	binary.LittleEndian.PutUint32(l.wbuf[pos:], v)
	return nil
}

// PutHeaderAt encodes hdr into the write buffer at a fixed offset without
// moving the write cursor, used by the capture streamer to backfill a
// frame's header once its final data_len is known: the header's 16 bytes
// are reserved up front with ForwardWBufPos, the payload is written after
// them, and PutHeaderAt fills the reservation in place just before Send.
func (l *Link) PutHeaderAt(pos int, hdr wire.ProtocolHeader) error {
	if pos < 0 || pos+wire.HeaderSize > len(l.wbuf) {
		return wire.ErrBufferOverflow
	}
	return hdr.Encode(l.wbuf[pos : pos+wire.HeaderSize])
}

// ReadOneByteNumber reads a single byte at the read cursor.
func (l *Link) ReadOneByteNumber() (uint8, error) {
	if l.rpos+1 > l.rlen {
		return 0, io.ErrUnexpectedEOF
	}
	v := l.rbuf[l.rpos]
	l.rpos++
	return v, nil
}

// ReadTwoByteNumber reads a little-endian uint16 at the read cursor.
func (l *Link) ReadTwoByteNumber() (uint16, error) {
	if l.rpos+2 > l.rlen {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint16(l.rbuf[l.rpos:])
	l.rpos += 2
	return v, nil
}

// ReadFourByteNumber reads a little-endian uint32 at the read cursor.
func (l *Link) ReadFourByteNumber() (uint32, error) {
	if l.rpos+4 > l.rlen {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint32(l.rbuf[l.rpos:])
	l.rpos += 4
	return v, nil
}

// ReadBytes reads n raw bytes at the read cursor.
func (l *Link) ReadBytes(n int) ([]byte, error) {
	if l.rpos+n > l.rlen {
		return nil, io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	copy(b, l.rbuf[l.rpos:l.rpos+n])
	l.rpos += n
	return b, nil
}

// RBytes returns the valid, unread portion of the read buffer without
// advancing the cursor — used by the dispatcher to hand a raw payload to a
// handler that wants to parse it in one shot.
func (l *Link) RBytes() []byte {
	return l.rbuf[l.rpos:l.rlen]
}

// Recv blocks until a complete CTCP frame (header + data_len payload bytes)
// has been read into the read buffer, or until timeout elapses. On success
// the read cursor is reset to 0 and positioned at the start of the header.
//
// Returns ErrTimedOut on timeout, matching §5's "connection is closed, the
// session group is not destroyed" contract — callers must close the
// connection on this error, not retry indefinitely.
func (l *Link) Recv(timeout time.Duration) error {
	if err := l.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}

	if _, err := io.ReadFull(l.conn, l.rbuf[:wire.HeaderSize]); err != nil {
		if isTimeout(err) {
			return ErrTimedOut
		}
		return err
	}

	hdr, err := wire.DecodeHeader(l.rbuf[:wire.HeaderSize])
	if err != nil {
		return err
	}

	total := wire.HeaderSize + int(hdr.DataLen)
	if total > len(l.rbuf) {
		return wire.ErrBufferOverflow
	}

	if hdr.DataLen > 0 {
		if _, err := io.ReadFull(l.conn, l.rbuf[wire.HeaderSize:total]); err != nil {
			if isTimeout(err) {
				return ErrTimedOut
			}
			return err
		}
	}

	l.rlen = total
	l.rpos = 0
	return nil
}

// Send writes the write buffer's bytes (from 0 to the current write cursor)
// to the connection, then resets the write cursor.
func (l *Link) Send() error {
	if _, err := l.conn.Write(l.wbuf[:l.wpos]); err != nil {
		return err
	}
	l.wpos = 0
	return nil
}

// SetReadDeadline sets a read deadline on the underlying connection,
// used by the server to interrupt a blocking Recv during shutdown.
func (l *Link) SetReadDeadline(t time.Time) error {
	return l.conn.SetReadDeadline(t)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
