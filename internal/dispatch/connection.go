package dispatch

import (
	"context"
	"errors"
	"net"

	"github.com/google/uuid"

	"github.com/ctcproto/ctcpd/internal/linkio"
	"github.com/ctcproto/ctcpd/internal/logger"
	"github.com/ctcproto/ctcpd/internal/server"
)

// Factory adapts a Dispatcher to internal/server's ConnectionFactory, so
// the TCP accept loop never needs to know the protocol core exists beyond
// this one seam. It is kept in internal/dispatch rather than internal/server
// so the dependency runs dispatch -> server, matching §4.3's "dispatcher
// switches on opcode" core depending on the outer connection lifecycle,
// never the reverse.
type Factory struct {
	Dispatcher *Dispatcher

	// BufferSize sizes each connection's Link read/write buffers. Zero
	// falls back to linkio.DefaultBufferSize.
	BufferSize int
}

// NewConnection implements server.ConnectionFactory.
func (f *Factory) NewConnection(conn net.Conn) server.ConnectionHandler {
	bufSize := f.BufferSize
	if bufSize <= 0 {
		bufSize = linkio.DefaultBufferSize
	}
	return &Connection{
		dispatcher: f.Dispatcher,
		link:       linkio.New(conn, bufSize),
		id:         uuid.NewString(),
	}
}

// Connection drives one accepted net.Conn through the synchronous
// receive -> dispatch -> respond loop of §4.3/§5: exactly one request in
// flight at a time, with captured data for the connection's session group
// drained opportunistically between requests (§4.5's streaming handoff).
//
// A Connection has no exported methods beyond Serve; it is not reused or
// shared across goroutines.
type Connection struct {
	dispatcher *Dispatcher
	link       *linkio.Link

	// id correlates every log line this connection emits, independent of
	// which session group it ends up addressing (a connection learns its
	// sgid from the client's first request, same as the C original's
	// sgid_hint).
	id string

	// sgid is the session group this connection has been observed
	// addressing. It starts at wire.NullSGID and is set from the first
	// resolved request header -- including the implicit assignment
	// CREATE_CONTROL_SESSION makes for a client that doesn't have one yet.
	sgid uint32
}

// Serve implements server.ConnectionHandler. It blocks until ctx is
// cancelled or the connection hits a tier-3 (connection-fatal) error per
// §7: a recv timeout while idle, a transport error, or a send failure.
// The session group the connection addressed is never destroyed on exit --
// only the TCP connection is torn down, per §7's "the client may reconnect
// and reuse the SGID."
func (c *Connection) Serve(ctx context.Context) {
	remote := "unknown"
	if conn := c.link.Conn(); conn != nil {
		remote = conn.RemoteAddr().String()
	}
	logger.Debug("ctcp connection started", "conn_id", c.id, "remote", remote)

	defer func() {
		logger.Debug("ctcp connection ended", "conn_id", c.id, "remote", remote, "sgid", c.sgid)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		timeout := RecvTimeoutMax
		polling := c.sgid != 0 && c.dispatcher.HasActiveCapture(c.sgid)
		if polling {
			timeout = CapturePollInterval
		}

		hdr, err := c.dispatcher.ProcessOnce(ctx, c.link, timeout)
		if err != nil {
			if errors.Is(err, linkio.ErrTimedOut) && polling {
				// Expected: no new request arrived during this poll window
				// while a job under our group is RUNNING. Not connection
				// fatal -- fall through and drain whatever captured data
				// is ready, then poll again.
			} else if errors.Is(err, linkio.ErrTimedOut) {
				logger.Debug("ctcp connection: recv timeout, closing", "conn_id", c.id)
				return
			} else {
				logger.Warn("ctcp connection: fatal error, closing", "conn_id", c.id, "error", err)
				return
			}
		} else if hdr.SessionGroupID != 0 {
			c.sgid = hdr.SessionGroupID
		}

		if c.sgid != 0 {
			if err := c.dispatcher.PushReadyCapturedData(c.link, c.sgid); err != nil {
				logger.Warn("ctcp connection: failed to push captured data, closing",
					"conn_id", c.id, "sgid", c.sgid, "error", err)
				return
			}
		}
	}
}
