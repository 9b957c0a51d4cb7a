package session

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/msdhamodharan/xpedite/internal/protocol"
)

// readDeadline bounds each poll tick's attempt to read a frame from the
// connected client, so Remote.Poll always returns within one poll
// interval even mid-frame (spec §5, suspension points).
const readDeadline = 5 * time.Millisecond

// Remote is the TCP control-plane session (spec §4.6). At most one client
// is accepted at a time; while connected, further accepts are refused
// until the current client disconnects.
//
// A frame that doesn't arrive whole within one poll tick's read deadline is
// not an error: the bytes already read are kept in lenBuf/payload and the
// next Poll picks up exactly where this one left off, rather than
// re-reading from a desynced stream position (spec §5).
type Remote struct {
	listener net.Listener
	conn     net.Conn

	lenBuf     [4]byte
	lenGot     int
	haveLen    bool
	payload    []byte
	gotPayload int
}

// Listen binds a TCP listener on ip with an OS-assigned port (port=0), as
// required so the bound port can be reported via the app-info file.
func Listen(ip string) (*Remote, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(ip, "0"))
	if err != nil {
		return nil, errors.Wrapf(err, "bind remote session listener on %s", ip)
	}
	return &Remote{listener: l}, nil
}

// Port returns the OS-assigned listener port.
func (r *Remote) Port() int {
	return r.listener.Addr().(*net.TCPAddr).Port
}

// Poll accepts a new client if none is connected, then attempts to read
// and execute one framed request against d. It returns whether it did any
// work this tick, and whether the session is still connected afterward.
func (r *Remote) Poll(d protocol.Dispatcher) (didWork bool, connected bool) {
	if r.conn == nil {
		if err := r.tryAccept(); err != nil {
			return false, false
		}
	}
	if r.conn == nil {
		return false, false
	}

	line, err := r.readFrame()
	if err != nil {
		if err == errNoFrameYet {
			return false, true
		}
		r.disconnect()
		return false, false
	}

	resp := protocol.Dispatch(d, line, protocol.OriginRemote)
	if err := r.writeFrame(protocol.EncodeFrame(resp)); err != nil {
		r.disconnect()
		return true, false
	}
	return true, true
}

func (r *Remote) tryAccept() error {
	tcpListener, ok := r.listener.(*net.TCPListener)
	if ok {
		if err := tcpListener.SetDeadline(time.Now().Add(readDeadline)); err != nil {
			return err
		}
	}
	conn, err := r.listener.Accept()
	if err != nil {
		return err
	}
	r.conn = conn
	return nil
}

var errNoFrameYet = errors.New("no complete frame available yet")

// readFrame advances whatever frame is currently in flight by as much as
// fits within one read deadline, and only returns a decoded line once the
// full length-prefixed frame has arrived. A timeout mid-frame is not an
// error: the partial bytes already read stay in r.lenBuf/r.payload so the
// next call resumes the same frame instead of resyncing against a
// misaligned stream position.
func (r *Remote) readFrame() (string, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		return "", err
	}

	if !r.haveLen {
		n, err := io.ReadFull(r.conn, r.lenBuf[r.lenGot:])
		r.lenGot += n
		if err != nil {
			if isTimeout(err) {
				return "", errNoFrameYet
			}
			return "", err
		}
		r.haveLen = true
		size := binary.LittleEndian.Uint32(r.lenBuf[:])
		r.payload = make([]byte, size)
		r.gotPayload = 0
	}

	if r.gotPayload < len(r.payload) {
		n, err := io.ReadFull(r.conn, r.payload[r.gotPayload:])
		r.gotPayload += n
		if err != nil {
			if isTimeout(err) {
				return "", errNoFrameYet
			}
			return "", err
		}
	}

	line := string(r.payload)
	r.resetFrameState()
	return line, nil
}

func (r *Remote) resetFrameState() {
	r.lenBuf = [4]byte{}
	r.lenGot = 0
	r.haveLen = false
	r.payload = nil
	r.gotPayload = 0
}

func (r *Remote) writeFrame(payload []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := r.conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := r.conn.Write(payload)
	return err
}

func (r *Remote) disconnect() {
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	r.resetFrameState()
}

// Connected reports whether a client is currently attached.
func (r *Remote) Connected() bool { return r.conn != nil }

// Close shuts down the listener and any connected client.
func (r *Remote) Close() error {
	r.disconnect()
	return r.listener.Close()
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
