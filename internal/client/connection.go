package client

import (
	"bufio"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// socket wraps a dialed net.Conn with client-side websocket framing using
// gobwas/ws. Writes, including control frame replies issued while reading,
// are serialized by writeMu.
type socket struct {
	conn    net.Conn
	reader  *wsutil.Reader
	control wsutil.FrameHandlerFunc
	writeMu sync.Mutex
	closed  sync.Once
}

func newSocket(conn net.Conn, br *bufio.Reader) *socket {
	s := &socket{
		conn:    conn,
		control: wsutil.ControlFrameHandler(conn, ws.StateClientSide),
	}

	var src io.Reader = conn
	if br != nil {
		// The server may have sent frames together with the handshake.
		src = br
	}
	s.reader = &wsutil.Reader{
		Source:         src,
		State:          ws.StateClientSide,
		// Left to protocol.DecodeFrame so invalid text drops one frame, not
		// the connection.
		CheckUTF8:      false,
		OnIntermediate: s.handleControl,
	}
	return s
}

// handleControl answers ping and close frames. A close frame yields
// wsutil.ClosedError.
func (s *socket) handleControl(hdr ws.Header, r io.Reader) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.control(hdr, r)
}

// ReadMessage returns the payload of the next text or binary message.
func (s *socket) ReadMessage() ([]byte, error) {
	for {
		hdr, err := s.reader.NextFrame()
		if err != nil {
			return nil, err
		}

		if hdr.OpCode.IsControl() {
			if err := s.handleControl(hdr, s.reader); err != nil {
				return nil, err
			}
			continue
		}

		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := s.reader.Discard(); err != nil {
				return nil, err
			}
			continue
		}

		return io.ReadAll(s.reader)
	}
}

// WriteText sends one text message.
func (s *socket) WriteText(data []byte, timeout time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteClientText(s.conn, data)
}

// Close sends a normal closure frame and closes the underlying connection.
func (s *socket) Close() error {
	var err error
	s.closed.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = wsutil.WriteClientMessage(s.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

// abort closes the connection without a closing handshake, unblocking the
// reader.
func (s *socket) abort() {
	s.closed.Do(func() {
		_ = s.conn.Close()
	})
}
