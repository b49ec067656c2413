package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/omochice/chatstream/pkg/protocol"
	"github.com/rs/zerolog"
)

const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// Connection owns one duplex websocket connection to <endpoint>/ws/<session>.
// It never interprets payload semantics beyond decoding frames.
//
// Listeners are invoked from the goroutine that caused the event: Connect's
// caller for the connected transition and the reader goroutine for frames and
// remote disconnects. Listeners must not call Disconnect.
type Connection struct {
	url          string
	sessionID    string
	dialTimeout  time.Duration
	writeTimeout time.Duration
	logger       zerolog.Logger

	mu         sync.Mutex
	state      State
	sock       *socket
	gen        uint64
	readerDone chan struct{}

	// emitMu orders state transitions with their listener calls.
	emitMu sync.Mutex

	listenerMu sync.RWMutex
	onState    func(connected bool)
	onFrame    func(protocol.Frame)
}

// Option configures a Connection.
type Option func(*Connection)

// WithDialTimeout bounds the TCP connect plus websocket handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Connection) { c.dialTimeout = d }
}

// WithWriteTimeout bounds a single Send.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Connection) { c.writeTimeout = d }
}

// WithLogger sets the connection logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Connection) { c.logger = logger }
}

// New creates a disconnected Connection for sessionID at endpoint.
func New(endpoint, sessionID string, opts ...Option) (*Connection, error) {
	url, err := protocol.Endpoint(endpoint, sessionID)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		url:          url,
		sessionID:    sessionID,
		dialTimeout:  DefaultDialTimeout,
		writeTimeout: DefaultWriteTimeout,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().
		Str("component", "transport").
		Str("session_id", sessionID).
		Logger()
	return c, nil
}

// OnStateChange registers the single connection-state listener. Registering
// again replaces the previous listener.
func (c *Connection) OnStateChange(fn func(connected bool)) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.onState = fn
}

// OnFrame registers the single inbound-frame listener.
func (c *Connection) OnFrame(fn func(protocol.Frame)) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.onFrame = fn
}

// URL returns the websocket URL this connection dials.
func (c *Connection) URL() string { return c.url }

// SessionID returns the session this connection is bound to.
func (c *Connection) SessionID() string { return c.sessionID }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the connection is usable for Send.
func (c *Connection) Connected() bool {
	return c.State() == StateConnected
}

// Connect dials the server. Calling it while connecting or connected is a
// no-op that logs a warning. A failed dial leaves the connection
// disconnected without firing the state listener.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		c.logger.Warn().Str("state", state.String()).Msg("connect called while not disconnected, ignoring")
		return nil
	}
	c.state = StateConnecting
	startGen := c.gen
	c.mu.Unlock()

	c.logger.Debug().Str("url", c.url).Msg("dialing")
	dialer := ws.Dialer{Timeout: c.dialTimeout}
	conn, br, _, err := dialer.Dial(ctx, c.url)
	if err != nil {
		c.mu.Lock()
		if c.gen == startGen && c.state == StateConnecting {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	sock := newSocket(conn, br)

	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.gen != startGen || c.state != StateConnecting {
		c.mu.Unlock()
		sock.abort()
		return ErrConnectAborted
	}
	c.gen++
	gen := c.gen
	c.sock = sock
	c.state = StateConnected
	done := make(chan struct{})
	c.readerDone = done
	c.mu.Unlock()

	c.logger.Info().Str("url", c.url).Msg("connected")
	c.emitState(true)

	go c.receiveFrames(gen, sock, done)
	return nil
}

// Disconnect closes the connection. It is safe to call when already
// disconnected. It blocks until the reader goroutine has exited.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	switch c.state {
	case StateDisconnected:
		c.mu.Unlock()
		return
	case StateConnecting:
		// Abandon the in-flight dial; Connect closes the socket if it lands.
		c.state = StateDisconnected
		c.gen++
		c.mu.Unlock()
		return
	}
	gen := c.gen
	done := c.readerDone
	c.mu.Unlock()

	c.takeDown(gen, nil)
	if done != nil {
		<-done
	}
}

// Send writes one utterance. It is dropped, not queued, when the connection
// is not connected. A write failure tears the socket down and the reader
// reports the disconnect.
func (c *Connection) Send(u protocol.Utterance) {
	c.mu.Lock()
	state, sock := c.state, c.sock
	c.mu.Unlock()

	if state != StateConnected || sock == nil {
		c.logger.Debug().Str("state", state.String()).Msg("dropping utterance, not connected")
		return
	}

	data, err := u.Encode()
	if err != nil {
		c.logger.Error().Err(err).Msg("dropping utterance")
		return
	}

	if err := sock.WriteText(data, c.writeTimeout); err != nil {
		c.logger.Warn().Err(err).Msg("failed to send utterance, closing connection")
		sock.abort()
	}
}

// receiveFrames delivers frames in wire order until the socket fails.
func (c *Connection) receiveFrames(gen uint64, sock *socket, done chan struct{}) {
	defer close(done)

	for {
		data, err := sock.ReadMessage()
		if err != nil {
			c.takeDown(gen, err)
			return
		}

		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			c.logger.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed frame")
			continue
		}
		c.emitFrame(frame)
	}
}

// takeDown moves generation gen to Disconnected. Only the first caller for a
// generation fires the listener.
func (c *Connection) takeDown(gen uint64, cause error) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.gen != gen || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	sock := c.sock
	c.sock = nil
	c.mu.Unlock()

	if cause == nil {
		_ = sock.Close()
		c.logger.Info().Msg("disconnected")
	} else {
		sock.abort()
		logDisconnect(c.logger, cause)
	}

	c.emitState(false)
}

func logDisconnect(logger zerolog.Logger, cause error) {
	var closed wsutil.ClosedError
	switch {
	case errors.As(cause, &closed):
		logger.Info().Int("code", int(closed.Code)).Str("reason", closed.Reason).Msg("server closed connection")
	case errors.Is(cause, io.EOF), errors.Is(cause, io.ErrUnexpectedEOF), errors.Is(cause, net.ErrClosed):
		logger.Info().Err(cause).Msg("connection closed")
	default:
		logger.Warn().Err(cause).Msg("connection lost")
	}
}

func (c *Connection) emitState(connected bool) {
	c.listenerMu.RLock()
	fn := c.onState
	c.listenerMu.RUnlock()
	if fn != nil {
		fn(connected)
	}
}

func (c *Connection) emitFrame(f protocol.Frame) {
	c.listenerMu.RLock()
	fn := c.onFrame
	c.listenerMu.RUnlock()
	if fn != nil {
		fn(f)
	}
}
