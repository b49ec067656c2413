// Package server implements a small streaming chat backend. Each connection
// on /ws/{sessionID} receives replies as content fragments followed by an end
// marker.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/omochice/chatstream/pkg/protocol"
	"github.com/rs/zerolog"
)

const (
	DefaultAddr       = ":8765"
	DefaultChunkSize  = 20
	DefaultChunkDelay = 50 * time.Millisecond
	DefaultGreeting   = "Welcome! Send a message and I will stream a reply back to you."

	failureReply = "Sorry, something went wrong while answering. Please try again."
)

// Config controls the backend.
type Config struct {
	Addr string
	// ChunkSize is the number of runes per content frame. Zero or less sends
	// each reply as one frame.
	ChunkSize  int
	ChunkDelay time.Duration
	// Greeting is streamed to a session on its first connection. Empty
	// disables it.
	Greeting string
}

// DefaultConfig returns the stock backend settings.
func DefaultConfig() Config {
	return Config{
		Addr:       DefaultAddr,
		ChunkSize:  DefaultChunkSize,
		ChunkDelay: DefaultChunkDelay,
		Greeting:   DefaultGreeting,
	}
}

// Server represents a streaming chat server
type Server struct {
	cfg       Config
	responder Responder
	hub       *Hub
	logger    zerolog.Logger
	upgrader  websocket.Upgrader

	listener net.Listener
	server   *http.Server

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	quit  chan struct{}
	stop  sync.Once
	wg    sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithResponder sets the reply generator. The default is EchoResponder.
func WithResponder(r Responder) Option {
	return func(s *Server) { s.responder = r }
}

// WithLogger sets the server logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a new Server instance
func New(cfg Config, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		responder: EchoResponder{},
		hub:       NewHub(),
		logger:    zerolog.Nop(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for simplicity
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[*websocket.Conn]struct{}),
		quit:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "server").Logger()
	return s
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ws/{sessionID}", s.handleWebSocket)
	return r
}

// Start listens on the configured address and serves until Stop is called.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("server started")

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Wait for either error or quit signal
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to serve: %w", err)
	case <-s.quit:
		return nil
	}
}

// Stop closes the listener and every live connection, then waits for the
// session goroutines to finish.
func (s *Server) Stop() {
	s.stop.Do(func() {
		close(s.quit)

		s.mu.Lock()
		if s.server != nil {
			_ = s.server.Close()
		}
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
		s.logger.Info().Msg("server stopped")
	})
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Hub returns the session registry.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to upgrade connection")
		return
	}

	if !s.track(conn) {
		_ = conn.Close()
		return
	}
	defer s.untrack(conn)

	s.serveSession(conn, sessionID)
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.quit:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

// serveSession answers messages on conn one at a time until the client goes
// away.
func (s *Server) serveSession(conn *websocket.Conn, sessionID string) {
	defer conn.Close()

	logger := s.logger.With().Str("session_id", sessionID).Logger()
	session, created := s.hub.Register(sessionID)
	defer s.hub.Unregister(sessionID)
	logger.Info().Bool("new_session", created).Msg("client connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbound := make(chan string, 8)
	go func() {
		defer cancel()
		defer close(inbound)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Warn().Err(err).Msg("connection lost")
				} else {
					logger.Info().Msg("client disconnected")
				}
				return
			}

			u, err := protocol.DecodeUtterance(data)
			if err != nil {
				logger.Warn().Err(err).Msg("skipping malformed message")
				continue
			}
			select {
			case inbound <- u.Message:
			case <-ctx.Done():
				return
			}
		}
	}()

	if created && s.cfg.Greeting != "" {
		session.Append("assistant", s.cfg.Greeting)
		if err := s.stream(ctx, conn, s.cfg.Greeting); err != nil {
			logger.Debug().Err(err).Msg("greeting interrupted")
			return
		}
	}

	for text := range inbound {
		session.Append("user", text)
		reply, err := s.responder.Reply(ctx, sessionID, session.History())
		if err != nil {
			logger.Error().Err(err).Msg("responder failed")
			reply = failureReply
		}
		session.Append("assistant", reply)

		if err := s.stream(ctx, conn, reply); err != nil {
			logger.Debug().Err(err).Msg("reply interrupted")
			return
		}
	}
}

// stream writes text as content frames of ChunkSize runes followed by the
// end frame.
func (s *Server) stream(ctx context.Context, conn *websocket.Conn, text string) error {
	for _, chunk := range splitRunes(text, s.cfg.ChunkSize) {
		if err := writeFrame(conn, protocol.Content(chunk)); err != nil {
			return err
		}
		if s.cfg.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.ChunkDelay):
			}
		}
	}
	return writeFrame(conn, protocol.End())
}

func writeFrame(conn *websocket.Conn, f protocol.Frame) error {
	data, err := protocol.EncodeFrame(f)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	return nil
}

// splitRunes cuts text into pieces of at most size runes.
func splitRunes(text string, size int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if size <= 0 || len(runes) <= size {
		return []string{text}
	}
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
