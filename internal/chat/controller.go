package chat

import (
	"strings"
	"sync"
	"time"

	"github.com/omochice/chatstream/pkg/protocol"
	"github.com/rs/zerolog"
)

// Observer receives controller notifications. Methods are called with the
// controller lock held, in emit order, and must not call back into the
// controller.
type Observer interface {
	// TranscriptAppended fires once per committed entry.
	TranscriptAppended(entry Entry)
	// PartialUpdated carries the in-progress reply; "" clears it.
	PartialUpdated(text string)
	ConnectionChanged(connected bool)
	// TurnAborted reports a turn discarded without a reply, with the text
	// that had arrived so far.
	TurnAborted(reason AbortReason, partial string)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) TranscriptAppended(Entry) {}
func (NopObserver) PartialUpdated(string) {}
func (NopObserver) ConnectionChanged(bool) {}
func (NopObserver) TurnAborted(AbortReason, string) {}

var _ Observer = NopObserver{}

// Controller owns the transcript and enforces one in-flight turn.
type Controller struct {
	transport   Transport
	observer    Observer
	assembler   *Assembler
	logger      zerolog.Logger
	now         func() time.Time
	turnTimeout time.Duration
	serverTurns bool

	// mu guards the connection flag, the turn and the transcript together so
	// that Submit sees a consistent view.
	mu         sync.Mutex
	connected  bool
	turn       *Turn
	timer      *time.Timer
	transcript []Entry
}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver sets the notification sink.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithLogger sets the controller logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithTurnTimeout aborts a turn that has not ended within d. Zero disables.
func WithTurnTimeout(d time.Duration) Option {
	return func(c *Controller) { c.turnTimeout = d }
}

// WithServerInitiatedTurns lets a Content frame that arrives with no turn in
// flight open an assistant-only turn, as a backend greeting does.
func WithServerInitiatedTurns() Option {
	return func(c *Controller) { c.serverTurns = true }
}

// NewController wires a controller to transport, registering its listeners.
func NewController(transport Transport, opts ...Option) *Controller {
	c := &Controller{
		transport: transport,
		observer:  NopObserver{},
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.observer == nil {
		c.observer = NopObserver{}
	}
	c.logger = c.logger.With().Str("component", "chat").Logger()
	c.assembler = NewAssembler(c.now, c.logger)

	transport.OnStateChange(c.handleState)
	transport.OnFrame(c.handleFrame)

	// Listeners first, then the read under mu: a flip racing construction
	// waits in handleState and is applied after the initial value.
	c.mu.Lock()
	c.connected = transport.Connected()
	c.mu.Unlock()
	return c
}

// Submit sends text as a new turn. It returns a *RejectedError when text is
// blank, a turn is in flight, or the transport is disconnected, checked in
// that order.
func (c *Controller) Submit(text string) error {
	if strings.TrimSpace(text) == "" {
		return &RejectedError{Reason: ReasonEmpty}
	}

	c.mu.Lock()
	if c.turn != nil {
		c.mu.Unlock()
		return &RejectedError{Reason: ReasonTurnInFlight}
	}
	if !c.connected {
		c.mu.Unlock()
		return &RejectedError{Reason: ReasonDisconnected}
	}

	now := c.now()
	c.appendLocked(Entry{Role: RoleUser, Content: text, Timestamp: now})
	turn := &Turn{UserText: text, SentAt: now}
	c.openLocked(turn)
	c.mu.Unlock()

	c.transport.Send(protocol.Utterance{Message: text})
	return nil
}

// Transcript returns a copy of the committed entries.
func (c *Controller) Transcript() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.transcript...)
}

// Partial returns the reply assembled so far, or "" with no turn in flight.
func (c *Controller) Partial() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn == nil {
		return ""
	}
	return c.turn.Buffer()
}

// InFlight reports whether a turn awaits its End frame.
func (c *Controller) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turn != nil
}

// Connected reports the connection state last seen by the controller.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Controller) handleFrame(frame protocol.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.turn == nil {
		if !c.serverTurns || !c.connected || frame.Kind != protocol.FrameContent {
			c.logger.Debug().Stringer("frame", frame.Kind).Msg("ignoring frame, no turn in flight")
			return
		}
		c.openLocked(&Turn{SentAt: c.now(), serverInitiated: true})
		c.logger.Debug().Msg("server opened a turn")
	}

	turn := c.turn
	out := c.assembler.Feed(frame, turn)
	switch out.Kind {
	case OutcomeInProgress:
		c.observer.PartialUpdated(turn.Buffer())
	case OutcomeCompleted:
		c.closeLocked()
		c.appendLocked(Entry{Role: RoleAssistant, Content: out.Text, Timestamp: out.StartedAt})
		c.observer.PartialUpdated("")
	}
}

func (c *Controller) handleState(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected == connected {
		return
	}
	c.connected = connected
	if !connected && c.turn != nil {
		c.abortLocked(AbortDisconnected)
	}
	c.observer.ConnectionChanged(connected)
}

func (c *Controller) appendLocked(entry Entry) {
	c.transcript = append(c.transcript, entry)
	c.observer.TranscriptAppended(entry)
}

func (c *Controller) openLocked(turn *Turn) {
	c.turn = turn
	if c.turnTimeout > 0 {
		c.timer = time.AfterFunc(c.turnTimeout, func() { c.expire(turn) })
	}
}

func (c *Controller) closeLocked() {
	c.turn = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) abortLocked(reason AbortReason) {
	partial := c.turn.Buffer()
	c.closeLocked()
	c.logger.Warn().
		Stringer("reason", reason).
		Int("partial_bytes", len(partial)).
		Msg("turn aborted, partial reply discarded")
	c.observer.PartialUpdated("")
	c.observer.TurnAborted(reason, partial)
}

// expire aborts turn if it is still the one in flight.
func (c *Controller) expire(turn *Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn != turn {
		return
	}
	c.abortLocked(AbortTimeout)
}
