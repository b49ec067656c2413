package chat

import (
	"strings"
	"time"

	"github.com/omochice/chatstream/pkg/protocol"
	"github.com/rs/zerolog"
)

// Role identifies the author of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one immutable transcript record.
type Entry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Turn is one user utterance and the assistant response being assembled for
// it. A server-initiated turn has no user text.
type Turn struct {
	UserText          string
	SentAt            time.Time
	ResponseStartedAt time.Time

	buf             strings.Builder
	started         bool
	completed       bool
	serverInitiated bool
}

// Buffer returns the text accumulated so far.
func (t *Turn) Buffer() string { return t.buf.String() }

// Started reports whether any Content frame has arrived.
func (t *Turn) Started() bool { return t.started }

// Completed reports whether End has been applied.
func (t *Turn) Completed() bool { return t.completed }

// ServerInitiated reports whether the backend opened this turn unprompted.
func (t *Turn) ServerInitiated() bool { return t.serverInitiated }

// OutcomeKind is the result of feeding one frame to a turn.
type OutcomeKind int

const (
	OutcomeInProgress OutcomeKind = iota
	OutcomeCompleted
	OutcomeIgnored
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeInProgress:
		return "in_progress"
	case OutcomeCompleted:
		return "completed"
	case OutcomeIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Outcome is returned by Assembler.Feed. Text and StartedAt are set only for
// OutcomeCompleted.
type Outcome struct {
	Kind      OutcomeKind
	Text      string
	StartedAt time.Time
}

// Assembler folds a stream of frames into a turn's response.
type Assembler struct {
	now    func() time.Time
	logger zerolog.Logger
}

// NewAssembler returns an Assembler. A nil now uses time.Now.
func NewAssembler(now func() time.Time, logger zerolog.Logger) *Assembler {
	if now == nil {
		now = time.Now
	}
	return &Assembler{now: now, logger: logger}
}

// Feed applies frame to turn. Content frames append in arrival order and the
// first one, even if empty, stamps ResponseStartedAt. End completes the turn
// exactly once; any frame after completion is ignored.
func (a *Assembler) Feed(frame protocol.Frame, turn *Turn) Outcome {
	if turn == nil {
		a.logger.Debug().Stringer("frame", frame.Kind).Msg("ignoring frame, no turn")
		return Outcome{Kind: OutcomeIgnored}
	}
	if turn.completed {
		a.logger.Debug().Stringer("frame", frame.Kind).Msg("ignoring frame after end")
		return Outcome{Kind: OutcomeIgnored}
	}

	switch frame.Kind {
	case protocol.FrameContent:
		if !turn.started {
			turn.started = true
			turn.ResponseStartedAt = a.now()
		}
		turn.buf.WriteString(frame.Text)
		return Outcome{Kind: OutcomeInProgress}

	case protocol.FrameEnd:
		turn.completed = true
		started := turn.ResponseStartedAt
		if !turn.started {
			started = a.now()
		}
		return Outcome{Kind: OutcomeCompleted, Text: turn.buf.String(), StartedAt: started}

	default:
		a.logger.Warn().Int("kind", int(frame.Kind)).Msg("ignoring frame of unknown kind")
		return Outcome{Kind: OutcomeIgnored}
	}
}
