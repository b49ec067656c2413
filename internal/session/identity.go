// Package session owns the durable identifier that ties one client
// installation to its server-side conversation.
package session

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	// Namespace is the bucket all chatstream client state lives under.
	Namespace = "chatstream"
	// Key holds the session id inside Namespace.
	Key = "sessionId"
)

// ID is an opaque, globally unique session identifier.
type ID string

func (id ID) String() string { return string(id) }

// Identity hands out the session id, creating and persisting it on first use.
// The id is only ever replaced by Clear; a dropped connection never does it.
type Identity struct {
	store    Store
	logger   zerolog.Logger
	newID    func() string
	mu       sync.Mutex
	current  ID
	created  bool
	degraded bool
}

// Option configures an Identity.
type Option func(*Identity)

// WithLogger sets the logger used to report degraded mode.
func WithLogger(logger zerolog.Logger) Option {
	return func(i *Identity) {
		i.logger = logger.With().Str("component", "session").Logger()
	}
}

// WithGenerator replaces the random id source.
func WithGenerator(gen func() string) Option {
	return func(i *Identity) {
		i.newID = gen
	}
}

// NewIdentity creates an Identity over store. A nil store means there is no
// durable storage and the identity starts out degraded.
func NewIdentity(store Store, opts ...Option) *Identity {
	i := &Identity{
		store:  store,
		logger: zerolog.Nop(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// GetOrCreate returns the session id. The first call reads the persisted key
// and, when absent, generates and stores a new random id. If storage is
// unavailable the id lives only in this process; Degraded reports that.
func (i *Identity) GetOrCreate(ctx context.Context) ID {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.current != "" {
		return i.current
	}

	if i.store == nil {
		return i.fallbackLocked(errors.New("no durable store configured"))
	}

	value, found, err := i.store.Get(ctx, Key)
	if err != nil {
		return i.fallbackLocked(errors.Wrap(err, "read session id"))
	}
	if found && strings.TrimSpace(value) != "" {
		i.current = ID(value)
		i.logger.Debug().Str("session_id", value).Msg("loaded session id")
		return i.current
	}

	id := ID(i.newID())
	i.created = true
	if err := i.store.Set(ctx, Key, id.String()); err != nil {
		i.current = id
		i.markDegradedLocked(errors.Wrap(err, "persist session id"))
		return i.current
	}
	i.current = id
	i.logger.Info().Str("session_id", id.String()).Msg("created session id")
	return i.current
}

// Clear forgets the id both in memory and in storage. The next GetOrCreate
// starts a brand-new conversation.
func (i *Identity) Clear(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.current = ""
	i.created = false
	i.degraded = false
	if i.store == nil {
		return nil
	}
	if err := i.store.Delete(ctx, Key); err != nil {
		return errors.Wrap(err, "clear session id")
	}
	return nil
}

// Degraded reports whether the current id will not survive a restart.
func (i *Identity) Degraded() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.degraded
}

// Created reports whether the current id was generated by this process
// rather than loaded from storage.
func (i *Identity) Created() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.created
}

func (i *Identity) fallbackLocked(cause error) ID {
	i.current = ID(i.newID())
	i.created = true
	i.markDegradedLocked(cause)
	return i.current
}

func (i *Identity) markDegradedLocked(cause error) {
	i.degraded = true
	i.logger.Warn().
		Err(cause).
		Str("session_id", i.current.String()).
		Msg("session storage unavailable, using in-process id; the conversation will not survive restart")
}
