// Package reconnect re-dials a dropped connection with exponential backoff.
package reconnect

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 30 * time.Second
	DefaultMaxElapsed      = 2 * time.Minute
)

// Connector is the part of the transport the reconnector drives.
type Connector interface {
	Connect(ctx context.Context) error
}

// Reconnector watches connection flips and re-dials after every drop.
type Reconnector struct {
	conn            Connector
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsed      time.Duration
	logger          zerolog.Logger
}

// Option configures a Reconnector.
type Option func(*Reconnector)

func WithInitialInterval(d time.Duration) Option {
	return func(r *Reconnector) { r.initialInterval = d }
}

func WithMaxInterval(d time.Duration) Option {
	return func(r *Reconnector) { r.maxInterval = d }
}

// WithMaxElapsed bounds one retry sequence. Zero retries until the context
// ends.
func WithMaxElapsed(d time.Duration) Option {
	return func(r *Reconnector) { r.maxElapsed = d }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reconnector) { r.logger = logger }
}

// New returns a Reconnector for conn.
func New(conn Connector, opts ...Option) *Reconnector {
	r := &Reconnector{
		conn:            conn,
		initialInterval: DefaultInitialInterval,
		maxInterval:     DefaultMaxInterval,
		maxElapsed:      DefaultMaxElapsed,
		logger:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "reconnect").Logger()
	return r
}

// Run consumes flips until ctx ends or flips closes. Each false starts a
// retry sequence unless one is already pending. Cancel ctx before a local
// Disconnect so the resulting flip is not retried.
func (r *Reconnector) Run(ctx context.Context, flips <-chan bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	trigger := make(chan struct{}, 1)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case connected, ok := <-flips:
				if !ok {
					return nil
				}
				if connected {
					continue
				}
				select {
				case trigger <- struct{}{}:
				default:
				}
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-trigger:
				r.retry(ctx)
			}
		}
	})

	return g.Wait()
}

func (r *Reconnector) retry(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval
	b.MaxElapsedTime = r.maxElapsed

	attempt := 0
	op := func() error {
		attempt++
		err := r.conn.Connect(ctx)
		if err != nil {
			r.logger.Debug().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
		}
		return err
	}

	r.logger.Info().Msg("connection lost, reconnecting")
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Error().Err(err).Int("attempts", attempt).Msg("giving up on reconnect")
		return
	}
	r.logger.Info().Int("attempts", attempt).Msg("reconnected")
}
