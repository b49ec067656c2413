package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/omochice/chatstream/internal/chat"
	"github.com/omochice/chatstream/internal/client"
	"github.com/omochice/chatstream/internal/config"
	"github.com/omochice/chatstream/internal/events"
	"github.com/omochice/chatstream/internal/logging"
	"github.com/omochice/chatstream/internal/reconnect"
	"github.com/omochice/chatstream/internal/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newChatCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Open the conversation and read messages from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := logging.Init("chatstream", cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, cfg, logger, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runChat(ctx context.Context, cfg config.Client, logger zerolog.Logger, in io.Reader, out io.Writer) error {
	var store session.Store
	bolt, err := session.OpenBoltStore(cfg.StorePath, session.Namespace, session.DefaultOpenTimeout)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to open session store")
	} else {
		defer bolt.Close()
		store = bolt
	}
	identity := session.NewIdentity(store, session.WithLogger(logger))
	sessionID := identity.GetOrCreate(ctx)

	conn, err := client.New(cfg.Endpoint, sessionID.String(),
		client.WithDialTimeout(cfg.DialTimeout),
		client.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	bus := events.NewBus(logger)
	defer bus.Close()

	chatOpts := []chat.Option{
		chat.WithObserver(bus),
		chat.WithLogger(logger),
		chat.WithTurnTimeout(cfg.TurnTimeout),
	}
	if cfg.ServerTurns {
		chatOpts = append(chatOpts, chat.WithServerInitiatedTurns())
	}
	controller := chat.NewController(conn, chatOpts...)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	evs, err := bus.Subscribe(gctx)
	if err != nil {
		return err
	}
	g.Go(func() error {
		newRenderer(out).Run(evs)
		return nil
	})

	if cfg.Reconnect {
		flips, err := bus.SubscribeConnection(gctx)
		if err != nil {
			return err
		}
		r := reconnect.New(conn,
			reconnect.WithMaxElapsed(cfg.ReconnectMaxElapsed),
			reconnect.WithLogger(logger),
		)
		g.Go(func() error { return r.Run(gctx, flips) })
	}

	if err := conn.Connect(ctx); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}

	g.Go(func() error {
		defer cancel()
		if cfg.ServerTurns && identity.Created() {
			awaitGreeting(gctx, controller, greetingGrace)
		}
		return readInput(gctx, scanLines(in), controller.Submit, out)
	})

	err = g.Wait()
	// Stop reconnecting before the local close.
	cancel()
	conn.Disconnect()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// greetingGrace bounds how long a new session waits for the backend to start
// its greeting.
const greetingGrace = time.Second

// awaitGreeting holds input back while a new session may still be greeted.
// Frames carry no turn id, so a line sent before the greeting starts would get
// the greeting as its reply. It returns once a server turn has completed, the
// connection is lost, or grace passes without a turn starting.
func awaitGreeting(ctx context.Context, c *chat.Controller, grace time.Duration) {
	deadline := time.Now().Add(grace)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if !c.Connected() {
			return
		}
		if !c.InFlight() && (len(c.Transcript()) > 0 || time.Now().After(deadline)) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// scanLines feeds lines from r until EOF. The goroutine exits with the
// process if r never returns.
func scanLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// readInput submits each line until EOF, a quit command, or ctx ends.
func readInput(ctx context.Context, lines <-chan string, submit func(string) error, out io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "quit" || text == "exit" || text == "/quit" {
				return nil
			}
			if err := submit(line); err != nil {
				var rejected *chat.RejectedError
				if errors.As(err, &rejected) && rejected.Reason == chat.ReasonEmpty {
					continue
				}
				fmt.Fprintf(out, "[not sent: %v]\n", reasonOf(err))
			}
		}
	}
}

func reasonOf(err error) string {
	var rejected *chat.RejectedError
	if errors.As(err, &rejected) {
		return rejected.Reason.String()
	}
	return err.Error()
}
