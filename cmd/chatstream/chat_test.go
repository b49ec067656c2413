package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/omochice/chatstream/internal/chat"
	"github.com/omochice/chatstream/internal/client"
	"github.com/omochice/chatstream/internal/config"
	"github.com/omochice/chatstream/internal/server"
	"github.com/omochice/chatstream/internal/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReadInput(t *testing.T) {
	lines := make(chan string, 8)
	for _, l := range []string{"hi", "   ", "busy", "quit", "never"} {
		lines <- l
	}

	var submitted []string
	submit := func(text string) error {
		if strings.TrimSpace(text) == "" {
			return &chat.RejectedError{Reason: chat.ReasonEmpty}
		}
		submitted = append(submitted, text)
		if text == "busy" {
			return &chat.RejectedError{Reason: chat.ReasonTurnInFlight}
		}
		return nil
	}

	var out bytes.Buffer
	require.NoError(t, readInput(context.Background(), lines, submit, &out))
	assert.Equal(t, []string{"hi", "busy"}, submitted)
	assert.Equal(t, "[not sent: a reply is still streaming]\n", out.String())
}

func TestReadInput_EOFAndCancel(t *testing.T) {
	lines := make(chan string)
	close(lines)
	assert.NoError(t, readInput(context.Background(), lines, nil, io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, readInput(ctx, make(chan string), nil, io.Discard))
}

func TestReasonOf(t *testing.T) {
	assert.Equal(t, "not connected", reasonOf(&chat.RejectedError{Reason: chat.ReasonDisconnected}))
	assert.Equal(t, "boom", reasonOf(errors.New("boom")))
}

func testClientConfig(t *testing.T, endpoint string) config.Client {
	t.Helper()
	cfg := config.DefaultClient()
	cfg.Endpoint = endpoint
	cfg.StorePath = filepath.Join(t.TempDir(), "session.db")
	cfg.DialTimeout = time.Second
	return cfg
}

func TestRunChat_EndToEnd(t *testing.T) {
	srv := server.New(server.Config{ChunkSize: 4, Greeting: "Welcome aboard!"})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	cfg := testClientConfig(t, ts.URL)
	in, stdin := io.Pipe()
	var out syncBuffer

	done := make(chan error, 1)
	go func() {
		done <- runChat(context.Background(), cfg, zerolog.Nop(), in, &out)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "bot> Welcome aboard!\n")
	}, 2*time.Second, 10*time.Millisecond)

	_, err := io.WriteString(stdin, "hello\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "bot> You said: hello\n")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, stdin.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("chat did not exit on EOF")
	}

	assert.True(t, strings.HasPrefix(out.String(), "[connected]\n"))
	require.Equal(t, 1, srv.Hub().SessionCount())

	// the session id was persisted and is reused on the next run
	store, err := session.OpenBoltStore(cfg.StorePath, session.Namespace, 0)
	require.NoError(t, err)
	id, found, err := store.Get(context.Background(), session.Key)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.True(t, found)
	_, known := srv.Hub().Session(id)
	assert.True(t, known)
}

func TestRunChat_ConnectFailure(t *testing.T) {
	cfg := testClientConfig(t, "ws://127.0.0.1:1")
	err := runChat(context.Background(), cfg, zerolog.Nop(), strings.NewReader(""), io.Discard)
	assert.Error(t, err)
}

func connectedController(t *testing.T, cfg server.Config) *chat.Controller {
	t.Helper()
	ts := httptest.NewServer(server.New(cfg).Handler())
	t.Cleanup(ts.Close)

	conn, err := client.New(ts.URL, "fresh-session")
	require.NoError(t, err)
	controller := chat.NewController(conn, chat.WithServerInitiatedTurns())
	require.NoError(t, conn.Connect(context.Background()))
	t.Cleanup(conn.Disconnect)
	return controller
}

func TestAwaitGreeting_WaitsForServerTurn(t *testing.T) {
	controller := connectedController(t, server.Config{
		ChunkSize:  4,
		ChunkDelay: 20 * time.Millisecond,
		Greeting:   "Welcome aboard!",
	})

	awaitGreeting(context.Background(), controller, time.Second)
	require.False(t, controller.InFlight())
	transcript := controller.Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, chat.RoleAssistant, transcript[0].Role)
	assert.Equal(t, "Welcome aboard!", transcript[0].Content)

	require.NoError(t, controller.Submit("hello"))
	require.Eventually(t, func() bool { return len(controller.Transcript()) == 3 }, 2*time.Second, 10*time.Millisecond)
	transcript = controller.Transcript()
	assert.Equal(t, chat.Entry{Role: chat.RoleUser, Content: "hello", Timestamp: transcript[1].Timestamp}, transcript[1])
	assert.Equal(t, "You said: hello", transcript[2].Content)
}

func TestAwaitGreeting_GivesUpWithoutGreeting(t *testing.T) {
	controller := connectedController(t, server.Config{ChunkSize: 4})

	start := time.Now()
	awaitGreeting(context.Background(), controller, 50*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Empty(t, controller.Transcript())
}

func TestAwaitGreeting_ReturnsWhenDisconnected(t *testing.T) {
	conn, err := client.New("ws://127.0.0.1:1", "s")
	require.NoError(t, err)
	controller := chat.NewController(conn, chat.WithServerInitiatedTurns())

	start := time.Now()
	awaitGreeting(context.Background(), controller, time.Second)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
