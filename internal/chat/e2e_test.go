package chat_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/omochice/chatstream/internal/chat"
	"github.com/omochice/chatstream/internal/client"
	"github.com/omochice/chatstream/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialController(t *testing.T, url string, opts ...chat.Option) (*chat.Controller, *client.Connection) {
	t.Helper()
	conn, err := client.New(url, "e2e-session")
	require.NoError(t, err)
	c := chat.NewController(conn, opts...)
	require.NoError(t, conn.Connect(context.Background()))
	t.Cleanup(conn.Disconnect)
	return c, conn
}

func TestEndToEnd_ReplyAgainstBackend(t *testing.T) {
	srv := server.New(server.Config{ChunkSize: 3, Greeting: ""})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c, _ := dialController(t, ts.URL)
	require.NoError(t, c.Submit("hi"))

	require.Eventually(t, func() bool { return len(c.Transcript()) == 2 }, 2*time.Second, 10*time.Millisecond)
	transcript := c.Transcript()
	assert.Equal(t, chat.Entry{Role: chat.RoleUser, Content: "hi", Timestamp: transcript[0].Timestamp}, transcript[0])
	assert.Equal(t, chat.RoleAssistant, transcript[1].Role)
	assert.Equal(t, "You said: hi", transcript[1].Content)
	assert.False(t, c.InFlight())
}

func TestEndToEnd_GreetingAsServerTurn(t *testing.T) {
	srv := server.New(server.Config{ChunkSize: 5, Greeting: "Hello there"})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c, _ := dialController(t, ts.URL, chat.WithServerInitiatedTurns())

	require.Eventually(t, func() bool { return len(c.Transcript()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Hello there", c.Transcript()[0].Content)
	require.Eventually(t, func() bool { return !c.InFlight() }, time.Second, 10*time.Millisecond)
	require.NoError(t, c.Submit("hi"))
}

func TestEndToEnd_RemoteCloseBeforeContent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// read the utterance, then hang up without replying
		_, _, _ = conn.ReadMessage()
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}))
	defer ts.Close()

	obs := newRecordingObserver()
	c, conn := dialController(t, ts.URL, chat.WithObserver(obs))
	require.NoError(t, c.Submit("hi"))

	select {
	case got := <-obs.aborted:
		assert.Equal(t, chat.AbortDisconnected, got.reason)
		assert.Empty(t, got.partial)
	case <-time.After(2 * time.Second):
		t.Fatal("turn was not aborted")
	}

	assert.Equal(t, client.StateDisconnected, conn.State())
	assert.False(t, c.InFlight())
	requireRejected(t, c.Submit("again"), chat.ReasonDisconnected)
	assert.Len(t, c.Transcript(), 1)
}
