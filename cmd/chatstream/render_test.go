package main

import (
	"bytes"
	"testing"

	"github.com/omochice/chatstream/internal/chat"
	"github.com/omochice/chatstream/internal/events"
	"github.com/stretchr/testify/assert"
)

func TestRenderer_StreamsReply(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)

	r.Handle(events.Event{Kind: events.KindTranscript, Entry: &chat.Entry{Role: chat.RoleUser, Content: "hi"}})
	r.Handle(events.Event{Kind: events.KindPartial, Partial: "Hel"})
	r.Handle(events.Event{Kind: events.KindPartial, Partial: "Hello!"})
	r.Handle(events.Event{Kind: events.KindTranscript, Entry: &chat.Entry{Role: chat.RoleAssistant, Content: "Hello!"}})
	r.Handle(events.Event{Kind: events.KindPartial})

	assert.Equal(t, "bot> Hello!\n", buf.String())
}

func TestRenderer_EmptyReply(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)

	r.Handle(events.Event{Kind: events.KindTranscript, Entry: &chat.Entry{Role: chat.RoleAssistant}})
	assert.Equal(t, "bot> \n", buf.String())
}

func TestRenderer_Aborted(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)

	r.Handle(events.Event{Kind: events.KindPartial, Partial: "Hel"})
	r.Handle(events.Event{Kind: events.KindPartial})
	r.Handle(events.Event{Kind: events.KindAborted, Reason: "disconnected", Partial: "Hel"})
	r.Handle(events.Event{Kind: events.KindConnection, Connected: false})

	assert.Equal(t, "bot> Hel\n[reply interrupted: disconnected]\n[disconnected]\n", buf.String())
}

func TestRenderer_Run(t *testing.T) {
	var buf bytes.Buffer
	evs := make(chan events.Event, 2)
	evs <- events.Event{Kind: events.KindConnection, Connected: true}
	evs <- events.Event{Kind: events.KindPartial, Partial: "x"}
	close(evs)

	newRenderer(&buf).Run(evs)
	assert.Equal(t, "[connected]\nbot> x", buf.String())
}
