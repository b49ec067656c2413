package main

import (
	"fmt"
	"io"

	"github.com/omochice/chatstream/internal/chat"
	"github.com/omochice/chatstream/internal/events"
)

const assistantPrompt = "bot> "

// renderer prints chat events as plain lines. Partial replies are written
// incrementally, so only the unseen suffix of each update is printed.
type renderer struct {
	w       io.Writer
	printed int
}

func newRenderer(w io.Writer) *renderer {
	return &renderer{w: w}
}

// Run prints events until evs closes.
func (r *renderer) Run(evs <-chan events.Event) {
	for ev := range evs {
		r.Handle(ev)
	}
}

func (r *renderer) Handle(ev events.Event) {
	switch ev.Kind {
	case events.KindPartial:
		if ev.Partial == "" {
			r.printed = 0
			return
		}
		r.write(ev.Partial)

	case events.KindTranscript:
		if ev.Entry == nil || ev.Entry.Role != chat.RoleAssistant {
			return
		}
		r.write(ev.Entry.Content)
		if r.printed == 0 {
			fmt.Fprint(r.w, assistantPrompt)
		}
		fmt.Fprintln(r.w)
		r.printed = 0

	case events.KindAborted:
		// the partial was cleared just before; end its line
		if ev.Partial != "" {
			fmt.Fprintln(r.w)
		}
		fmt.Fprintf(r.w, "[reply interrupted: %s]\n", ev.Reason)
		r.printed = 0

	case events.KindConnection:
		if ev.Connected {
			fmt.Fprintln(r.w, "[connected]")
		} else {
			fmt.Fprintln(r.w, "[disconnected]")
		}
	}
}

// write prints the part of text not yet on screen.
func (r *renderer) write(text string) {
	if len(text) <= r.printed {
		return
	}
	if r.printed == 0 {
		fmt.Fprint(r.w, assistantPrompt)
	}
	fmt.Fprint(r.w, text[r.printed:])
	r.printed = len(text)
}
