package chat_test

import (
	"sync"

	"github.com/omochice/chatstream/internal/chat"
	"github.com/omochice/chatstream/pkg/protocol"
)

// mockTransport is a mock implementation of chat.Transport for testing.
type mockTransport struct {
	mu        sync.Mutex
	connected bool
	sent      []protocol.Utterance
	onState   func(bool)
	onFrame   func(protocol.Frame)
}

func newMockTransport(connected bool) *mockTransport {
	return &mockTransport{connected: connected}
}

func (m *mockTransport) Send(u protocol.Utterance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return
	}
	m.sent = append(m.sent, u)
}

func (m *mockTransport) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockTransport) OnStateChange(fn func(bool)) { m.onState = fn }

func (m *mockTransport) OnFrame(fn func(protocol.Frame)) { m.onFrame = fn }

// setConnected flips the state and notifies like the real transport does.
func (m *mockTransport) setConnected(connected bool) {
	m.mu.Lock()
	changed := m.connected != connected
	m.connected = connected
	m.mu.Unlock()
	if changed && m.onState != nil {
		m.onState(connected)
	}
}

func (m *mockTransport) deliver(frames ...protocol.Frame) {
	for _, f := range frames {
		m.onFrame(f)
	}
}

func (m *mockTransport) getSent() []protocol.Utterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]protocol.Utterance(nil), m.sent...)
}

var _ chat.Transport = (*mockTransport)(nil)

// dropAfterReadTransport reports its state once, then drops from another
// goroutine while the reader is still setting up.
type dropAfterReadTransport struct {
	*mockTransport
	once sync.Once
}

func (d *dropAfterReadTransport) Connected() bool {
	connected := d.mockTransport.Connected()
	d.once.Do(func() { go d.setConnected(false) })
	return connected
}

// recordingObserver captures notifications in order.
type recordingObserver struct {
	mu       sync.Mutex
	entries  []chat.Entry
	partials []string
	states   []bool
	aborts   []abortCall
	aborted  chan abortCall
}

type abortCall struct {
	reason  chat.AbortReason
	partial string
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{aborted: make(chan abortCall, 4)}
}

func (r *recordingObserver) TranscriptAppended(e chat.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingObserver) PartialUpdated(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partials = append(r.partials, text)
}

func (r *recordingObserver) ConnectionChanged(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, connected)
}

func (r *recordingObserver) TurnAborted(reason chat.AbortReason, partial string) {
	r.mu.Lock()
	r.aborts = append(r.aborts, abortCall{reason: reason, partial: partial})
	r.mu.Unlock()
	r.aborted <- abortCall{reason: reason, partial: partial}
}

func (r *recordingObserver) getPartials() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.partials...)
}

func (r *recordingObserver) getEntries() []chat.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chat.Entry(nil), r.entries...)
}

var _ chat.Observer = (*recordingObserver)(nil)
