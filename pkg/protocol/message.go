// Package protocol implements the JSON wire format spoken between a chat
// client and its streaming backend.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrMalformedFrame is returned by DecodeFrame for any payload that is not a
// content frame or a terminal frame.
var ErrMalformedFrame = errors.New("malformed frame")

const (
	statusEnd       = "end"
	statusStreaming = "streaming"
)

// FrameKind represents the type of an inbound frame
type FrameKind int

const (
	FrameContent FrameKind = iota
	FrameEnd
)

// String returns the string representation of FrameKind
func (k FrameKind) String() string {
	switch k {
	case FrameContent:
		return "CONTENT"
	case FrameEnd:
		return "END"
	default:
		return "UNKNOWN"
	}
}

// Frame is one decoded server message: a content fragment or the end marker.
type Frame struct {
	Kind FrameKind
	Text string
}

// Content returns a content frame carrying text.
func Content(text string) Frame {
	return Frame{Kind: FrameContent, Text: text}
}

// End returns the terminal frame.
func End() Frame {
	return Frame{Kind: FrameEnd}
}

// Utterance is the client to server envelope.
type Utterance struct {
	Message string `json:"message"`
}

// Encode encodes the utterance into one JSON wire message
func (u Utterance) Encode() ([]byte, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("failed to encode utterance: %w", err)
	}
	return data, nil
}

// DecodeUtterance parses a client envelope. The message key must be present
// and hold a string.
func DecodeUtterance(data []byte) (Utterance, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return Utterance{}, err
	}
	raw, ok := fields["message"]
	if !ok {
		return Utterance{}, fmt.Errorf("%w: missing message key", ErrMalformedFrame)
	}
	var u Utterance
	if err := json.Unmarshal(raw, &u.Message); err != nil || isNull(raw) {
		return Utterance{}, fmt.Errorf("%w: message is not a string", ErrMalformedFrame)
	}
	return u, nil
}

// wireFrame is the server to client shape. Content is a pointer so that an
// empty fragment still serializes its key.
type wireFrame struct {
	Content *string `json:"content,omitempty"`
	Status  string  `json:"status,omitempty"`
}

// EncodeFrame encodes a frame the way the backend puts it on the wire.
func EncodeFrame(f Frame) ([]byte, error) {
	var w wireFrame
	switch f.Kind {
	case FrameContent:
		text := f.Text
		w = wireFrame{Content: &text, Status: statusStreaming}
	case FrameEnd:
		w = wireFrame{Status: statusEnd}
	default:
		return nil, fmt.Errorf("failed to encode frame: unknown kind %d", f.Kind)
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return data, nil
}

// DecodeFrame decodes one wire message into a Frame.
//
// A status of "end" marks the terminal frame even if other keys are present.
// Otherwise the presence of the content key, not its truthiness, makes a
// content frame, so "" is valid content. A status that is not a string is
// treated as absent. Every other shape, including payloads that are not valid
// UTF-8, is rejected with ErrMalformedFrame.
func DecodeFrame(data []byte) (Frame, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return Frame{}, err
	}

	status, err := stringField(fields, "status")
	if err == nil && status != nil && *status == statusEnd {
		return End(), nil
	}

	raw, ok := fields["content"]
	if !ok {
		return Frame{}, fmt.Errorf("%w: neither content nor end status", ErrMalformedFrame)
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil || isNull(raw) {
		return Frame{}, fmt.Errorf("%w: content is not a string", ErrMalformedFrame)
	}
	return Content(text), nil
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: invalid utf-8", ErrMalformedFrame)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedFrame)
	}
	return fields, nil
}

// stringField returns nil when key is absent.
func stringField(fields map[string]json.RawMessage, key string) (*string, error) {
	raw, ok := fields[key]
	if !ok {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || isNull(raw) {
		return nil, fmt.Errorf("%w: %s is not a string", ErrMalformedFrame, key)
	}
	return &s, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
