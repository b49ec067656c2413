package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/omochice/chatstream/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUtterance_Encode(t *testing.T) {
	data, err := protocol.Utterance{Message: "hi"}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"hi"}`, string(data))
}

func TestDecodeUtterance(t *testing.T) {
	u, err := protocol.DecodeUtterance([]byte(`{"message":"hello there"}`))
	require.NoError(t, err)
	assert.Equal(t, "hello there", u.Message)

	for _, raw := range []string{`{}`, `{"message":3}`, `{"message":null}`, `[]`, `nope`} {
		_, err := protocol.DecodeUtterance([]byte(raw))
		assert.ErrorIs(t, err, protocol.ErrMalformedFrame, raw)
	}
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    protocol.Frame
		wantErr bool
	}{
		{
			name: "content frame",
			data: `{"content":"Hel"}`,
			want: protocol.Content("Hel"),
		},
		{
			name: "content frame with streaming status",
			data: `{"content":"lo!","status":"streaming"}`,
			want: protocol.Content("lo!"),
		},
		{
			name: "empty content is still content",
			data: `{"content":""}`,
			want: protocol.Content(""),
		},
		{
			name: "end frame",
			data: `{"status":"end"}`,
			want: protocol.End(),
		},
		{
			name: "end status wins over content",
			data: `{"content":"tail","status":"end"}`,
			want: protocol.End(),
		},
		{
			name:    "not json",
			data:    `{"content":`,
			wantErr: true,
		},
		{
			name:    "json array",
			data:    `["content"]`,
			wantErr: true,
		},
		{
			name:    "json null",
			data:    `null`,
			wantErr: true,
		},
		{
			name:    "unknown shape",
			data:    `{"type":"ping"}`,
			wantErr: true,
		},
		{
			name:    "unknown status without content",
			data:    `{"status":"thinking"}`,
			wantErr: true,
		},
		{
			name:    "null content",
			data:    `{"content":null}`,
			wantErr: true,
		},
		{
			name:    "numeric content",
			data:    `{"content":42}`,
			wantErr: true,
		},
		{
			name: "numeric status is ignored",
			data: `{"status":5,"content":"x"}`,
			want: protocol.Content("x"),
		},
		{
			name:    "numeric status without content",
			data:    `{"status":5}`,
			wantErr: true,
		},
		{
			name:    "invalid utf-8",
			data:    "{\"content\":\"\xff\xfe\"}",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := protocol.DecodeFrame([]byte(tt.data))
			if tt.wantErr {
				require.ErrorIs(t, err, protocol.ErrMalformedFrame)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeFrame(t *testing.T) {
	data, err := protocol.EncodeFrame(protocol.Content(""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":"","status":"streaming"}`, string(data))

	data, err = protocol.EncodeFrame(protocol.End())
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"end"}`, string(data))

	_, err = protocol.EncodeFrame(protocol.Frame{Kind: protocol.FrameKind(9)})
	assert.Error(t, err)
}

func TestEncodeFrame_DecodesBack(t *testing.T) {
	for _, f := range []protocol.Frame{protocol.Content("a \"quoted\" chunk\n"), protocol.End()} {
		data, err := protocol.EncodeFrame(f)
		require.NoError(t, err)
		require.True(t, json.Valid(data))

		got, err := protocol.DecodeFrame(data)
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
}

func TestFrameKind_String(t *testing.T) {
	assert.Equal(t, "CONTENT", protocol.FrameContent.String())
	assert.Equal(t, "END", protocol.FrameEnd.String())
	assert.Equal(t, "UNKNOWN", protocol.FrameKind(99).String())
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		base    string
		id      string
		want    string
		wantErr bool
	}{
		{base: "ws://localhost:8765", id: "abc", want: "ws://localhost:8765/ws/abc"},
		{base: "ws://localhost:8765/", id: "abc", want: "ws://localhost:8765/ws/abc"},
		{base: "wss://chat.example.com/api", id: "abc", want: "wss://chat.example.com/api/ws/abc"},
		{base: "http://127.0.0.1:9000", id: "abc", want: "ws://127.0.0.1:9000/ws/abc"},
		{base: "https://chat.example.com", id: "abc", want: "wss://chat.example.com/ws/abc"},
		{base: "ws://localhost:8765?x=1", id: "abc", want: "ws://localhost:8765/ws/abc"},
		{base: "ws://localhost:8765", id: "a/b c", want: "ws://localhost:8765/ws/a%2Fb%20c"},
		{base: "ftp://localhost", id: "abc", wantErr: true},
		{base: "ws://", id: "abc", wantErr: true},
		{base: "ws://localhost", id: " ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.base+"|"+tt.id, func(t *testing.T) {
			got, err := protocol.Endpoint(tt.base, tt.id)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
