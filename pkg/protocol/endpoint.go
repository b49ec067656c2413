package protocol

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoint builds the websocket URL for a session: <base>/ws/<sessionID>.
// The session id is a single escaped path segment, never a query parameter.
// http and https bases are mapped to ws and wss.
func Endpoint(base, sessionID string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", fmt.Errorf("failed to build endpoint: empty session id")
	}

	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("failed to build endpoint: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("failed to build endpoint: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("failed to build endpoint: missing host in %q", base)
	}

	escaped := strings.TrimRight(u.EscapedPath(), "/") + "/ws/" + url.PathEscape(sessionID)
	path, err := url.PathUnescape(escaped)
	if err != nil {
		return "", fmt.Errorf("failed to build endpoint: %w", err)
	}
	u.Path = path
	u.RawPath = escaped
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
