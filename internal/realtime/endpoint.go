package realtime

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// RealtimePath is the streaming path on the speech service.
const RealtimePath = "/v1/realtime"

// Endpoint builds the connection URI with the bearer token in the jwt query
// parameter. base may be a bare host, a host with scheme, or a full URL that
// already carries the realtime path.
func Endpoint(base, token string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", errors.New("realtime endpoint is empty")
	}
	if !strings.Contains(base, "://") {
		base = "wss://" + base
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse realtime endpoint: %w", err)
	}
	switch u.Scheme {
	case "wss", "ws":
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported realtime endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("realtime endpoint %q has no host", base)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = RealtimePath
	}

	q := u.Query()
	q.Set("jwt", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Redact hides the jwt query parameter for logging.
func Redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "<invalid endpoint>"
	}
	q := u.Query()
	if q.Has("jwt") {
		q.Set("jwt", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
