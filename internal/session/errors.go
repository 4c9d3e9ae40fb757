package session

import "errors"

// ErrNoHandler is returned by Connect when no transcript handler is given.
var ErrNoHandler = errors.New("no transcript handler")

// ErrNotConfigured is returned by Connect when the endpoint or token is blank.
var ErrNotConfigured = errors.New("realtime endpoint or token not configured")
