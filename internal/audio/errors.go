package audio

import "errors"

// ErrPermissionDenied is returned when the capture device cannot be acquired.
var ErrPermissionDenied = errors.New("audio capture permission denied")

// ErrAlreadyRunning is returned by Start on a producer that is already capturing.
var ErrAlreadyRunning = errors.New("audio producer already running")
