package journal

import "errors"

var (
	ErrNoActiveDictation = errors.New("journal: no active dictation")
	ErrDictationActive   = errors.New("journal: dictation already active")
)
