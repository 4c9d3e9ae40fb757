package realtime

// State is the lifecycle of a single realtime connection.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateRecording  State = "recording"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
	StateFailed     State = "failed"
)

var stateOrder = [...]State{
	StateIdle,
	StateConnecting,
	StateOpen,
	StateRecording,
	StateClosing,
	StateClosed,
	StateFailed,
}

// CanSend reports whether outbound audio may be written in this state.
func (s State) CanSend() bool {
	switch s {
	case StateOpen, StateRecording:
		return true
	default:
		return false
	}
}

// IsActive reports whether a connection is in progress or established.
func (s State) IsActive() bool {
	switch s {
	case StateConnecting, StateOpen, StateRecording:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the connection can never be used again.
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateFailed
}

func (s State) String() string { return string(s) }

func (s State) index() int32 {
	for i, v := range stateOrder {
		if v == s {
			return int32(i)
		}
	}
	return 0
}

func stateAt(i int32) State {
	if i < 0 || int(i) >= len(stateOrder) {
		return StateIdle
	}
	return stateOrder[i]
}
