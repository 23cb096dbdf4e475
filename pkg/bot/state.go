package bot

// State is the lifecycle state of a Participant.
type State int

const (
	// StateCreated is a constructed bot that has not connected.
	StateCreated State = iota
	// StateConnecting is set while Connect runs.
	StateConnecting
	// StateListening means transcripts are being handled.
	StateListening
	// StateCleaningUp is set while Cleanup releases resources.
	StateCleaningUp
	// StateDisconnected is terminal.
	StateDisconnected
)

// String returns the state name used in logs and the sessions endpoint.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateConnecting:
		return "CONNECTING"
	case StateListening:
		return "LISTENING"
	case StateCleaningUp:
		return "CLEANING_UP"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
