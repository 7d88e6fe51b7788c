package stream

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Disconnecting
)

var stateNames = []string{"disconnected", "connecting", "connected", "reconnecting", "disconnecting"}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Describe returns the operator-facing explanation of a state.
func (s State) Describe() string {
	switch s {
	case Connected:
		return "The Twitter feed is connected and receiving tweets."
	case Connecting:
		return "The Twitter feed is connecting. Check the status again in a few seconds."
	case Reconnecting:
		return "The Twitter feed is attempting to reconnect. Check the status again in a few seconds."
	case Disconnecting:
		return "The Twitter feed is shutting down."
	default:
		return "The Twitter feed is disconnected."
	}
}
