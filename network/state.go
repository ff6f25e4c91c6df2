package network

import "fmt"

// State is the connection state of a Network.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON documents.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// canTransition reports whether moving from s to next is allowed. The
// only path to Connected leads through Connecting.
func (s State) canTransition(next State) bool {
	switch s {
	case Disconnected:
		return next == Connecting
	case Connecting:
		return next == Connected || next == Disconnected
	case Connected:
		return next == Disconnected
	default:
		return false
	}
}
