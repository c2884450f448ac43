package monitor

// State is one of the tagged connection-sequencing states.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateServicesDiscovered
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateServicesDiscovered:
		return "services_discovered"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// stateEvent drives transitions between connection states.
type stateEvent int

const (
	evConnectRequested stateEvent = iota
	evConnectEstablished
	evConnectFailed
	evDiscoveryCompleted
	evNotificationsEnabled
	evNotificationsDisabled
	evConnectionLost
	evDisconnectRequested
)

func (e stateEvent) String() string {
	switch e {
	case evConnectRequested:
		return "connect_requested"
	case evConnectEstablished:
		return "connect_established"
	case evConnectFailed:
		return "connect_failed"
	case evDiscoveryCompleted:
		return "discovery_completed"
	case evNotificationsEnabled:
		return "notifications_enabled"
	case evNotificationsDisabled:
		return "notifications_disabled"
	case evConnectionLost:
		return "connection_lost"
	case evDisconnectRequested:
		return "disconnect_requested"
	default:
		return "unknown"
	}
}

// transition is the pure state transition function. It returns the next
// state and whether the event is legal in the given state. Illegal events
// leave the machine where it is.
func transition(from State, ev stateEvent) (State, bool) {
	switch ev {
	case evDisconnectRequested:
		// Legal from every state so teardown stays idempotent.
		return StateDisconnected, true

	case evConnectionLost:
		if from != StateDisconnected {
			return StateDisconnected, true
		}

	case evConnectRequested:
		if from == StateDisconnected {
			return StateConnecting, true
		}

	case evConnectEstablished:
		if from == StateConnecting {
			return StateConnected, true
		}

	case evConnectFailed:
		if from == StateConnecting {
			return StateDisconnected, true
		}

	case evDiscoveryCompleted:
		if from == StateConnected {
			return StateServicesDiscovered, true
		}

	case evNotificationsEnabled:
		if from == StateServicesDiscovered {
			return StateStreaming, true
		}

	case evNotificationsDisabled:
		if from == StateStreaming {
			return StateServicesDiscovered, true
		}
	}

	return from, false
}
