package connectors

import "time"

// ConnectionState describes the bus client lifecycle state shown in UI.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
)

// ConnectionStatus is an event bus snapshot of the bus client state.
type ConnectionStatus struct {
	State     ConnectionState
	Err       string
	Backend   string
	Target    string
	Timestamp time.Time
}

// CommandResult records the outcome of a parameter set issued from the UI or
// the console.
type CommandResult struct {
	Instrument string
	Parameter  string
	Input      string
	// Kind is empty on success, otherwise "validation" or "driver".
	Kind      string
	Err       string
	Timestamp time.Time
}

func (r CommandResult) OK() bool {
	return r.Err == ""
}

// RelayDrop is published when the consumer relay sheds messages.
type RelayDrop struct {
	Topic     string
	Dropped   uint64
	Timestamp time.Time
}
