package bus

import "time"

// Event kinds published by the hub.
const (
	KindStatusChanged   = "session.status_changed"
	KindPairingCode     = "session.pairing_code"
	KindSessionRemoved  = "session.removed"
	KindMessageReceived = "message.received"
	KindMessageSent     = "message.sent"
	KindSyncCompleted   = "sync.completed"
)

// Event represents a domain event published on the bus. Session is empty
// for process-wide events.
type Event struct {
	Kind      string
	Session   string
	Timestamp time.Time
	Payload   any
}
