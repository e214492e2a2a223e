package wa

import "github.com/matheus3301/wpphub/internal/models"

// Event is emitted by a protocol connection. Events for one connection are
// delivered to its Handler sequentially, in protocol order.
type Event interface {
	eventName() string
}

// Handler receives a connection's events.
type Handler func(Event)

// CloseReason classifies why a connection closed.
type CloseReason int

const (
	// CloseRecoverable is a network loss or timeout; the session may be reconnected.
	CloseRecoverable CloseReason = iota
	// CloseLoggedOut means the credentials are no longer valid.
	CloseLoggedOut
	// CloseRestartRequired is a transient protocol close that should be retried.
	CloseRestartRequired
)

func (r CloseReason) String() string {
	switch r {
	case CloseRecoverable:
		return "recoverable"
	case CloseLoggedOut:
		return "logged_out"
	case CloseRestartRequired:
		return "restart_required"
	default:
		return "unknown"
	}
}

// PairingCode carries a scannable pairing code. Codes rotate until one is scanned.
type PairingCode struct {
	Code string
}

// Authorized reports a successful login.
type Authorized struct {
	Phone string
}

// Closed reports the end of the connection.
type Closed struct {
	Reason CloseReason
	Detail string
}

// Snapshot is a bulk delivery of chats, contacts and messages. Latest marks it
// authoritative: cached state is replaced rather than merged.
type Snapshot struct {
	Latest   bool
	Chats    []models.Conversation
	Contacts []models.Contact
	Messages []models.Message
}

// ChatsUpsert inserts or merges conversations.
type ChatsUpsert struct {
	Chats []models.Conversation
}

// ChatsUpdate patches known conversations.
type ChatsUpdate struct {
	Patches []models.ChatPatch
}

// ContactsUpsert inserts or merges contacts.
type ContactsUpsert struct {
	Contacts []models.Contact
}

// ContactsUpdate patches known contacts.
type ContactsUpdate struct {
	Patches []models.ContactPatch
}

// MessagesUpsert delivers messages. Notify is set for live messages that
// should reach listeners and webhooks, and unset for backfill.
type MessagesUpsert struct {
	Messages []models.Message
	Notify   bool
}

// MessagesUpdate carries delivery receipts.
type MessagesUpdate struct {
	Updates []models.StatusUpdate
}

func (PairingCode) eventName() string    { return "pairing_code" }
func (Authorized) eventName() string     { return "authorized" }
func (Closed) eventName() string         { return "closed" }
func (Snapshot) eventName() string       { return "snapshot" }
func (ChatsUpsert) eventName() string    { return "chats_upsert" }
func (ChatsUpdate) eventName() string    { return "chats_update" }
func (ContactsUpsert) eventName() string { return "contacts_upsert" }
func (ContactsUpdate) eventName() string { return "contacts_update" }
func (MessagesUpsert) eventName() string { return "messages_upsert" }
func (MessagesUpdate) eventName() string { return "messages_update" }

// Name returns a short label for logging.
func Name(evt Event) string {
	if evt == nil {
		return "nil"
	}
	return evt.eventName()
}
