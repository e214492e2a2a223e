package api

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/wpphub/internal/models"
	"github.com/matheus3301/wpphub/internal/webhook"
)

// Empty is the request or response of calls without parameters.
type Empty struct{}

// SessionRequest addresses one session.
type SessionRequest struct {
	SessionID string `json:"sessionId"`
}

// PairingResponse carries a scannable pairing code.
type PairingResponse struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
	DataURL   string `json:"dataUrl"`
}

// SessionStatus is the control view of one session.
type SessionStatus struct {
	SessionID       string    `json:"sessionId"`
	State           string    `json:"state"`
	Phone           string    `json:"phone,omitempty"`
	LastError       string    `json:"lastError,omitempty"`
	RetryCount      int       `json:"retryCount"`
	CreatedAt       time.Time `json:"createdAt,omitempty"`
	HasConnection   bool      `json:"hasConnection"`
	NotifierEnabled bool      `json:"notifierEnabled"`
}

// StatusResponse answers GetStatus. Found is false for sessions this process
// does not hold; callers should poll again rather than treat it as fatal.
type StatusResponse struct {
	Found   bool          `json:"found"`
	Status  SessionStatus `json:"status"`
	Message string        `json:"message,omitempty"`
}

// ListSessionsResponse lists every session held in memory.
type ListSessionsResponse struct {
	Sessions []SessionStatus `json:"sessions"`
	Counts   map[string]int  `json:"counts"`
}

// ConversationsResponse lists cached conversations.
type ConversationsResponse struct {
	Conversations []models.Conversation `json:"conversations"`
}

// ContactsResponse lists cached contacts.
type ContactsResponse struct {
	Contacts []models.Contact `json:"contacts"`
}

// LoadMessagesRequest reads one conversation's cached history.
type LoadMessagesRequest struct {
	SessionID      string `json:"sessionId"`
	ConversationID string `json:"conversationId"`
	Limit          int    `json:"limit,omitempty"`
}

// MessagesResponse lists messages, oldest first.
type MessagesResponse struct {
	Messages []models.Message `json:"messages"`
}

// AttachmentSpec describes media to send. Either URL or Data is set.
type AttachmentSpec struct {
	Kind     string `json:"kind"`
	URL      string `json:"url,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Caption  string `json:"caption,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	FileName string `json:"fileName,omitempty"`
	PTT      bool   `json:"ptt,omitempty"`
}

// SendRequest is one outbound message. RecipientKind is "", "individual"
// or "group".
type SendRequest struct {
	SessionID     string          `json:"sessionId"`
	To            string          `json:"to"`
	RecipientKind string          `json:"recipientKind,omitempty"`
	Body          string          `json:"body,omitempty"`
	Attachment    *AttachmentSpec `json:"attachment,omitempty"`
}

// SendResponse acknowledges a send.
type SendResponse struct {
	DeliveryID string `json:"deliveryId"`
	Delivered  bool   `json:"delivered"`
	MessageID  string `json:"messageId"`
	To         string `json:"to"`
}

// ListDeliveriesRequest reads a session's delivery log.
type ListDeliveriesRequest struct {
	SessionID string `json:"sessionId"`
	Limit     int    `json:"limit,omitempty"`
}

// Delivery is one logged send.
type Delivery struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	Recipient   string    `json:"recipient"`
	Body        string    `json:"body,omitempty"`
	MediaURL    string    `json:"mediaUrl,omitempty"`
	MediaType   string    `json:"mediaType,omitempty"`
	Status      string    `json:"status"`
	ServerMsgID string    `json:"serverMsgId,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DeliveriesResponse lists deliveries, newest first.
type DeliveriesResponse struct {
	Deliveries []Delivery `json:"deliveries"`
}

// WebhookLogResponse lists recent webhook attempts, newest first.
type WebhookLogResponse struct {
	Entries []webhook.LogEntry `json:"entries"`
}

// NotifierConfigRequest patches a session's webhook settings. Nil fields
// are left unchanged.
type NotifierConfigRequest struct {
	SessionID string  `json:"sessionId"`
	URL       *string `json:"url,omitempty"`
	Token     *string `json:"token,omitempty"`
	Enabled   *bool   `json:"enabled,omitempty"`
}

// AccountRequest creates or replaces an account row.
type AccountRequest struct {
	SessionID   string `json:"sessionId"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	WebhookURL  string `json:"webhookUrl,omitempty"`
	APIToken    string `json:"apiToken,omitempty"`
	APIEnabled  bool   `json:"apiEnabled"`
}

// Account is the control view of an account row. The API token is never
// returned.
type Account struct {
	SessionID   string    `json:"sessionId"`
	Name        string    `json:"name,omitempty"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	WebhookURL  string    `json:"webhookUrl,omitempty"`
	APIEnabled  bool      `json:"apiEnabled"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// AccountsResponse lists accounts.
type AccountsResponse struct {
	Accounts []Account `json:"accounts"`
}

// Ack answers mutations.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// WatchRequest filters the event stream. An empty Namespace matches every
// event kind; an empty SessionID matches every session.
type WatchRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

// EventEnvelope is one streamed hub event.
type EventEnvelope struct {
	EventID   string          `json:"eventId"`
	Kind      string          `json:"kind"`
	SessionID string          `json:"sessionId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}
