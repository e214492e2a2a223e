package models

import (
	"strings"
	"time"
)

// MediaPlaceholder stands in for the body of non-text messages.
const MediaPlaceholder = "[Media]"

// Direction tells whether a message was sent by this account or received.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// DeliveryStatus tracks a message through the protocol's receipts.
type DeliveryStatus string

const (
	StatusReceived  DeliveryStatus = "received"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusPlayed    DeliveryStatus = "played"
)

// Conversation is a chat with an individual or a group.
type Conversation struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	LastActivity time.Time `json:"lastActivity"`
	UnreadCount  int       `json:"unreadCount"`
	IsGroup      bool      `json:"isGroup"`
}

// DisplayName returns the conversation name, or the local part of its id.
func (c Conversation) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return LocalPart(c.ID)
}

// Contact is an address-book entry known to the protocol.
type Contact struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	NotifyName string `json:"notifyName,omitempty"`
	AvatarURL  string `json:"avatarUrl,omitempty"`
}

// DisplayName falls back from saved name to notify name to the id's local part.
func (c Contact) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.NotifyName != "" {
		return c.NotifyName
	}
	return LocalPart(c.ID)
}

// Message is a single cached chat message.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	SenderID       string         `json:"senderId,omitempty"`
	PushName       string         `json:"pushName,omitempty"`
	Direction      Direction      `json:"direction"`
	Body           string         `json:"body"`
	Type           string         `json:"type"`
	Timestamp      time.Time      `json:"timestamp"`
	Status         DeliveryStatus `json:"status"`
}

// FromMe reports whether the message was sent by this account.
func (m Message) FromMe() bool {
	return m.Direction == Outbound
}

// ChatPatch updates fields of an existing conversation. Nil fields are left untouched.
type ChatPatch struct {
	ID           string
	Name         *string
	LastActivity *time.Time
	UnreadCount  *int
}

// ContactPatch updates fields of an existing contact. Nil fields are left untouched.
type ContactPatch struct {
	ID         string
	Name       *string
	NotifyName *string
	AvatarURL  *string
}

// StatusUpdate moves a message to a new delivery status.
type StatusUpdate struct {
	ConversationID string
	MessageID      string
	Status         DeliveryStatus
}

// LocalPart returns the part of an address before '@' and any device suffix.
func LocalPart(id string) string {
	local, _, _ := strings.Cut(id, "@")
	local, _, _ = strings.Cut(local, ":")
	return local
}
