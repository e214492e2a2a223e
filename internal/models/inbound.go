package models

// InboundMessage is the normalized shape handed to in-process listeners and
// posted to webhooks.
type InboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	FromMe    bool   `json:"fromMe"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	PushName  string `json:"pushName,omitempty"`
}

// NewInbound normalizes a cached message. Non-text bodies become MediaPlaceholder.
func NewInbound(m Message) InboundMessage {
	text := m.Body
	if text == "" {
		text = MediaPlaceholder
	}
	return InboundMessage{
		ID:        m.ID,
		From:      m.ConversationID,
		FromMe:    m.FromMe(),
		Text:      text,
		Timestamp: m.Timestamp.Unix(),
		PushName:  m.PushName,
	}
}
