package wa

import (
	"time"

	"github.com/matheus3301/wpphub/internal/models"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// ParseLiveMessage normalizes a live whatsmeow message event.
func ParseLiveMessage(evt *events.Message) models.Message {
	return models.Message{
		ID:             evt.Info.ID,
		ConversationID: evt.Info.Chat.ToNonAD().String(),
		SenderID:       evt.Info.Sender.ToNonAD().String(),
		PushName:       evt.Info.PushName,
		Direction:      direction(evt.Info.IsFromMe),
		Body:           extractTextBody(evt.Message),
		Type:           detectMessageType(evt.Message),
		Timestamp:      evt.Info.Timestamp,
		Status:         initialStatus(evt.Info.IsFromMe),
	}
}

// ParseHistoryMessage normalizes one message from a history sync conversation.
// ok is false for entries without a message payload.
func ParseHistoryMessage(chatID string, wmsg *waWeb.WebMessageInfo) (models.Message, bool) {
	if wmsg == nil || wmsg.GetMessage() == nil {
		return models.Message{}, false
	}
	key := wmsg.GetKey()
	fromMe := key.GetFromMe()
	sender := key.GetParticipant()
	if sender == "" && !fromMe {
		sender = chatID
	}
	return models.Message{
		ID:             key.GetID(),
		ConversationID: chatID,
		SenderID:       normalizeJID(sender),
		PushName:       wmsg.GetPushName(),
		Direction:      direction(fromMe),
		Body:           extractTextBody(wmsg.GetMessage()),
		Type:           detectMessageType(wmsg.GetMessage()),
		Timestamp:      time.Unix(int64(wmsg.GetMessageTimestamp()), 0),
		Status:         initialStatus(fromMe),
	}, true
}

func direction(fromMe bool) models.Direction {
	if fromMe {
		return models.Outbound
	}
	return models.Inbound
}

func initialStatus(fromMe bool) models.DeliveryStatus {
	if fromMe {
		return models.StatusSent
	}
	return models.StatusReceived
}

// normalizeJID strips device suffixes so one chat maps to one conversation.
func normalizeJID(raw string) string {
	if raw == "" {
		return ""
	}
	jid, err := types.ParseJID(raw)
	if err != nil {
		return raw
	}
	return jid.ToNonAD().String()
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetCaption()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}
