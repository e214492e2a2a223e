package wa

import (
	"time"

	"github.com/matheus3301/wpphub/internal/models"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// translator maps whatsmeow events onto connection events. phone reports the
// logged-in account, read when the connection authorizes.
type translator struct {
	phone func() string
}

// translate returns the events for one whatsmeow event. Unknown events yield nil.
func (t translator) translate(rawEvt any) []Event {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		phone := ""
		if t.phone != nil {
			phone = t.phone()
		}
		return []Event{Authorized{Phone: phone}}
	case *events.Disconnected:
		return []Event{Closed{Reason: CloseRecoverable, Detail: "connection lost"}}
	case *events.KeepAliveTimeout:
		// whatsmeow keeps trying on its own; only report once it gives up via Disconnected.
		return nil
	case *events.StreamReplaced:
		return []Event{Closed{Reason: CloseRecoverable, Detail: "connection replaced by another client"}}
	case *events.LoggedOut:
		return []Event{Closed{Reason: CloseLoggedOut, Detail: evt.Reason.String()}}
	case *events.TemporaryBan:
		return []Event{Closed{Reason: CloseLoggedOut, Detail: evt.String()}}
	case *events.ClientOutdated:
		return []Event{Closed{Reason: CloseLoggedOut, Detail: "client outdated"}}
	case *events.ConnectFailure:
		if evt.Reason.IsLoggedOut() {
			return []Event{Closed{Reason: CloseLoggedOut, Detail: evt.Reason.String()}}
		}
		return []Event{Closed{Reason: CloseRestartRequired, Detail: evt.Reason.String()}}
	case *events.ManualLoginReconnect:
		return []Event{Closed{Reason: CloseRestartRequired, Detail: "restart required after login"}}
	case *events.StreamError:
		return []Event{Closed{Reason: CloseRestartRequired, Detail: "stream error " + evt.Code}}
	case *events.HistorySync:
		if snap, ok := translateHistorySync(evt); ok {
			return []Event{snap}
		}
		return nil
	case *events.Message:
		msg := ParseLiveMessage(evt)
		out := []Event{MessagesUpsert{Messages: []models.Message{msg}, Notify: true}}
		if !evt.Info.IsFromMe && evt.Info.PushName != "" {
			out = append(out, ContactsUpsert{Contacts: []models.Contact{{
				ID:         evt.Info.Sender.ToNonAD().String(),
				NotifyName: evt.Info.PushName,
			}}})
		}
		return out
	case *events.Receipt:
		return translateReceipt(evt)
	case *events.Contact:
		name := evt.Action.GetFullName()
		if name == "" {
			name = evt.Action.GetFirstName()
		}
		return []Event{ContactsUpsert{Contacts: []models.Contact{{ID: evt.JID.ToNonAD().String(), Name: name}}}}
	case *events.PushName:
		notify := evt.NewPushName
		return []Event{ContactsUpdate{Patches: []models.ContactPatch{{ID: evt.JID.ToNonAD().String(), NotifyName: &notify}}}}
	case *events.MarkChatAsRead:
		if !evt.Action.GetRead() {
			return nil
		}
		zero := 0
		return []Event{ChatsUpdate{Patches: []models.ChatPatch{{ID: evt.JID.ToNonAD().String(), UnreadCount: &zero}}}}
	case *events.JoinedGroup:
		return []Event{ChatsUpsert{Chats: []models.Conversation{{
			ID:           evt.JID.String(),
			Name:         evt.Name,
			LastActivity: time.Now(),
			IsGroup:      true,
		}}}}
	case *events.GroupInfo:
		if evt.Name == nil {
			return nil
		}
		name := evt.Name.Name
		return []Event{ChatsUpdate{Patches: []models.ChatPatch{{ID: evt.JID.String(), Name: &name}}}}
	}
	return nil
}

func translateHistorySync(evt *events.HistorySync) (Snapshot, bool) {
	data := evt.Data
	if data == nil {
		return Snapshot{}, false
	}

	snap := Snapshot{
		Latest: data.GetSyncType() == waHistorySync.HistorySync_INITIAL_BOOTSTRAP && data.GetChunkOrder() <= 1,
	}
	for _, conv := range data.GetConversations() {
		chatID := normalizeJID(conv.GetID())
		if chatID == "" {
			continue
		}
		name := conv.GetName()
		snap.Chats = append(snap.Chats, models.Conversation{
			ID:           chatID,
			Name:         name,
			LastActivity: time.Unix(int64(conv.GetConversationTimestamp()), 0),
			UnreadCount:  int(conv.GetUnreadCount()),
			IsGroup:      isGroup(chatID),
		})
		for _, hm := range conv.GetMessages() {
			if msg, ok := ParseHistoryMessage(chatID, hm.GetMessage()); ok {
				snap.Messages = append(snap.Messages, msg)
			}
		}
	}
	for _, pn := range data.GetPushnames() {
		if pn.GetID() == "" {
			continue
		}
		snap.Contacts = append(snap.Contacts, models.Contact{
			ID:         normalizeJID(pn.GetID()),
			NotifyName: pn.GetPushname(),
		})
	}

	if !snap.Latest && len(snap.Chats) == 0 && len(snap.Contacts) == 0 {
		return Snapshot{}, false
	}
	return snap, true
}

func translateReceipt(evt *events.Receipt) []Event {
	var status models.DeliveryStatus
	switch evt.Type {
	case types.ReceiptTypeDelivered:
		status = models.StatusDelivered
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		status = models.StatusRead
	case types.ReceiptTypePlayed:
		status = models.StatusPlayed
	default:
		return nil
	}
	chatID := evt.Chat.ToNonAD().String()
	updates := make([]models.StatusUpdate, 0, len(evt.MessageIDs))
	for _, id := range evt.MessageIDs {
		updates = append(updates, models.StatusUpdate{
			ConversationID: chatID,
			MessageID:      id,
			Status:         status,
		})
	}
	if len(updates) == 0 {
		return nil
	}
	return []Event{MessagesUpdate{Updates: updates}}
}

func isGroup(jid string) bool {
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return false
	}
	return parsed.Server == types.GroupServer
}
