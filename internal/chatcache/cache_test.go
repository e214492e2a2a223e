package chatcache

import (
	"fmt"
	"testing"
	"time"

	"github.com/matheus3301/wpphub/internal/models"
	"github.com/matheus3301/wpphub/internal/wa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chat = "5511999999999@s.whatsapp.net"

var base = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func msg(id string, offset int) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: chat,
		Direction:      models.Inbound,
		Body:           "body " + id,
		Timestamp:      base.Add(time.Duration(offset) * time.Second),
		Status:         models.StatusReceived,
	}
}

func TestHistoryBoundKeepsLast100(t *testing.T) {
	evicted := 0
	c := New(0, WithEvictionHook(func(n int) { evicted += n }))

	for i := 0; i < 101; i++ {
		c.Apply(wa.MessagesUpsert{Messages: []models.Message{msg(fmt.Sprintf("m%03d", i), i)}, Notify: true})
	}

	got := c.Messages(chat, 1000)
	require.Len(t, got, 100)
	assert.Equal(t, "m001", got[0].ID, "oldest message should have been evicted")
	assert.Equal(t, "m100", got[99].ID)
	assert.Equal(t, 1, evicted)
}

func TestDedupByID(t *testing.T) {
	c := New(0)
	c.UpsertMessages([]models.Message{msg("a", 1), msg("b", 2)})
	c.UpsertMessages([]models.Message{msg("a", 3)})

	got := c.Messages(chat, 0)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"a", "b"}, ids(got))
	assert.True(t, got[0].Timestamp.Equal(base.Add(time.Second)), "duplicate must not replace the original")
}

func TestMessagesOrderedByTimestamp(t *testing.T) {
	c := New(0)
	c.UpsertMessages([]models.Message{msg("late", 30), msg("early", 10), msg("mid", 20), msg("mid2", 20)})

	assert.Equal(t, []string{"early", "mid", "mid2", "late"}, ids(c.Messages(chat, 0)))
}

func TestBoundEvictsOldestByTimestamp(t *testing.T) {
	c := New(3)
	c.UpsertMessages([]models.Message{msg("b", 2), msg("c", 3), msg("d", 4)})
	c.UpsertMessages([]models.Message{msg("a", 1)})

	// The late-arriving oldest message is itself the oldest, so it is the one evicted.
	assert.Equal(t, []string{"b", "c", "d"}, ids(c.Messages(chat, 0)))
}

func TestMessagesLimitReturnsMostRecent(t *testing.T) {
	c := New(0)
	for i := 0; i < 10; i++ {
		c.UpsertMessages([]models.Message{msg(fmt.Sprintf("m%d", i), i)})
	}
	assert.Equal(t, []string{"m7", "m8", "m9"}, ids(c.Messages(chat, 3)))
	assert.Len(t, c.Messages(chat, 0), 10)
	assert.Empty(t, c.Messages("unknown@s.whatsapp.net", 10))
}

func TestLatestSnapshotResets(t *testing.T) {
	c := New(0)
	c.UpsertChats([]models.Conversation{{ID: "old@s.whatsapp.net", Name: "Old"}})
	c.UpsertContacts([]models.Contact{{ID: "old@s.whatsapp.net", Name: "Old"}})
	c.UpsertMessages([]models.Message{msg("stale", 1)})

	c.Apply(wa.Snapshot{
		Latest:   true,
		Chats:    []models.Conversation{{ID: chat, Name: "Fresh", LastActivity: base}},
		Contacts: []models.Contact{{ID: chat, NotifyName: "fresh"}},
		Messages: []models.Message{msg("new", 5)},
	})

	convs := c.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, "Fresh", convs[0].Name)
	contacts := c.Contacts()
	require.Len(t, contacts, 1)
	assert.Equal(t, "fresh", contacts[0].Name)
	assert.Equal(t, []string{"new"}, ids(c.Messages(chat, 0)))
}

func TestIncrementalSnapshotMerges(t *testing.T) {
	c := New(0)
	c.UpsertChats([]models.Conversation{{ID: chat, Name: "Ana", UnreadCount: 3}})

	c.Apply(wa.Snapshot{
		Chats: []models.Conversation{
			{ID: chat, LastActivity: base},
			{ID: "120363@g.us", Name: "Team", IsGroup: true},
		},
	})

	convs := c.Conversations()
	require.Len(t, convs, 2)
	byID := map[string]models.Conversation{}
	for _, cv := range convs {
		byID[cv.ID] = cv
	}
	assert.Equal(t, "Ana", byID[chat].Name, "merge must keep fields the update did not carry")
	assert.Equal(t, 3, byID[chat].UnreadCount)
	assert.True(t, byID[chat].LastActivity.Equal(base))
}

func TestUpdatesOnlyPatchKnownEntries(t *testing.T) {
	c := New(0)
	name := "Renamed"
	zero := 0
	c.UpsertChats([]models.Conversation{{ID: chat, Name: "Ana", UnreadCount: 4}})

	c.Apply(wa.ChatsUpdate{Patches: []models.ChatPatch{
		{ID: chat, Name: &name, UnreadCount: &zero},
		{ID: "ghost@s.whatsapp.net", Name: &name},
	}})
	c.Apply(wa.ContactsUpdate{Patches: []models.ContactPatch{{ID: "ghost@s.whatsapp.net", NotifyName: &name}}})

	convs := c.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, "Renamed", convs[0].Name)
	assert.Equal(t, 0, convs[0].UnreadCount)
	assert.Empty(t, c.Contacts())
}

func TestContactDisplayNames(t *testing.T) {
	c := New(0)
	c.UpsertContacts([]models.Contact{
		{ID: "1@s.whatsapp.net", Name: "Zoe"},
		{ID: "2@s.whatsapp.net", NotifyName: "bruno"},
		{ID: "3@s.whatsapp.net"},
	})
	names := []string{}
	for _, ct := range c.Contacts() {
		names = append(names, ct.Name)
	}
	assert.Equal(t, []string{"3", "bruno", "Zoe"}, names)
}

func TestConversationsSortedByActivity(t *testing.T) {
	c := New(0)
	c.UpsertChats([]models.Conversation{
		{ID: "a@s.whatsapp.net", LastActivity: base},
		{ID: "b@s.whatsapp.net", LastActivity: base.Add(time.Hour)},
	})
	c.UpsertMessages([]models.Message{{ID: "x", ConversationID: "c@s.whatsapp.net", Timestamp: base.Add(2 * time.Hour)}})

	convs := c.Conversations()
	require.Len(t, convs, 3)
	assert.Equal(t, "c@s.whatsapp.net", convs[0].ID, "message traffic creates and bumps conversations")
	assert.Equal(t, "c", convs[0].Name)
	assert.Equal(t, "b@s.whatsapp.net", convs[1].ID)
}

func TestReceiptUpdatesStatus(t *testing.T) {
	c := New(0)
	out := msg("o1", 1)
	out.Direction = models.Outbound
	out.Status = models.StatusSent
	c.UpsertMessages([]models.Message{out})

	c.Apply(wa.MessagesUpdate{Updates: []models.StatusUpdate{{ConversationID: chat, MessageID: "o1", Status: models.StatusRead}}})

	got := c.Messages(chat, 1)
	require.Len(t, got, 1)
	assert.Equal(t, models.StatusRead, got[0].Status)
}

func TestLifecycleEventsIgnored(t *testing.T) {
	c := New(0)
	c.Apply(wa.Authorized{Phone: "1"})
	c.Apply(wa.Closed{Reason: wa.CloseRecoverable})
	assert.Equal(t, Stats{}, c.Stats())
}

func ids(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
