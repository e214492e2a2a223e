// Package chatcache folds a connection's event stream into an in-memory view
// of conversations, contacts and recent messages.
package chatcache

import (
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/matheus3301/wpphub/internal/models"
	"github.com/matheus3301/wpphub/internal/wa"
)

// DefaultHistoryLimit is the per-conversation message capacity.
const DefaultHistoryLimit = 100

// DefaultPageSize is used by Messages when limit <= 0.
const DefaultPageSize = 50

// Cache is safe for concurrent use. Writes come from one connection's event
// handler; reads may come from anywhere.
type Cache struct {
	mu       sync.RWMutex
	limit    int
	chats    map[string]models.Conversation
	contacts map[string]models.Contact
	messages map[string][]models.Message
	onEvict  func(n int)
}

// Option configures a Cache.
type Option func(*Cache)

// WithEvictionHook is called with the number of messages dropped by the bound.
func WithEvictionHook(fn func(n int)) Option {
	return func(c *Cache) {
		c.onEvict = fn
	}
}

// New creates an empty cache. limit <= 0 uses DefaultHistoryLimit.
func New(limit int, opts ...Option) *Cache {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	c := &Cache{limit: limit}
	c.reset()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Apply ingests one event. Lifecycle events are ignored.
func (c *Cache) Apply(evt wa.Event) {
	switch e := evt.(type) {
	case wa.Snapshot:
		c.ApplySnapshot(e)
	case wa.ChatsUpsert:
		c.UpsertChats(e.Chats)
	case wa.ChatsUpdate:
		c.UpdateChats(e.Patches)
	case wa.ContactsUpsert:
		c.UpsertContacts(e.Contacts)
	case wa.ContactsUpdate:
		c.UpdateContacts(e.Patches)
	case wa.MessagesUpsert:
		c.UpsertMessages(e.Messages)
	case wa.MessagesUpdate:
		c.UpdateStatuses(e.Updates)
	}
}

// ApplySnapshot merges a bulk delivery. A latest snapshot replaces everything.
func (c *Cache) ApplySnapshot(s wa.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.Latest {
		c.reset()
	}
	for _, chat := range s.Chats {
		c.upsertChatLocked(chat)
	}
	for _, contact := range s.Contacts {
		c.upsertContactLocked(contact)
	}
	c.insertMessagesLocked(s.Messages)
}

// UpsertChats inserts or merges conversations by id.
func (c *Cache) UpsertChats(chats []models.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, chat := range chats {
		c.upsertChatLocked(chat)
	}
}

// UpdateChats patches conversations that are already known.
func (c *Cache) UpdateChats(patches []models.ChatPatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range patches {
		chat, ok := c.chats[p.ID]
		if !ok {
			continue
		}
		if p.Name != nil {
			chat.Name = *p.Name
		}
		if p.LastActivity != nil {
			chat.LastActivity = *p.LastActivity
		}
		if p.UnreadCount != nil {
			chat.UnreadCount = *p.UnreadCount
		}
		c.chats[p.ID] = chat
	}
}

// UpsertContacts inserts or merges contacts by id.
func (c *Cache) UpsertContacts(contacts []models.Contact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, contact := range contacts {
		c.upsertContactLocked(contact)
	}
}

// UpdateContacts patches contacts that are already known.
func (c *Cache) UpdateContacts(patches []models.ContactPatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range patches {
		contact, ok := c.contacts[p.ID]
		if !ok {
			continue
		}
		if p.Name != nil {
			contact.Name = *p.Name
		}
		if p.NotifyName != nil {
			contact.NotifyName = *p.NotifyName
		}
		if p.AvatarURL != nil {
			contact.AvatarURL = *p.AvatarURL
		}
		c.contacts[p.ID] = contact
	}
}

// UpsertMessages appends messages to their conversations, applying the
// history bound and dedup by id.
func (c *Cache) UpsertMessages(msgs []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertMessagesLocked(msgs)
}

// UpdateStatuses applies delivery receipts to cached messages.
func (c *Cache) UpdateStatuses(updates []models.StatusUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range updates {
		history := c.messages[u.ConversationID]
		for i := range history {
			if history[i].ID == u.MessageID {
				history[i].Status = u.Status
				break
			}
		}
	}
}

// Conversations returns all conversations, most recent activity first.
func (c *Cache) Conversations() []models.Conversation {
	c.mu.RLock()
	out := make([]models.Conversation, 0, len(c.chats))
	for _, chat := range c.chats {
		chat.Name = chat.DisplayName()
		out = append(out, chat)
	}
	c.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Contacts returns all contacts ordered by display name, with the name resolved.
func (c *Cache) Contacts() []models.Contact {
	c.mu.RLock()
	out := make([]models.Contact, 0, len(c.contacts))
	for _, contact := range c.contacts {
		contact.Name = contact.DisplayName()
		out = append(out, contact)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Messages returns the most recent limit messages of a conversation, oldest first.
func (c *Cache) Messages(conversationID string, limit int) []models.Message {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	history := c.messages[conversationID]
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return slices.Clone(history)
}

// Stats reports cache sizes.
type Stats struct {
	Conversations int
	Contacts      int
	Messages      int
}

// Stats returns the current sizes.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{Conversations: len(c.chats), Contacts: len(c.contacts)}
	for _, history := range c.messages {
		s.Messages += len(history)
	}
	return s
}

func (c *Cache) reset() {
	c.chats = make(map[string]models.Conversation)
	c.contacts = make(map[string]models.Contact)
	c.messages = make(map[string][]models.Message)
}

func (c *Cache) upsertChatLocked(chat models.Conversation) {
	if chat.ID == "" {
		return
	}
	old, ok := c.chats[chat.ID]
	if !ok {
		c.chats[chat.ID] = chat
		return
	}
	if chat.Name != "" {
		old.Name = chat.Name
	}
	if !chat.LastActivity.IsZero() {
		old.LastActivity = chat.LastActivity
	}
	if chat.UnreadCount != 0 {
		old.UnreadCount = chat.UnreadCount
	}
	old.IsGroup = old.IsGroup || chat.IsGroup
	c.chats[chat.ID] = old
}

func (c *Cache) upsertContactLocked(contact models.Contact) {
	if contact.ID == "" {
		return
	}
	old, ok := c.contacts[contact.ID]
	if !ok {
		c.contacts[contact.ID] = contact
		return
	}
	if contact.Name != "" {
		old.Name = contact.Name
	}
	if contact.NotifyName != "" {
		old.NotifyName = contact.NotifyName
	}
	if contact.AvatarURL != "" {
		old.AvatarURL = contact.AvatarURL
	}
	c.contacts[contact.ID] = old
}

func (c *Cache) insertMessagesLocked(msgs []models.Message) {
	evicted := 0
	for _, msg := range msgs {
		if msg.ID == "" || msg.ConversationID == "" {
			continue
		}
		history := c.messages[msg.ConversationID]
		if slices.ContainsFunc(history, func(m models.Message) bool { return m.ID == msg.ID }) {
			continue
		}
		// Insert after any message with the same timestamp to keep arrival order.
		pos := sort.Search(len(history), func(i int) bool {
			return history[i].Timestamp.After(msg.Timestamp)
		})
		history = slices.Insert(history, pos, msg)
		if over := len(history) - c.limit; over > 0 {
			history = slices.Delete(history, 0, over)
			evicted += over
		}
		c.messages[msg.ConversationID] = history
		c.touchChatLocked(msg)
	}
	if evicted > 0 && c.onEvict != nil {
		c.onEvict(evicted)
	}
}

// touchChatLocked keeps the conversation list in step with message traffic.
func (c *Cache) touchChatLocked(msg models.Message) {
	chat, ok := c.chats[msg.ConversationID]
	if !ok {
		chat = models.Conversation{
			ID:      msg.ConversationID,
			IsGroup: strings.HasSuffix(msg.ConversationID, "@g.us"),
		}
	}
	if msg.Timestamp.After(chat.LastActivity) {
		chat.LastActivity = msg.Timestamp
	}
	c.chats[msg.ConversationID] = chat
}
