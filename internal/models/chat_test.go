package models

import (
	"testing"
	"time"
)

func TestContactDisplayNameFallback(t *testing.T) {
	tests := []struct {
		name    string
		contact Contact
		want    string
	}{
		{"saved name", Contact{ID: "5511@s.whatsapp.net", Name: "Ana", NotifyName: "ana"}, "Ana"},
		{"notify name", Contact{ID: "5511@s.whatsapp.net", NotifyName: "ana"}, "ana"},
		{"local part", Contact{ID: "5511@s.whatsapp.net"}, "5511"},
		{"device suffix", Contact{ID: "5511:12@s.whatsapp.net"}, "5511"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.contact.DisplayName(); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConversationDisplayName(t *testing.T) {
	c := Conversation{ID: "120363012345@g.us"}
	if got := c.DisplayName(); got != "120363012345" {
		t.Errorf("DisplayName() = %q", got)
	}
}

func TestNewInboundPlaceholder(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	in := NewInbound(Message{
		ID:             "m1",
		ConversationID: "5511@s.whatsapp.net",
		Direction:      Inbound,
		Timestamp:      ts,
		PushName:       "Ana",
	})
	if in.Text != MediaPlaceholder {
		t.Errorf("Text = %q, want placeholder", in.Text)
	}
	if in.From != "5511@s.whatsapp.net" || in.FromMe || in.Timestamp != 1700000000 {
		t.Errorf("unexpected inbound: %+v", in)
	}
}
