package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheus3301/wpphub/internal/apperr"
	"github.com/matheus3301/wpphub/internal/models"
	"github.com/matheus3301/wpphub/internal/registry"
	"github.com/matheus3301/wpphub/internal/store"
	"github.com/matheus3301/wpphub/internal/wa"
	"github.com/matheus3301/wpphub/internal/wa/watest"
)

// connectedSetup returns a dispatcher over a registry holding one connected
// session "s1". The account store is an empty SQLite database.
func connectedSetup(t *testing.T) (*Dispatcher, *registry.Registry, *watest.Conn) {
	t.Helper()
	db, _, err := store.OpenMigrated(filepath.Join(t.TempDir(), "wpphub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dialer := watest.NewDialer()
	dialer.Phone = "5551234"
	opts := registry.DefaultOptions()
	opts.Fresh = registry.WaitPolicy{Attempts: 1}
	opts.Existing = registry.WaitPolicy{Attempts: 1}
	reg := registry.New(dialer, db, watest.NewCredentials("s1"), nil, nil, zap.NewNop(), opts)
	t.Cleanup(reg.Close)

	require.Equal(t, 1, reg.Restore(context.Background(), []string{"s1"}))
	d := New(reg, nil, nil, zap.NewNop(), Options{})
	return d, reg, dialer.Conn("s1")
}

func TestNormalizeRecipient(t *testing.T) {
	tests := []struct {
		name     string
		to       string
		kind     RecipientKind
		classify Classifier
		want     string
		wantErr  bool
	}{
		{"bare number", "34600000000", RecipientAuto, nil, "34600000000@s.whatsapp.net", false},
		{"formatted number", "+34 600-000-000", RecipientAuto, nil, "34600000000@s.whatsapp.net", false},
		{"long id is group", "120363012345678901", RecipientAuto, nil, "120363012345678901@g.us", false},
		{"fifteen digits stays individual", "123456789012345", RecipientAuto, nil, "123456789012345@s.whatsapp.net", false},
		{"full address verbatim", "120363@g.us", RecipientAuto, nil, "120363@g.us", false},
		{"explicit individual", "120363012345678901", RecipientIndividual, nil, "120363012345678901@s.whatsapp.net", false},
		{"explicit group", "5511", RecipientGroup, nil, "5511@g.us", false},
		{"custom classifier", "5511", RecipientAuto, func(string) bool { return true }, "5511@g.us", false},
		{"no digits", "bob", RecipientAuto, nil, "", true},
		{"unknown kind", "5511", RecipientKind("broadcast"), nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeRecipient(tt.to, tt.kind, tt.classify)
			if tt.wantErr {
				assert.True(t, errors.Is(err, apperr.ErrInvalidRequest), "err = %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSendRequiresExactlyOnePayload(t *testing.T) {
	d, _, conn := connectedSetup(t)

	_, err := d.Send(context.Background(), Request{SessionID: "s1", To: "5511"})
	assert.True(t, errors.Is(err, apperr.ErrInvalidRequest))

	_, err = d.Send(context.Background(), Request{SessionID: "s1", To: "5511", Body: "   "})
	assert.True(t, errors.Is(err, apperr.ErrInvalidRequest))

	_, err = d.Send(context.Background(), Request{
		SessionID:  "s1",
		To:         "5511",
		Body:       "hi",
		Attachment: &Attachment{Kind: "image", URL: "https://x/a.png"},
	})
	assert.True(t, errors.Is(err, apperr.ErrInvalidRequest))

	_, err = d.Send(context.Background(), Request{SessionID: "s1", To: "5511", Attachment: &Attachment{Kind: "image"}})
	assert.True(t, errors.Is(err, apperr.ErrInvalidRequest), "attachment without content is not meaningful")

	assert.Empty(t, conn.Sent())
}

func TestSendUnsupportedAttachment(t *testing.T) {
	d, _, _ := connectedSetup(t)

	_, err := d.Send(context.Background(), Request{
		SessionID:  "s1",
		To:         "5511",
		Attachment: &Attachment{Kind: "sticker", URL: "https://x/s.webp"},
	})
	assert.True(t, errors.Is(err, apperr.ErrUnsupportedAttachment))
	assert.False(t, apperr.IsRetryable(err))
}

func TestSendText(t *testing.T) {
	d, reg, conn := connectedSetup(t)

	res, err := d.Send(context.Background(), Request{SessionID: "s1", To: "34600000000", Body: "hi"})
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.Equal(t, "3EB0STUB", res.MessageID)
	assert.Equal(t, []wa.Outbound{{To: "34600000000@s.whatsapp.net", Text: "hi"}}, conn.Sent())

	rec, _ := reg.Get("s1")
	msgs := rec.Cache().Messages("34600000000@s.whatsapp.net", 0)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.Outbound, msgs[0].Direction)
	assert.Equal(t, models.StatusSent, msgs[0].Status)
}

func TestSendAttachmentDefaults(t *testing.T) {
	d, _, conn := connectedSetup(t)

	_, err := d.Send(context.Background(), Request{SessionID: "s1", To: "5511", Attachment: &Attachment{Kind: "audio", URL: "https://x/a.ogg"}})
	require.NoError(t, err)
	_, err = d.Send(context.Background(), Request{SessionID: "s1", To: "5511", Attachment: &Attachment{Kind: "Document", Data: []byte("%PDF")}})
	require.NoError(t, err)

	sent := conn.Sent()
	require.Len(t, sent, 2)
	audio := sent[0].Media
	assert.Equal(t, wa.MediaAudio, audio.Kind)
	assert.Equal(t, DefaultAudioMime, audio.MimeType)
	assert.False(t, audio.PTT)

	doc := sent[1].Media
	assert.Equal(t, wa.MediaDocument, doc.Kind)
	assert.Equal(t, DefaultDocumentMime, doc.MimeType)
	assert.Equal(t, DefaultDocumentName, doc.FileName)
}

func TestSendOnDisconnectedSession(t *testing.T) {
	d, _, conn := connectedSetup(t)
	conn.Emit(wa.Closed{Reason: wa.CloseRecoverable})

	_, err := d.Send(context.Background(), Request{SessionID: "s1", To: "34600000000", Body: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrSessionNotReady))
	assert.Equal(t, "disconnected", apperr.StateOf(err))
	assert.Contains(t, err.Error(), "disconnected")
}

func TestSendSurfacesProtocolError(t *testing.T) {
	d, _, conn := connectedSetup(t)
	conn.FailSends(errors.New("websocket closed"))

	_, err := d.Send(context.Background(), Request{SessionID: "s1", To: "5511", Body: "hi"})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(err))
	assert.Contains(t, err.Error(), "websocket closed")
}

func TestSendUnknownSession(t *testing.T) {
	d, _, _ := connectedSetup(t)

	_, err := d.Send(context.Background(), Request{SessionID: "ghost", To: "5511", Body: "hi"})
	assert.True(t, errors.Is(err, apperr.ErrSessionNotFound))
}

func TestRateLimitHonoursContext(t *testing.T) {
	d, reg, _ := connectedSetup(t)
	d = New(reg, nil, nil, zap.NewNop(), Options{RatePerSecond: 0.001, Burst: 1})

	_, err := d.Send(context.Background(), Request{SessionID: "s1", To: "5511", Body: "first"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Send(ctx, Request{SessionID: "s1", To: "5511", Body: "second"})
	assert.Error(t, err)
}
