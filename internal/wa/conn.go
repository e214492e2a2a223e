package wa

import (
	"context"
	"errors"

	"github.com/matheus3301/wpphub/internal/models"
)

// ErrNoCredentials is returned by Open when a reconnect is requested for a
// session without stored credentials.
var ErrNoCredentials = errors.New("no stored credentials for session")

// Identity names the session a connection is opened for. Fresh discards any
// stored credentials and starts a new pairing.
type Identity struct {
	SessionID string
	Fresh     bool
}

// Dialer opens protocol connections.
type Dialer interface {
	Open(ctx context.Context, id Identity, h Handler) (Conn, error)
}

// Conn is one live protocol connection. Open returns it unconnected so the
// caller can bind it before any event arrives; Connect starts it.
type Conn interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, out Outbound) (string, error)
	Contacts(ctx context.Context) ([]models.Contact, error)
	Phone() string
	Close()
}

// MediaKind enumerates sendable attachment kinds.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

// Media is a resolved attachment. Either Data or URL is set.
type Media struct {
	Kind     MediaKind
	URL      string
	Data     []byte
	Caption  string
	MimeType string
	FileName string
	PTT      bool
}

// Outbound is a send request addressed to a full protocol address.
type Outbound struct {
	To    string
	Text  string
	Media *Media
}
