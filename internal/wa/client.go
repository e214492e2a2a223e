package wa

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/wpphub/internal/models"
	"go.mau.fi/whatsmeow"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

// ClientDialer opens whatsmeow connections, one client per session.
type ClientDialer struct {
	devices  *DeviceStore
	logger   *zap.Logger
	waLogger waLog.Logger
	http     *http.Client
	maxMedia int64
}

// DialerOptions configures a ClientDialer.
type DialerOptions struct {
	// DeviceName is shown in the phone's linked devices list.
	DeviceName    string
	DeviceVersion [3]uint32
	MediaTimeout  time.Duration
	MaxMediaBytes int64
}

// NewClientDialer creates a dialer over a credential store.
func NewClientDialer(devices *DeviceStore, opts DialerOptions, logger *zap.Logger, waLogger waLog.Logger) *ClientDialer {
	if opts.DeviceName != "" {
		wastore.SetOSInfo(opts.DeviceName, opts.DeviceVersion)
	}
	if opts.MediaTimeout <= 0 {
		opts.MediaTimeout = 60 * time.Second
	}
	if opts.MaxMediaBytes <= 0 {
		opts.MaxMediaBytes = 64 << 20
	}
	return &ClientDialer{
		devices:  devices,
		logger:   logger,
		waLogger: waLogger,
		http:     &http.Client{Timeout: opts.MediaTimeout},
		maxMedia: opts.MaxMediaBytes,
	}
}

// Open prepares a client for the session. A fresh identity discards stored
// credentials; otherwise the stored device is required.
func (d *ClientDialer) Open(ctx context.Context, id Identity, h Handler) (Conn, error) {
	var device *wastore.Device
	if id.Fresh {
		if err := d.devices.Delete(ctx, id.SessionID); err != nil {
			d.logger.Warn("discarding old credentials failed", zap.String("session", id.SessionID), zap.Error(err))
		}
		device = d.devices.New()
	} else {
		loaded, err := d.devices.Load(ctx, id.SessionID)
		if err != nil {
			return nil, err
		}
		if loaded == nil || loaded.ID == nil {
			return nil, ErrNoCredentials
		}
		device = loaded
	}

	var clientLog waLog.Logger
	if d.waLogger != nil {
		clientLog = d.waLogger.Sub(id.SessionID)
	}
	client := whatsmeow.NewClient(device, clientLog)
	// Reconnection is owned by the registry's supervisor.
	client.EnableAutoReconnect = false
	client.DisableLoginAutoReconnect = true

	lifetime, cancel := context.WithCancel(context.Background())
	c := &connection{
		session:  id.SessionID,
		client:   client,
		devices:  d.devices,
		handler:  h,
		logger:   d.logger.With(zap.String("session", id.SessionID)),
		http:     d.http,
		maxMedia: d.maxMedia,
		lifetime: lifetime,
		cancel:   cancel,
	}
	c.translator = translator{phone: c.Phone}
	c.handlerID = client.AddEventHandler(c.handle)
	return c, nil
}

type connection struct {
	session    string
	client     *whatsmeow.Client
	devices    *DeviceStore
	handler    Handler
	translator translator
	handlerID  uint32
	logger     *zap.Logger
	http       *http.Client
	maxMedia   int64

	lifetime context.Context
	cancel   context.CancelFunc

	// emitMu serializes handler calls; whatsmeow may dispatch from several goroutines.
	emitMu sync.Mutex
	closed atomic.Bool
}

// Connect starts the connection. Without credentials it first subscribes to
// pairing codes, which whatsmeow requires before connecting.
func (c *connection) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.client.Store.ID != nil {
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		return nil
	}

	qrCh, err := c.client.GetQRChannel(c.lifetime)
	if err != nil {
		return fmt.Errorf("get QR channel: %w", err)
	}
	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	go c.forwardPairing(qrCh)
	return nil
}

func (c *connection) forwardPairing(qrCh <-chan whatsmeow.QRChannelItem) {
	for item := range qrCh {
		switch item.Event {
		case "code":
			c.emit(PairingCode{Code: item.Code})
		case "success":
			c.logger.Info("pairing code scanned")
		case "timeout":
			c.emit(Closed{Reason: CloseRecoverable, Detail: "pairing code expired"})
			return
		default:
			detail := item.Event
			if item.Error != nil {
				detail = item.Error.Error()
			}
			c.emit(Closed{Reason: CloseLoggedOut, Detail: "pairing failed: " + detail})
			return
		}
	}
}

func (c *connection) handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.PairSuccess:
		c.bind(evt.ID)
	case *events.Connected:
		if c.client.Store.ID != nil {
			c.bind(*c.client.Store.ID)
		}
	}
	for _, evt := range c.translator.translate(rawEvt) {
		c.emit(evt)
	}
}

func (c *connection) bind(jid types.JID) {
	ctx, cancel := context.WithTimeout(c.lifetime, 5*time.Second)
	defer cancel()
	if err := c.devices.Bind(ctx, c.session, jid); err != nil {
		c.logger.Error("failed to bind device", zap.Error(err))
	}
}

func (c *connection) emit(evt Event) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if c.closed.Load() || c.handler == nil {
		return
	}
	c.handler(evt)
}

// Send delivers a text or media message and returns the server message id.
func (c *connection) Send(ctx context.Context, out Outbound) (string, error) {
	to, err := types.ParseJID(out.To)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	msg, err := c.buildMessage(ctx, out)
	if err != nil {
		return "", err
	}
	resp, err := c.client.SendMessage(ctx, to, msg)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// Contacts returns all contacts from the whatsmeow device store.
func (c *connection) Contacts(ctx context.Context) ([]models.Contact, error) {
	all, err := c.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("get contacts: %w", err)
	}
	contacts := make([]models.Contact, 0, len(all))
	for jid, info := range all {
		name := info.FullName
		if name == "" {
			name = info.FirstName
		}
		if name == "" {
			name = info.BusinessName
		}
		contacts = append(contacts, models.Contact{
			ID:         jid.ToNonAD().String(),
			Name:       name,
			NotifyName: info.PushName,
		})
	}
	return contacts, nil
}

// Phone returns the logged-in phone number, or empty string.
func (c *connection) Phone() string {
	if c.client.Store.ID == nil {
		return ""
	}
	return c.client.Store.ID.User
}

// Close detaches the handler and disconnects. Safe to call more than once.
// Events still in flight are dropped.
func (c *connection) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.cancel()
	c.client.RemoveEventHandler(c.handlerID)
	c.client.Disconnect()
}
