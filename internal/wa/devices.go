package wa

import (
	"context"
	"fmt"

	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3"
)

// DeviceBindings persists which whatsmeow device belongs to which session.
type DeviceBindings interface {
	DeviceJID(ctx context.Context, sessionID string) (string, error)
	BindDevice(ctx context.Context, sessionID, jid string) error
	UnbindDevice(ctx context.Context, sessionID string) error
}

// DeviceStore is the credential store keyed by session id. Key material lives
// in whatsmeow's sqlstore; the session to device mapping lives in bindings.
type DeviceStore struct {
	container *sqlstore.Container
	bindings  DeviceBindings
}

// OpenDeviceStore opens (and upgrades) the whatsmeow credential database at path.
func OpenDeviceStore(ctx context.Context, path string, bindings DeviceBindings, log waLog.Logger) (*DeviceStore, error) {
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path),
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("create credential store: %w", err)
	}
	return &DeviceStore{container: container, bindings: bindings}, nil
}

// Load returns the stored device for a session, or nil if it has none.
func (d *DeviceStore) Load(ctx context.Context, sessionID string) (*wastore.Device, error) {
	raw, err := d.bindings.DeviceJID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lookup device binding: %w", err)
	}
	if raw == "" {
		return nil, nil
	}
	jid, err := types.ParseJID(raw)
	if err != nil {
		return nil, fmt.Errorf("parse bound device %q: %w", raw, err)
	}
	device, err := d.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return device, nil
}

// New returns a blank device for a fresh pairing. It is persisted by
// whatsmeow once pairing succeeds.
func (d *DeviceStore) New() *wastore.Device {
	return d.container.NewDevice()
}

// Bind records that a session is logged in as jid.
func (d *DeviceStore) Bind(ctx context.Context, sessionID string, jid types.JID) error {
	return d.bindings.BindDevice(ctx, sessionID, jid.String())
}

// HasCredentials reports whether the session has a bound device.
func (d *DeviceStore) HasCredentials(ctx context.Context, sessionID string) (bool, error) {
	raw, err := d.bindings.DeviceJID(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return raw != "", nil
}

// Delete removes the session's key material and its binding. Missing
// credentials are not an error.
func (d *DeviceStore) Delete(ctx context.Context, sessionID string) error {
	device, err := d.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	if device != nil && device.ID != nil {
		if err := device.Delete(ctx); err != nil {
			return fmt.Errorf("delete device: %w", err)
		}
	}
	return d.bindings.UnbindDevice(ctx, sessionID)
}

// Close closes the credential database.
func (d *DeviceStore) Close() error {
	return d.container.Close()
}
