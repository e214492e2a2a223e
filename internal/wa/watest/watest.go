// Package watest provides an in-memory protocol dialer for tests.
package watest

import (
	"context"
	"sync"

	"github.com/matheus3301/wpphub/internal/models"
	"github.com/matheus3301/wpphub/internal/wa"
)

// Dialer opens in-memory connections. With Phone set, a connection
// authorizes as soon as it is started; with PairingCode set, a fresh one
// issues that code first.
type Dialer struct {
	mu          sync.Mutex
	Phone       string
	PairingCode string
	Contacts    []models.Contact
	OpenErr     error
	conns       map[string]*Conn
	opens       int
}

func NewDialer() *Dialer {
	return &Dialer{conns: make(map[string]*Conn)}
}

func (d *Dialer) Open(_ context.Context, id wa.Identity, h wa.Handler) (wa.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	c := &Conn{
		Identity: id,
		handler:  h,
		phone:    d.Phone,
		code:     d.PairingCode,
		contacts: d.Contacts,
	}
	d.conns[id.SessionID] = c
	return c, nil
}

// Conn returns the latest connection opened for a session.
func (d *Dialer) Conn(sessionID string) *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[sessionID]
}

// Opens counts Open calls.
func (d *Dialer) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Conn is an in-memory connection.
type Conn struct {
	Identity wa.Identity

	handler  wa.Handler
	phone    string
	code     string
	contacts []models.Contact

	mu      sync.Mutex
	sent    []wa.Outbound
	sendErr error
	closed  bool
}

func (c *Conn) Connect(context.Context) error {
	if c.Identity.Fresh && c.code != "" {
		c.handler(wa.PairingCode{Code: c.code})
	}
	if c.phone != "" {
		c.handler(wa.Authorized{Phone: c.phone})
	}
	return nil
}

func (c *Conn) Send(_ context.Context, out wa.Outbound) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.sent = append(c.sent, out)
	return "3EB0TEST", nil
}

func (c *Conn) Contacts(context.Context) ([]models.Contact, error) {
	return c.contacts, nil
}

func (c *Conn) Phone() string { return c.phone }

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Emit delivers evt as if it came from the protocol.
func (c *Conn) Emit(evt wa.Event) {
	c.handler(evt)
}

// Sent returns what was sent so far.
func (c *Conn) Sent() []wa.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wa.Outbound, len(c.sent))
	copy(out, c.sent)
	return out
}

// FailSends makes subsequent sends return err.
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Credentials is an in-memory credential store.
type Credentials struct {
	mu     sync.Mutex
	stored map[string]bool
}

func NewCredentials(ids ...string) *Credentials {
	c := &Credentials{stored: make(map[string]bool)}
	for _, id := range ids {
		c.stored[id] = true
	}
	return c
}

func (c *Credentials) HasCredentials(_ context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stored[id], nil
}

func (c *Credentials) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.stored, id)
	return nil
}

func (c *Credentials) Store(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stored[id] = true
}
