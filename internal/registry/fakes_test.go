package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wpphub/internal/bus"
	"github.com/matheus3301/wpphub/internal/models"
	"github.com/matheus3301/wpphub/internal/store"
	"github.com/matheus3301/wpphub/internal/wa"
)

type fakeConn struct {
	id      wa.Identity
	handler wa.Handler
	onStart func(*fakeConn)

	mu       sync.Mutex
	closed   bool
	sent     []wa.Outbound
	contacts []models.Contact
	sendErr  error
}

func (c *fakeConn) Connect(context.Context) error {
	if c.onStart != nil {
		c.onStart(c)
	}
	return nil
}

func (c *fakeConn) Send(_ context.Context, out wa.Outbound) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.sent = append(c.sent, out)
	return "3EB0FAKE", nil
}

func (c *fakeConn) Contacts(context.Context) ([]models.Contact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contacts, nil
}

func (c *fakeConn) Phone() string { return "" }

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) emit(evt wa.Event) {
	c.handler(evt)
}

// fakeDialer hands every started connection to the test through started.
type fakeDialer struct {
	mu       sync.Mutex
	onStart  func(*fakeConn)
	contacts []models.Contact
	openErr  error
	opens    []wa.Identity
	started  chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{started: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Open(_ context.Context, id wa.Identity, h wa.Handler) (wa.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens = append(d.opens, id)
	if d.openErr != nil {
		return nil, d.openErr
	}
	onStart := d.onStart
	started := d.started
	return &fakeConn{
		id:       id,
		handler:  h,
		contacts: d.contacts,
		onStart: func(c *fakeConn) {
			started <- c
			if onStart != nil {
				onStart(c)
			}
		},
	}, nil
}

func (d *fakeDialer) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opens)
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.started:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a connection")
		return nil
	}
}

type fakeCreds struct {
	mu      sync.Mutex
	stored  map[string]bool
	deleted []string
}

func newFakeCreds(ids ...string) *fakeCreds {
	c := &fakeCreds{stored: make(map[string]bool)}
	for _, id := range ids {
		c.stored[id] = true
	}
	return c
}

func (c *fakeCreds) HasCredentials(_ context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stored[id], nil
}

func (c *fakeCreds) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.stored, id)
	c.deleted = append(c.deleted, id)
	return nil
}

func (c *fakeCreds) wasDeleted(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.deleted {
		if d == id {
			return true
		}
	}
	return false
}

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]*store.Account
	statuses map[string]string
}

func newFakeAccounts(accs ...*store.Account) *fakeAccounts {
	f := &fakeAccounts{accounts: make(map[string]*store.Account), statuses: make(map[string]string)}
	for _, a := range accs {
		f.accounts[a.SessionID] = a
	}
	return f
}

func (f *fakeAccounts) FindAccountBySessionID(_ context.Context, id string) (*store.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccounts) UpdateAccountStatus(_ context.Context, id, status, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	return nil
}

func (f *fakeAccounts) UpdateNotifierConfig(_ context.Context, id string, p store.NotifierPatch) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return false, nil
	}
	if p.URL != nil {
		a.WebhookURL = *p.URL
	}
	if p.Token != nil {
		a.APIToken = *p.Token
	}
	if p.Enabled != nil {
		a.APIEnabled = *p.Enabled
	}
	return true, nil
}

func (f *fakeAccounts) status(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

// testOptions runs every delay and poll with zero wait.
func testOptions() Options {
	return Options{
		MaxRetries:     3,
		PairingTimeout: time.Second,
		HistoryLimit:   100,
		Fresh:          WaitPolicy{Attempts: 10},
		Existing:       WaitPolicy{Attempts: 5},
	}
}

type harness struct {
	reg      *Registry
	dialer   *fakeDialer
	creds    *fakeCreds
	accounts *fakeAccounts
	bus      *bus.Bus
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		dialer:   newFakeDialer(),
		creds:    newFakeCreds(),
		accounts: newFakeAccounts(),
		bus:      bus.New(),
	}
	h.reg = New(h.dialer, h.accounts, h.creds, h.bus, nil, zap.NewNop(), opts)
	t.Cleanup(h.reg.Close)
	return h
}

// emitCode makes every started connection issue a pairing code.
func emitCode(code string) func(*fakeConn) {
	return func(c *fakeConn) {
		if c.id.Fresh {
			c.emit(wa.PairingCode{Code: code})
		}
	}
}
