package registry

import (
	"sync"
	"time"

	"github.com/matheus3301/wpphub/internal/chatcache"
	"github.com/matheus3301/wpphub/internal/models"
	"github.com/matheus3301/wpphub/internal/status"
	"github.com/matheus3301/wpphub/internal/wa"
)

// Listener receives live inbound messages for one session.
type Listener func(models.InboundMessage)

// NotifierConfig is a session's webhook target.
type NotifierConfig struct {
	URL     string
	Token   string
	Enabled bool
}

// Active reports whether deliveries should be attempted.
func (c NotifierConfig) Active() bool {
	return c.Enabled && c.URL != ""
}

// Record is one session's connection record. The machine owns state, phone,
// retry counter and last error; mu guards everything else.
type Record struct {
	ID        string
	CreatedAt time.Time

	machine *status.Machine

	mu        sync.Mutex
	conn      wa.Conn
	gen       uint64
	removed   bool
	cache     *chatcache.Cache
	listeners map[uint64]Listener
	nextLis   uint64

	notifier       NotifierConfig
	notifierLoaded bool

	code      string
	codeReady chan struct{}
}

func newRecord(id string, machine *status.Machine) *Record {
	return &Record{
		ID:        id,
		CreatedAt: time.Now(),
		machine:   machine,
		listeners: make(map[uint64]Listener),
		codeReady: make(chan struct{}),
	}
}

// Status is a point-in-time view of a record.
type Status struct {
	SessionID       string
	State           status.State
	Phone           string
	LastError       string
	RetryCount      int
	CreatedAt       time.Time
	HasConnection   bool
	HasCache        bool
	NotifierEnabled bool
}

// State returns the current connection state.
func (r *Record) State() status.State {
	return r.machine.Current()
}

// Status returns a consistent snapshot of the record.
func (r *Record) Status() Status {
	snap := r.machine.Snapshot()
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		SessionID:       r.ID,
		State:           snap.State,
		Phone:           snap.Phone,
		LastError:       snap.LastError,
		RetryCount:      snap.RetryCount,
		CreatedAt:       r.CreatedAt,
		HasConnection:   r.conn != nil,
		HasCache:        r.cache != nil,
		NotifierEnabled: r.notifier.Active(),
	}
}

// Conn returns the live protocol handle, or nil.
func (r *Record) Conn() wa.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// Cache returns the conversation cache bound to the current handle, or nil.
func (r *Record) Cache() *chatcache.Cache {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache
}

// PairingCode returns the latest pairing code issued for the current attempt.
func (r *Record) PairingCode() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.code
}

func (r *Record) isCurrent(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.removed && r.gen == gen
}

// begin starts a new connection attempt. The previous handle, if any, is
// returned for the caller to close outside the lock.
func (r *Record) begin(cache *chatcache.Cache) (gen uint64, prev wa.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev = r.conn
	r.conn = nil
	r.gen++
	r.cache = cache
	r.code = ""
	r.signalLocked()
	r.codeReady = make(chan struct{})
	return r.gen, prev
}

// bind attaches conn to attempt gen. It fails if a newer attempt or a
// removal happened meanwhile.
func (r *Record) bind(gen uint64, conn wa.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed || r.gen != gen {
		return false
	}
	r.conn = conn
	return true
}

// release detaches the handle of attempt gen and returns it.
func (r *Record) release(gen uint64) wa.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return nil
	}
	conn := r.conn
	r.conn = nil
	return conn
}

// retire marks the record removed, drops listeners and returns the handle.
func (r *Record) retire() wa.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = true
	r.gen++
	conn := r.conn
	r.conn = nil
	r.cache = nil
	clear(r.listeners)
	r.signalLocked()
	return conn
}

func (r *Record) setCode(gen uint64, code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed || r.gen != gen {
		return false
	}
	r.code = code
	r.signalLocked()
	return true
}

// signal wakes pairing waiters without a code, e.g. on close or authorization.
func (r *Record) signal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signalLocked()
}

func (r *Record) signalLocked() {
	select {
	case <-r.codeReady:
	default:
		close(r.codeReady)
	}
}

func (r *Record) pairingWait() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.codeReady
}

func (r *Record) addListener(fn Listener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextLis++
	id := r.nextLis
	r.listeners[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners, id)
	}
}

func (r *Record) snapshotListeners() []Listener {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Listener, 0, len(r.listeners))
	for _, fn := range r.listeners {
		out = append(out, fn)
	}
	return out
}

func (r *Record) notifierConfig() (NotifierConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notifier, r.notifierLoaded
}

func (r *Record) setNotifierConfig(cfg NotifierConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifier = cfg
	r.notifierLoaded = true
}
