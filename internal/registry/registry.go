// Package registry holds the process-wide map of WhatsApp sessions and drives
// each one's connection lifecycle: pairing, reconnects and readiness waits.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/matheus3301/wpphub/internal/apperr"
	"github.com/matheus3301/wpphub/internal/bus"
	"github.com/matheus3301/wpphub/internal/metrics"
	"github.com/matheus3301/wpphub/internal/status"
	"github.com/matheus3301/wpphub/internal/store"
	"github.com/matheus3301/wpphub/internal/wa"
)

// AccountStore is the durable account table.
type AccountStore interface {
	FindAccountBySessionID(ctx context.Context, sessionID string) (*store.Account, error)
	UpdateAccountStatus(ctx context.Context, sessionID, status, phone string) error
	UpdateNotifierConfig(ctx context.Context, sessionID string, p store.NotifierPatch) (bool, error)
}

// Credentials is the on-disk credential material keyed by session id.
type Credentials interface {
	HasCredentials(ctx context.Context, sessionID string) (bool, error)
	Delete(ctx context.Context, sessionID string) error
}

// Options tunes timings and bounds.
type Options struct {
	MaxRetries     int
	RetryDelay     time.Duration
	SettleDelay    time.Duration
	PairingTimeout time.Duration
	HistoryLimit   int
	// Fresh bounds the wait after rehydrating a session from its account.
	Fresh WaitPolicy
	// Existing bounds the wait on a record already held in memory.
	Existing WaitPolicy
}

// DefaultOptions returns production timings.
func DefaultOptions() Options {
	return Options{
		MaxRetries:     status.DefaultMaxRetries,
		RetryDelay:     2 * time.Second,
		SettleDelay:    2 * time.Second,
		PairingTimeout: 120 * time.Second,
		HistoryLimit:   100,
		Fresh:          WaitPolicy{Interval: time.Second, Attempts: 10},
		Existing:       WaitPolicy{Interval: time.Second, Attempts: 5},
	}
}

// Registry is the single source of truth for which sessions exist and in
// what state. Construct one per process and inject it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Record

	dialer   wa.Dialer
	accounts AccountStore
	creds    Credentials
	bus      *bus.Bus
	metrics  *metrics.Metrics
	logger   *zap.Logger
	opts     Options
	super    *supervisor

	// base outlives individual requests; connections are started under it.
	base   context.Context
	cancel context.CancelFunc
}

// New creates an empty registry.
func New(dialer wa.Dialer, accounts AccountStore, creds Credentials, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger, opts Options) *Registry {
	base, cancel := context.WithCancel(context.Background())
	return &Registry{
		sessions: make(map[string]*Record),
		dialer:   dialer,
		accounts: accounts,
		creds:    creds,
		bus:      b,
		metrics:  m,
		logger:   logger,
		opts:     opts,
		super:    newSupervisor(),
		base:     base,
		cancel:   cancel,
	}
}

// Create inserts a pending record if absent and returns the record for id.
// It never touches the network.
func (r *Registry) Create(id string) *Record {
	rec, _ := r.getOrCreate(id)
	return rec
}

func (r *Registry) getOrCreate(id string) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.sessions[id]; ok {
		return rec, false
	}
	rec := newRecord(id, status.NewMachine(id, r.opts.MaxRetries, r.bus))
	r.sessions[id] = rec
	return rec, true
}

// Get returns the record for id.
func (r *Registry) Get(id string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.sessions[id]
	return rec, ok
}

// List returns every record's status, ordered by creation time.
func (r *Registry) List() []Status {
	r.mu.RLock()
	recs := make([]*Record, 0, len(r.sessions))
	for _, rec := range r.sessions {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	out := make([]Status, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Status())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// CountByState tallies records per state.
func (r *Registry) CountByState() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := map[string]int{
		string(status.Pending):      0,
		string(status.Connected):    0,
		string(status.Disconnected): 0,
		string(status.Error):        0,
	}
	for _, rec := range r.sessions {
		counts[string(rec.State())]++
	}
	return counts
}

// Status reports a session's state. Unknown sessions fail with
// SessionNotFound; callers should treat that as "unknown, poll again" since
// another process may own the session.
func (r *Registry) Status(id string) (Status, error) {
	rec, ok := r.Get(id)
	if !ok {
		return Status{SessionID: id}, apperr.SessionNotFound(id)
	}
	return rec.Status(), nil
}

// EnsureReady returns a connected record, reconnecting it first if needed.
// A session unknown in memory is rehydrated from its account row.
func (r *Registry) EnsureReady(ctx context.Context, id string) (*Record, error) {
	rec, ok := r.Get(id)
	if !ok {
		return r.rehydrate(ctx, id)
	}

	switch rec.State() {
	case status.Connected:
		if rec.Conn() != nil {
			return rec, nil
		}
	case status.Pending:
		// Mid-pairing or mid-reconnect: wait only.
	default:
		if err := r.reconnect(ctx, rec); err != nil {
			r.logger.Warn("reconnect failed", zap.String("session", id), zap.Error(err))
		}
	}
	return r.await(ctx, rec, r.opts.Existing)
}

func (r *Registry) rehydrate(ctx context.Context, id string) (*Record, error) {
	acc, err := r.accounts.FindAccountBySessionID(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "account lookup failed")
	}
	if acc == nil || acc.SessionID == "" {
		return nil, apperr.SessionNotFound(id)
	}

	rec, created := r.getOrCreate(id)
	if created {
		rec.setNotifierConfig(NotifierConfig{URL: acc.WebhookURL, Token: acc.APIToken, Enabled: acc.APIEnabled})
		r.logger.Info("rehydrating session from account", zap.String("session", id))
		if err := r.reconnect(ctx, rec); err != nil {
			r.logger.Warn("rehydrate reconnect failed", zap.String("session", id), zap.Error(err))
		}
	}
	return r.await(ctx, rec, r.opts.Fresh)
}

func (r *Registry) await(ctx context.Context, rec *Record, policy WaitPolicy) (*Record, error) {
	err := policy.Wait(ctx, func() error {
		switch rec.State() {
		case status.Connected:
			if rec.Conn() != nil {
				return nil
			}
		case status.Error:
			return backoff.Permanent(errNotReady)
		}
		return errNotReady
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.SessionUnavailable(rec.ID, string(rec.State()))
	}
	return rec, nil
}

// Remove closes the session's connection, drops its listeners, deletes the
// record and deletes its stored credentials. Removing an unknown session
// still deletes credentials.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	rec, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		if conn := rec.retire(); conn != nil {
			conn.Close()
		}
	}
	if err := r.creds.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	r.publish(bus.KindSessionRemoved, id, nil)
	r.logger.Info("session removed", zap.String("session", id), zap.Bool("was_loaded", ok))
	return nil
}

// Subscribe registers a listener for the session's live inbound messages.
// The returned func unregisters it.
func (r *Registry) Subscribe(id string, fn Listener) (func(), error) {
	rec, ok := r.Get(id)
	if !ok {
		return nil, apperr.SessionNotFound(id)
	}
	return rec.addListener(fn), nil
}

// NotifierConfig returns the session's webhook target, loading it from the
// account store once and caching it on the record.
func (r *Registry) NotifierConfig(ctx context.Context, id string) (NotifierConfig, error) {
	rec, ok := r.Get(id)
	if !ok {
		return NotifierConfig{}, apperr.SessionNotFound(id)
	}
	if cfg, loaded := rec.notifierConfig(); loaded {
		return cfg, nil
	}
	acc, err := r.accounts.FindAccountBySessionID(ctx, id)
	if err != nil {
		return NotifierConfig{}, fmt.Errorf("load notifier config: %w", err)
	}
	var cfg NotifierConfig
	if acc != nil {
		cfg = NotifierConfig{URL: acc.WebhookURL, Token: acc.APIToken, Enabled: acc.APIEnabled}
	}
	rec.setNotifierConfig(cfg)
	return cfg, nil
}

// NotifierPatch changes webhook settings. Nil fields are kept.
type NotifierPatch struct {
	URL     *string
	Token   *string
	Enabled *bool
}

// UpdateNotifierConfig persists the patch on the account and applies it to
// the live record, if one is loaded.
func (r *Registry) UpdateNotifierConfig(ctx context.Context, id string, p NotifierPatch) error {
	persisted, err := r.accounts.UpdateNotifierConfig(ctx, id, store.NotifierPatch{URL: p.URL, Token: p.Token, Enabled: p.Enabled})
	if err != nil {
		return fmt.Errorf("persist notifier config: %w", err)
	}
	rec, ok := r.Get(id)
	if !ok {
		if !persisted {
			return apperr.SessionNotFound(id)
		}
		return nil
	}

	cfg, loaded := rec.notifierConfig()
	if !loaded && persisted {
		// Lazily reloaded from the account on next use.
		return nil
	}
	if p.URL != nil {
		cfg.URL = *p.URL
	}
	if p.Token != nil {
		cfg.Token = *p.Token
	}
	if p.Enabled != nil {
		cfg.Enabled = *p.Enabled
	}
	rec.setNotifierConfig(cfg)
	return nil
}

// Restore reconnects every account that has stored credentials. Failures are
// logged per session.
func (r *Registry) Restore(ctx context.Context, sessionIDs []string) int {
	restored := 0
	for _, id := range sessionIDs {
		ok, err := r.creds.HasCredentials(ctx, id)
		if err != nil || !ok {
			continue
		}
		rec, created := r.getOrCreate(id)
		if !created {
			continue
		}
		if err := r.reconnect(ctx, rec); err != nil {
			r.logger.Warn("restore failed", zap.String("session", id), zap.Error(err))
			continue
		}
		restored++
	}
	return restored
}

// Close stops pending reconnects and closes every connection. Records stay
// in the map; the process is expected to exit.
func (r *Registry) Close() {
	r.cancel()
	r.super.stop()

	r.mu.RLock()
	recs := make([]*Record, 0, len(r.sessions))
	for _, rec := range r.sessions {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	for _, rec := range recs {
		if conn := rec.retire(); conn != nil {
			conn.Close()
		}
	}
}

func (r *Registry) publish(kind, session string, payload any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(bus.Event{Kind: kind, Session: session, Timestamp: time.Now(), Payload: payload})
}

func (r *Registry) persistStatus(id string, state status.State, phone string) {
	if r.accounts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(r.base, 5*time.Second)
	defer cancel()
	if err := r.accounts.UpdateAccountStatus(ctx, id, string(state), phone); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("persist account status", zap.String("session", id), zap.Error(err))
	}
}
