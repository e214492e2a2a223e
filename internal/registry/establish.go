package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wpphub/internal/bus"
	"github.com/matheus3301/wpphub/internal/chatcache"
	"github.com/matheus3301/wpphub/internal/models"
	"github.com/matheus3301/wpphub/internal/status"
	"github.com/matheus3301/wpphub/internal/wa"
)

var errSuperseded = errors.New("connection attempt superseded")

// establish opens a new connection for rec. Fresh discards stored
// credentials and starts pairing; otherwise the stored credentials are
// reused and no pairing code is issued. Any previous handle is released
// first and its cache discarded.
func (r *Registry) establish(ctx context.Context, rec *Record, fresh bool) error {
	cache := chatcache.New(r.opts.HistoryLimit, chatcache.WithEvictionHook(r.metrics.RecordEvictions))
	gen, prev := rec.begin(cache)
	if prev != nil {
		prev.Close()
	}

	var err error
	if fresh {
		err = rec.machine.Reset()
	} else {
		err = rec.machine.Reconnecting()
	}
	if err != nil {
		return err
	}

	conn, err := r.dialer.Open(ctx, wa.Identity{SessionID: rec.ID, Fresh: fresh}, r.handler(rec, gen))
	if err != nil {
		r.failAttempt(rec, gen, status.MsgReconnectFailed)
		return fmt.Errorf("open connection: %w", err)
	}
	if !rec.bind(gen, conn) {
		conn.Close()
		return errSuperseded
	}
	if err := conn.Connect(r.base); err != nil {
		if c := rec.release(gen); c != nil {
			c.Close()
		}
		r.failAttempt(rec, gen, status.MsgReconnectFailed)
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// reconnect reuses stored credentials.
func (r *Registry) reconnect(ctx context.Context, rec *Record) error {
	err := r.establish(ctx, rec, false)
	if err != nil {
		r.metrics.RecordReconnect("failed")
	}
	return err
}

func (r *Registry) failAttempt(rec *Record, gen uint64, msg string) {
	if !rec.isCurrent(gen) {
		return
	}
	if err := rec.machine.Fail(msg); err != nil {
		r.logger.Debug("fail transition rejected", zap.String("session", rec.ID), zap.Error(err))
	}
	rec.signal()
	r.persistStatus(rec.ID, status.Error, "")
}

// handler returns the event handler bound to one connection attempt. Events
// from superseded attempts are dropped.
func (r *Registry) handler(rec *Record, gen uint64) wa.Handler {
	log := r.logger.With(zap.String("session", rec.ID))
	return func(evt wa.Event) {
		if !rec.isCurrent(gen) {
			log.Debug("dropping event from stale connection", zap.String("event", wa.Name(evt)))
			return
		}
		switch e := evt.(type) {
		case wa.PairingCode:
			if rec.setCode(gen, e.Code) {
				r.publish(bus.KindPairingCode, rec.ID, e.Code)
			}
		case wa.Authorized:
			r.onAuthorized(rec, gen, e, log)
		case wa.Closed:
			r.onClosed(rec, gen, e, log)
		case wa.MessagesUpsert:
			if cache := rec.Cache(); cache != nil {
				cache.Apply(e)
			}
			if e.Notify {
				r.fanOut(rec, e.Messages)
			}
		default:
			if cache := rec.Cache(); cache != nil {
				cache.Apply(evt)
			}
		}
	}
}

func (r *Registry) onAuthorized(rec *Record, gen uint64, e wa.Authorized, log *zap.Logger) {
	if err := rec.machine.Authorize(e.Phone); err != nil {
		log.Warn("authorize transition rejected", zap.Error(err))
		return
	}
	rec.signal()
	log.Info("session connected")
	r.persistStatus(rec.ID, status.Connected, e.Phone)

	r.super.after(r.opts.SettleDelay, func() {
		r.syncContacts(rec, gen, log)
	})
}

// syncContacts pulls the address book once history has had time to arrive.
func (r *Registry) syncContacts(rec *Record, gen uint64, log *zap.Logger) {
	if !rec.isCurrent(gen) {
		return
	}
	conn, cache := rec.Conn(), rec.Cache()
	if conn == nil || cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(r.base, 30*time.Second)
	defer cancel()
	contacts, err := conn.Contacts(ctx)
	if err != nil {
		log.Warn("contact sync failed", zap.Error(err))
		return
	}
	cache.UpsertContacts(contacts)
	stats := cache.Stats()
	log.Info("snapshot sync complete",
		zap.Int("chats", stats.Conversations),
		zap.Int("contacts", stats.Contacts),
		zap.Int("messages", stats.Messages),
	)
	r.publish(bus.KindSyncCompleted, rec.ID, stats)
}

func (r *Registry) onClosed(rec *Record, gen uint64, e wa.Closed, log *zap.Logger) {
	if conn := rec.release(gen); conn != nil {
		// Close can block on the protocol layer, which may be waiting on this handler.
		go conn.Close()
	}
	defer rec.signal()

	log = log.With(zap.Stringer("reason", e.Reason), zap.String("detail", e.Detail))
	switch e.Reason {
	case wa.CloseLoggedOut:
		if err := rec.machine.Fail(status.MsgLoggedOut); err != nil {
			log.Debug("logout transition rejected", zap.Error(err))
			return
		}
		log.Warn("session logged out")
		r.persistStatus(rec.ID, status.Error, "")
		ctx, cancel := context.WithTimeout(r.base, 10*time.Second)
		defer cancel()
		if err := r.creds.Delete(ctx, rec.ID); err != nil {
			log.Warn("delete invalid credentials", zap.Error(err))
		}

	case wa.CloseRestartRequired:
		retry, err := rec.machine.Retry()
		if err != nil {
			log.Debug("retry transition rejected", zap.Error(err))
			return
		}
		if !retry {
			log.Warn("retry budget exhausted")
			r.metrics.RecordReconnect("exhausted")
			r.persistStatus(rec.ID, status.Error, "")
			return
		}
		log.Info("scheduling reconnect", zap.Int("retry", rec.machine.Snapshot().RetryCount))
		r.metrics.RecordReconnect("scheduled")
		r.schedule(rec, gen)

	default:
		if err := rec.machine.Lose(e.Detail); err != nil {
			log.Debug("disconnect transition rejected", zap.Error(err))
			return
		}
		log.Info("session disconnected")
		r.persistStatus(rec.ID, status.Disconnected, "")
	}
}

// schedule reconnects rec after the retry delay with stored credentials. A
// timer whose record was removed or replaced meanwhile does nothing.
func (r *Registry) schedule(rec *Record, gen uint64) {
	r.super.after(r.opts.RetryDelay, func() {
		if !rec.isCurrent(gen) {
			return
		}
		if err := r.reconnect(r.base, rec); err != nil && !errors.Is(err, errSuperseded) {
			r.logger.Warn("scheduled reconnect failed", zap.String("session", rec.ID), zap.Error(err))
		}
	})
}

// fanOut hands live messages to in-process listeners and to the bus, where
// the webhook notifier picks them up.
func (r *Registry) fanOut(rec *Record, msgs []models.Message) {
	listeners := rec.snapshotListeners()
	for _, m := range msgs {
		in := models.NewInbound(m)
		for _, fn := range listeners {
			r.callListener(rec.ID, fn, in)
		}
		r.publish(bus.KindMessageReceived, rec.ID, in)
	}
}

func (r *Registry) callListener(id string, fn Listener, in models.InboundMessage) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("message listener panicked", zap.String("session", id), zap.Any("panic", p))
		}
	}()
	fn(in)
}
