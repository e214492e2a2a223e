// Package webhook forwards inbound messages to each session's configured
// HTTP endpoint and keeps a bounded log of the attempts.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/matheus3301/wpphub/internal/bus"
	"github.com/matheus3301/wpphub/internal/metrics"
	"github.com/matheus3301/wpphub/internal/models"
	"github.com/matheus3301/wpphub/internal/registry"
	"github.com/matheus3301/wpphub/internal/tracing"
)

// EventMessageReceived is the envelope event name for inbound messages.
const EventMessageReceived = "message.received"

// ConfigSource resolves a session's webhook target.
type ConfigSource interface {
	NotifierConfig(ctx context.Context, sessionID string) (registry.NotifierConfig, error)
}

// Envelope is the JSON body POSTed to webhooks.
type Envelope struct {
	SessionID string    `json:"sessionId"`
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Options configures a Notifier.
type Options struct {
	Timeout     time.Duration
	LogCapacity int
	QueueSize   int
	Workers     int
}

type job struct {
	sessionID string
	msg       models.InboundMessage
}

// Notifier delivers inbound messages on a background worker pool so that
// message ingestion never waits on a webhook.
type Notifier struct {
	source  ConfigSource
	bus     *bus.Bus
	client  *http.Client
	log     *Log
	metrics *metrics.Metrics
	logger  *zap.Logger
	opts    Options

	queue  chan job
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a notifier. Call Start to begin consuming the bus.
func New(source ConfigSource, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger, opts Options) *Notifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Notifier{
		source:  source,
		bus:     b,
		client:  &http.Client{Timeout: opts.Timeout},
		log:     NewLog(opts.LogCapacity),
		metrics: m,
		logger:  logger,
		opts:    opts,
		queue:   make(chan job, opts.QueueSize),
	}
}

// Start subscribes to inbound message events and runs the workers.
func (n *Notifier) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)

	if n.bus != nil {
		events, unsub := n.bus.Subscribe(bus.KindMessageReceived, n.opts.QueueSize)
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case evt := <-events:
					if msg, ok := evt.Payload.(models.InboundMessage); ok {
						n.Enqueue(evt.Session, msg)
					}
				}
			}
		}()
	}

	for i := 0; i < n.opts.Workers; i++ {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-n.queue:
					n.Deliver(ctx, j.sessionID, j.msg)
				}
			}
		}()
	}
}

// Stop halts the workers. Queued deliveries are dropped.
func (n *Notifier) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
}

// Enqueue schedules a delivery without blocking. It reports false when the
// queue is full and the message was dropped.
func (n *Notifier) Enqueue(sessionID string, msg models.InboundMessage) bool {
	select {
	case n.queue <- job{sessionID: sessionID, msg: msg}:
		return true
	default:
		n.logger.Warn("webhook queue full, dropping message",
			zap.String("session", sessionID),
			zap.String("message_id", msg.ID),
		)
		return false
	}
}

// Deliver POSTs msg to the session's webhook if one is enabled. Failures are
// logged and recorded, never returned.
func (n *Notifier) Deliver(ctx context.Context, sessionID string, msg models.InboundMessage) {
	cfg, err := n.source.NotifierConfig(ctx, sessionID)
	if err != nil {
		n.logger.Debug("no webhook config", zap.String("session", sessionID), zap.Error(err))
		return
	}
	if !cfg.Active() {
		return
	}

	env := Envelope{
		SessionID: sessionID,
		Event:     EventMessageReceived,
		Data:      msg,
		Timestamp: time.Now().UTC(),
	}
	entry := n.post(ctx, cfg, env)
	n.log.Add(entry)
}

func (n *Notifier) post(ctx context.Context, cfg registry.NotifierConfig, env Envelope) (entry LogEntry) {
	start := time.Now()
	entry = LogEntry{
		ID:        uuid.NewString(),
		URL:       cfg.URL,
		Payload:   env,
		Timestamp: start.UTC(),
	}

	ctx, span := tracing.StartSpan(ctx, "webhook.Deliver",
		attribute.String("session", env.SessionID),
		attribute.String("url", cfg.URL),
	)
	var err error
	defer func() {
		tracing.End(span, err)
		n.metrics.RecordWebhook(entry.Success, time.Since(start))
		if err != nil {
			n.logger.Warn("webhook delivery failed",
				zap.String("session", env.SessionID),
				zap.String("url", cfg.URL),
				zap.Error(err),
			)
		}
	}()

	body, err := json.Marshal(env)
	if err != nil {
		entry.Error = err.Error()
		return entry
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		entry.Error = err.Error()
		return entry
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		entry.Error = err.Error()
		return entry
	}
	_ = resp.Body.Close()

	entry.Status = resp.StatusCode
	entry.StatusText = http.StatusText(resp.StatusCode)
	entry.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !entry.Success {
		err = fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return entry
}

// Log returns the delivery log, newest first.
func (n *Notifier) Log() []LogEntry {
	return n.log.Entries()
}
