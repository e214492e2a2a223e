// Package dispatch validates outbound send requests and routes them to the
// session's live connection.
package dispatch

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/matheus3301/wpphub/internal/apperr"
	"github.com/matheus3301/wpphub/internal/bus"
	"github.com/matheus3301/wpphub/internal/logging"
	"github.com/matheus3301/wpphub/internal/metrics"
	"github.com/matheus3301/wpphub/internal/models"
	"github.com/matheus3301/wpphub/internal/registry"
	"github.com/matheus3301/wpphub/internal/status"
	"github.com/matheus3301/wpphub/internal/tracing"
	"github.com/matheus3301/wpphub/internal/wa"
)

// Sessions resolves session ids to records.
type Sessions interface {
	Get(id string) (*registry.Record, bool)
	EnsureReady(ctx context.Context, id string) (*registry.Record, error)
}

// Attachment is a media payload. Either URL or Data must be set.
type Attachment struct {
	Kind     string
	URL      string
	Data     []byte
	Caption  string
	MimeType string
	FileName string
	// PTT sends audio as a voice note.
	PTT bool
}

// Request is one outbound send.
type Request struct {
	SessionID  string
	To         string
	Kind       RecipientKind
	Body       string
	Attachment *Attachment
}

// Result describes an acknowledged send.
type Result struct {
	Delivered bool
	MessageID string
	To        string
}

// Attachment defaults.
const (
	DefaultAudioMime    = "audio/mp4"
	DefaultDocumentMime = "application/pdf"
	DefaultDocumentName = "document"
)

// Options configures a Dispatcher.
type Options struct {
	// RatePerSecond <= 0 disables rate limiting.
	RatePerSecond float64
	Burst         int
	Classifier    Classifier
}

// Dispatcher sends messages through connected sessions.
type Dispatcher struct {
	sessions Sessions
	bus      *bus.Bus
	metrics  *metrics.Metrics
	logger   *zap.Logger
	opts     Options

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a dispatcher.
func New(sessions Sessions, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger, opts Options) *Dispatcher {
	if opts.Classifier == nil {
		opts.Classifier = DigitLengthClassifier
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Dispatcher{
		sessions: sessions,
		bus:      b,
		metrics:  m,
		logger:   logger,
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Send validates req, resolves its session and hands the payload to the
// protocol connection. It blocks until the protocol acknowledges.
func (d *Dispatcher) Send(ctx context.Context, req Request) (res Result, err error) {
	start := time.Now()
	kind := payloadKind(req)
	ctx, span := tracing.StartSpan(ctx, "dispatch.Send",
		attribute.String("session", req.SessionID),
		attribute.String("kind", kind),
	)
	defer func() {
		tracing.End(span, err)
		d.metrics.RecordSend(kind, resultLabel(err), time.Since(start))
	}()

	out, err := d.build(req)
	if err != nil {
		return Result{}, err
	}

	rec, err := d.resolve(ctx, req.SessionID)
	if err != nil {
		return Result{}, err
	}
	conn := rec.Conn()
	if state := rec.State(); state != status.Connected || conn == nil {
		return Result{}, apperr.SessionNotReady(req.SessionID, string(state))
	}

	if err := d.limiter(req.SessionID).Wait(ctx); err != nil {
		return Result{}, err
	}

	id, err := conn.Send(ctx, out)
	if err != nil {
		d.logger.Warn("send failed",
			zap.String("session", req.SessionID),
			zap.String("to", logging.MaskJID(out.To)),
			zap.Error(err),
		)
		return Result{}, apperr.Wrap(err, apperr.CodeInternal, "send failed")
	}

	msg := models.Message{
		ID:             id,
		ConversationID: out.To,
		Direction:      models.Outbound,
		Body:           out.Text,
		Type:           kind,
		Timestamp:      time.Now(),
		Status:         models.StatusSent,
	}
	if out.Media != nil {
		msg.Body = out.Media.Caption
	}
	if cache := rec.Cache(); cache != nil {
		cache.UpsertMessages([]models.Message{msg})
	}
	if d.bus != nil {
		d.bus.Publish(bus.Event{Kind: bus.KindMessageSent, Session: req.SessionID, Timestamp: msg.Timestamp, Payload: msg})
	}

	d.logger.Debug("message sent",
		zap.String("session", req.SessionID),
		zap.String("to", logging.MaskJID(out.To)),
		zap.String("kind", kind),
	)
	return Result{Delivered: true, MessageID: id, To: out.To}, nil
}

// build validates the payload and normalizes the recipient.
func (d *Dispatcher) build(req Request) (wa.Outbound, error) {
	hasBody := strings.TrimSpace(req.Body) != ""
	hasMedia := req.Attachment != nil && (req.Attachment.URL != "" || len(req.Attachment.Data) > 0)
	switch {
	case hasBody && hasMedia:
		return wa.Outbound{}, apperr.InvalidRequest("send either a body or an attachment, not both")
	case !hasBody && !hasMedia:
		return wa.Outbound{}, apperr.InvalidRequest("a body or an attachment is required")
	}

	to, err := NormalizeRecipient(req.To, req.Kind, d.opts.Classifier)
	if err != nil {
		return wa.Outbound{}, err
	}
	if hasBody {
		return wa.Outbound{To: to, Text: req.Body}, nil
	}

	media, err := resolveMedia(req.Attachment)
	if err != nil {
		return wa.Outbound{}, err
	}
	return wa.Outbound{To: to, Media: media}, nil
}

func resolveMedia(a *Attachment) (*wa.Media, error) {
	m := &wa.Media{
		Kind:     wa.MediaKind(strings.ToLower(a.Kind)),
		URL:      a.URL,
		Data:     a.Data,
		Caption:  a.Caption,
		MimeType: a.MimeType,
		FileName: a.FileName,
		PTT:      a.PTT,
	}
	switch m.Kind {
	case wa.MediaImage, wa.MediaVideo:
	case wa.MediaAudio:
		if m.MimeType == "" {
			m.MimeType = DefaultAudioMime
		}
	case wa.MediaDocument:
		if m.MimeType == "" {
			m.MimeType = DefaultDocumentMime
		}
		if m.FileName == "" {
			m.FileName = DefaultDocumentName
		}
	default:
		return nil, apperr.UnsupportedAttachment(a.Kind)
	}
	return m, nil
}

// resolve rehydrates only sessions unknown to this process. A known session
// that is not connected is reported as not ready without waiting.
func (d *Dispatcher) resolve(ctx context.Context, id string) (*registry.Record, error) {
	if rec, ok := d.sessions.Get(id); ok {
		return rec, nil
	}
	return d.sessions.EnsureReady(ctx, id)
}

func (d *Dispatcher) limiter(id string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[id]
	if !ok {
		limit := rate.Inf
		if d.opts.RatePerSecond > 0 {
			limit = rate.Limit(d.opts.RatePerSecond)
		}
		l = rate.NewLimiter(limit, d.opts.Burst)
		d.limiters[id] = l
	}
	return l
}

// Forget drops per-session state, e.g. after the session is removed.
func (d *Dispatcher) Forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.limiters, id)
}

func payloadKind(req Request) string {
	if req.Attachment != nil && req.Attachment.Kind != "" {
		return strings.ToLower(req.Attachment.Kind)
	}
	return "text"
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(string(apperr.CodeOf(err)))
}
