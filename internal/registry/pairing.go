package registry

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/matheus3301/wpphub/internal/apperr"
	"github.com/matheus3301/wpphub/internal/status"
)

// PairingImageSize is the side length in pixels of the rendered QR code.
const PairingImageSize = 256

// PairingImage is a scannable pairing code.
type PairingImage struct {
	SessionID string
	Code      string
	PNG       []byte
	// DataURL is the PNG as a data: URL, ready for an <img> tag.
	DataURL string
}

// NewPairingImage renders code as a QR PNG.
func NewPairingImage(sessionID, code string) (*PairingImage, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, PairingImageSize)
	if err != nil {
		return nil, fmt.Errorf("render pairing code: %w", err)
	}
	return &PairingImage{
		SessionID: sessionID,
		Code:      code,
		PNG:       png,
		DataURL:   "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}

// RequestPairing starts a fresh pairing for id and blocks until the first
// pairing code arrives or the pairing timeout elapses. The record is created
// if needed. An already connected session is rejected.
func (r *Registry) RequestPairing(ctx context.Context, id string) (*PairingImage, error) {
	rec := r.Create(id)
	if rec.State() == status.Connected {
		return nil, apperr.InvalidRequest("session %q is already connected", id)
	}

	if err := r.establish(ctx, rec, true); err != nil {
		r.metrics.RecordPairing("failed")
		return nil, apperr.Wrap(err, apperr.CodeInternal, "start pairing")
	}

	timer := time.NewTimer(r.opts.PairingTimeout)
	defer timer.Stop()

	select {
	case <-rec.pairingWait():
	case <-timer.C:
		r.metrics.RecordPairing("timeout")
		r.logger.Warn("pairing timed out", zap.String("session", id))
		return nil, apperr.PairingTimeout(id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	code := rec.PairingCode()
	if code == "" {
		r.metrics.RecordPairing("failed")
		return nil, apperr.SessionUnavailable(id, string(rec.State()))
	}
	r.metrics.RecordPairing("issued")
	return NewPairingImage(id, code)
}

// PairingCode returns the latest code for a pending session. Codes rotate
// while the pairing is outstanding.
func (r *Registry) PairingCode(id string) (*PairingImage, error) {
	rec, ok := r.Get(id)
	if !ok {
		return nil, apperr.SessionNotFound(id)
	}
	code := rec.PairingCode()
	if code == "" || rec.State() != status.Pending {
		return nil, apperr.SessionUnavailable(id, string(rec.State()))
	}
	return NewPairingImage(id, code)
}
