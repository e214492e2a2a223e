package wa

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

func (c *connection) buildMessage(ctx context.Context, out Outbound) (*waE2E.Message, error) {
	if out.Media == nil {
		return &waE2E.Message{Conversation: proto.String(out.Text)}, nil
	}

	media := out.Media
	data := media.Data
	if len(data) == 0 {
		fetched, err := c.fetch(ctx, media.URL)
		if err != nil {
			return nil, err
		}
		data = fetched
	}
	mime := media.MimeType
	if mime == "" {
		mime = http.DetectContentType(data)
	}

	var appInfo whatsmeow.MediaType
	switch media.Kind {
	case MediaImage:
		appInfo = whatsmeow.MediaImage
	case MediaVideo:
		appInfo = whatsmeow.MediaVideo
	case MediaAudio:
		appInfo = whatsmeow.MediaAudio
	case MediaDocument:
		appInfo = whatsmeow.MediaDocument
	default:
		return nil, fmt.Errorf("unsupported media kind %q", media.Kind)
	}

	up, err := c.client.Upload(ctx, data, appInfo)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", media.Kind, err)
	}

	switch media.Kind {
	case MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       optional(media.Caption),
			Mimetype:      proto.String(mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}, nil
	case MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       optional(media.Caption),
			Mimetype:      proto.String(mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}, nil
	case MediaAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(mime),
			PTT:           proto.Bool(media.PTT),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}, nil
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       optional(media.Caption),
			FileName:      proto.String(media.FileName),
			Title:         proto.String(media.FileName),
			Mimetype:      proto.String(mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}, nil
	}
}

// fetch downloads an attachment referenced by URL.
func (c *connection) fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("attachment has neither data nor url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download media: unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxMedia+1))
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	if int64(len(data)) > c.maxMedia {
		return nil, fmt.Errorf("media exceeds %d bytes", c.maxMedia)
	}
	return data, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return proto.String(s)
}
