package toolexecutor

import (
	"context"
	"encoding/base64"
)

// Attachment is an image supplied with the current query
type Attachment struct {
	Data     []byte
	MimeType string
}

// Base64 returns the standard base64 encoding of the image bytes
func (a *Attachment) Base64() string {
	return base64.StdEncoding.EncodeToString(a.Data)
}

// DataURL returns the image as a data: URL. Missing MIME types default to JPEG.
func (a *Attachment) DataURL() string {
	mime := a.MimeType
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + a.Base64()
}

type attachmentKey struct{}

// WithAttachment makes the query image visible to tool handlers.
func WithAttachment(ctx context.Context, att *Attachment) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if att == nil || len(att.Data) == 0 {
		return ctx
	}
	return context.WithValue(ctx, attachmentKey{}, att)
}

// AttachmentFromContext returns the query image, if any.
func AttachmentFromContext(ctx context.Context) (*Attachment, bool) {
	if ctx == nil {
		return nil, false
	}
	att, ok := ctx.Value(attachmentKey{}).(*Attachment)
	return att, ok && att != nil
}
