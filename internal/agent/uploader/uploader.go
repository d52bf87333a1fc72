// Package uploader buffers acquisition samples and posts them in batches.
//
// Delivery is at most once. A batch whose POST fails is logged and
// dropped; nothing is retried or kept across restarts.
package uploader

import (
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/okian/zapgaze/internal/domain/model"
	"github.com/okian/zapgaze/pkg/logger"
	"github.com/okian/zapgaze/pkg/metrics"
)

// Poster delivers one batch.
type Poster interface {
	PostBatch(ctx context.Context, batchURL string, samples []model.Sample) error
}

// Option applies a configuration option to the Uploader.
type Option func(*Uploader)

// WithLogger sets a custom logger for the uploader.
func WithLogger(l logger.Logger) Option {
	return func(u *Uploader) {
		if l != nil {
			u.logger = l
		}
	}
}

// Uploader accumulates samples for one acquisition session. It is owned by
// the capture goroutine and is not safe for concurrent use.
type Uploader struct {
	poster   Poster
	batchURL string
	size     int
	buf      []model.Sample
	logger   logger.Logger
}

// New creates an uploader posting batches of size samples to batchURL.
func New(p Poster, batchURL string, size int, opts ...Option) *Uploader {
	if size < 1 {
		size = 1
	}
	u := &Uploader{
		poster:   p,
		batchURL: batchURL,
		size:     size,
		buf:      make([]model.Sample, 0, size),
		logger:   logger.Get().Named("uploader"),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// BatchURL derives the batch endpoint from an acquisition api_url by
// replacing its last path segment with "batch".
func BatchURL(apiURL string) string {
	trimmed := strings.TrimRight(apiURL, "/")
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		if i := strings.LastIndex(trimmed, "/"); i >= 0 {
			return trimmed[:i] + "/batch"
		}
		return trimmed + "/batch"
	}
	dir := path.Dir(u.Path)
	if dir == "." {
		dir = "/"
	}
	u.Path = path.Join(dir, "batch")
	u.RawQuery = ""
	return u.String()
}

// Add buffers s and reports whether the buffer reached the batch size.
func (u *Uploader) Add(s model.Sample) bool {
	u.buf = append(u.buf, s)
	return len(u.buf) >= u.size
}

// Len returns the number of buffered samples.
func (u *Uploader) Len() int { return len(u.buf) }

// Flush posts whatever is buffered and clears the buffer whether or not
// the post succeeded.
func (u *Uploader) Flush(ctx context.Context) error {
	if len(u.buf) == 0 {
		return nil
	}
	batch := u.buf
	u.buf = make([]model.Sample, 0, u.size)

	if err := u.poster.PostBatch(ctx, u.batchURL, batch); err != nil {
		metrics.RecordUploadBatch("dropped", len(batch))
		metrics.RecordErrorByComponent("uploader", "post_failed")
		u.logger.Warn(ctx, "failed to send batch",
			logger.Int("samples", len(batch)),
			logger.String("url", u.batchURL),
			logger.Error(err),
		)
		return err
	}
	metrics.RecordUploadBatch("sent", len(batch))
	u.logger.Debug(ctx, "sent batch", logger.Int("samples", len(batch)))
	return nil
}
