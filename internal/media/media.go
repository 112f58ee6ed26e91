// Package media loads image payloads for outbound messages, either from a
// multipart upload or by fetching a URL.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/amoylab/msgate/internal/backend"
	"github.com/amoylab/msgate/internal/common/config"
	"github.com/amoylab/msgate/pkg/trace"
	"github.com/amoylab/msgate/pkg/utils"
)

var tracer = trace.Tracer("msgate/media")

const (
	DefaultMaxBytes     int64 = 16 << 20
	DefaultFetchTimeout       = 30 * time.Second
	DefaultFilename           = "image.png"
	DefaultMimeType           = "image/jpeg"
)

// ErrTooLarge is returned when a payload exceeds the configured limit
var ErrTooLarge = errors.New("media exceeds size limit")

// Loader turns upload or URL input into backend media content
type Loader struct {
	logger   *zap.Logger
	client   *http.Client
	maxBytes int64
}

func NewLoader(logger *zap.Logger, cfg *config.MediaConfig) *Loader {
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Loader{
		logger: logger.Named("media"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxBytes: maxBytes,
	}
}

// Fetch downloads rawURL. The content type comes from the response header,
// the filename from the last path segment.
func (l *Loader) Fetch(ctx context.Context, rawURL string) (_ *backend.MediaContent, err error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid image url %q", rawURL)
	}

	span := tracer.Start(ctx, "media.fetch").WithAttrs(attribute.String("url.host", u.Host))
	defer func() {
		span.RecordError(err)
		span.End()
	}()
	ctx = span.Ctx

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to fetch image: unexpected status %d", resp.StatusCode)
	}

	data, err := l.readLimited(resp.Body)
	if err != nil {
		return nil, err
	}

	mt := utils.FirstNonEmpty(resp.Header.Get("Content-Type"), DefaultMimeType)
	l.logger.Debug("fetched image",
		zap.String("url", u.Redacted()),
		zap.String("mimetype", mt),
		zap.Int("bytes", len(data)))

	return &backend.MediaContent{
		MimeType: mt,
		Data:     data,
		Filename: filenameFromURL(u),
	}, nil
}

// FromUpload reads a multipart file. A missing content type is sniffed.
func (l *Loader) FromUpload(fh *multipart.FileHeader) (*backend.MediaContent, error) {
	if fh.Size > l.maxBytes {
		return nil, ErrTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	data, err := l.readLimited(f)
	if err != nil {
		return nil, err
	}

	mt := fh.Header.Get("Content-Type")
	if mt == "" || mt == "application/octet-stream" {
		mt = mimetype.Detect(data).String()
	}
	return &backend.MediaContent{
		MimeType: mt,
		Data:     data,
		Filename: utils.FirstNonEmpty(fh.Filename, DefaultFilename),
	}, nil
}

func (l *Loader) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

func filenameFromURL(u *url.URL) string {
	base := path.Base(u.Path)
	if base == "." || base == "/" || strings.TrimSpace(base) == "" {
		return DefaultFilename
	}
	return base
}
