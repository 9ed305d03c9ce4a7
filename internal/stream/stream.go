// Package stream opens network video sources and decodes their frames.
//
// Two kinds of HTTP source are understood:
//   - Motion JPEG (multipart/x-mixed-replace): one long-lived response,
//     every part is a frame. Parts are consumed in the background and Read
//     returns the newest one, so a slow reader never sees stale frames.
//   - Snapshot endpoints (image/*): every frame is a separate GET.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	// Frame decoders registered with image.Decode
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/bryanchriswhite/StreamSnap/internal/logger"
)

const (
	// DefaultMaxFrameSize caps a single encoded frame
	DefaultMaxFrameSize int64 = 16 << 20
	// DefaultOpenTimeout bounds connecting and waiting for response headers
	DefaultOpenTimeout = 10 * time.Second

	defaultUserAgent = "streamsnap/1.0"
)

var (
	// ErrClosed is returned by Read after Close
	ErrClosed = errors.New("stream closed")
	// ErrUnsupportedContentType is returned by Open for responses that carry no frames
	ErrUnsupportedContentType = errors.New("unsupported content type")
	// ErrFrameTooLarge is returned when an encoded frame exceeds MaxFrameSize
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
)

// StatusError reports a non-2xx response from the source
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Kind identifies how frames are pulled from the source
type Kind string

const (
	KindMJPEG    Kind = "mjpeg"
	KindSnapshot Kind = "snapshot"
)

// Options configures Open
type Options struct {
	// OpenTimeout bounds dialing, TLS and the wait for response headers.
	// It does not limit how long an MJPEG body stays open.
	OpenTimeout time.Duration
	// MaxFrameSize caps a single encoded frame
	MaxFrameSize int64
	UserAgent    string
	// Client overrides the HTTP client built from OpenTimeout
	Client *http.Client
}

func (o Options) withDefaults() Options {
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = DefaultOpenTimeout
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.Client == nil {
		o.Client = newClient(o.OpenTimeout)
	}
	return o
}

func newClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: timeout}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
		},
	}
}

// Handle is an open connection to a video source.
// It is owned by a single reader and is not safe for concurrent use.
type Handle struct {
	url  string
	kind Kind
	opts Options

	body    io.ReadCloser
	pending image.Image

	// MJPEG parts, filled by pump
	mu      sync.Mutex
	latest  []byte
	seq     uint64
	taken   uint64
	pumpErr error
	ready   chan struct{}
	done    chan struct{}

	closed bool
}

// Open connects to url and prepares to read frames.
// For MJPEG sources the response body stays bound to ctx: cancelling ctx
// unblocks a pending Read.
func Open(ctx context.Context, url string, opts Options) (*Handle, error) {
	opts = opts.withDefaults()
	log := logger.WithComponent("stream")

	resp, err := get(ctx, opts, url)
	if err != nil {
		return nil, err
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, resp.Header.Get("Content-Type"))
	}

	h := &Handle{url: url, opts: opts}

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		boundary := strings.TrimPrefix(params["boundary"], "--")
		if boundary == "" {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %s without boundary", ErrUnsupportedContentType, mediaType)
		}
		h.kind = KindMJPEG
		h.body = resp.Body
		h.ready = make(chan struct{}, 1)
		h.done = make(chan struct{})
		go h.pump(multipart.NewReader(resp.Body, boundary))

	case strings.HasPrefix(mediaType, "image/"):
		frame, err := decodeBody(resp.Body, opts.MaxFrameSize)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode snapshot: %w", err)
		}
		h.kind = KindSnapshot
		h.pending = frame

	default:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, mediaType)
	}

	log.Debug().
		Str("url", url).
		Str("kind", string(h.kind)).
		Msg("Stream opened")

	return h, nil
}

// get issues a GET and rejects non-2xx responses
func get(ctx context.Context, opts Options, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", opts.UserAgent)

	resp, err := opts.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// Read returns the next frame.
// Any error is final for MJPEG sources; the handle should be closed.
func (h *Handle) Read(ctx context.Context) (image.Image, error) {
	if h.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		frame image.Image
		err   error
	)
	switch h.kind {
	case KindMJPEG:
		frame, err = h.nextPart(ctx)
	case KindSnapshot:
		frame, err = h.nextSnapshot(ctx)
	default:
		err = fmt.Errorf("unknown stream kind %q", h.kind)
	}
	if err != nil {
		return nil, err
	}
	return frame, nil
}

// pump reads parts until the body fails, keeping only the newest one
func (h *Handle) pump(parts *multipart.Reader) {
	defer close(h.done)

	for {
		data, err := readPart(parts, h.opts.MaxFrameSize)

		h.mu.Lock()
		if err != nil {
			h.pumpErr = err
		} else {
			h.latest = data
			h.seq++
		}
		h.mu.Unlock()

		select {
		case h.ready <- struct{}{}:
		default:
		}
		if err != nil {
			return
		}
	}
}

// readPart returns the raw bytes of the next part. The part is not closed:
// closing drains up to the next boundary, which a live camera only sends
// with the following frame. NextPart skips the remainder itself.
func readPart(parts *multipart.Reader, limit int64) ([]byte, error) {
	part, err := parts.NextPart()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read part: %w", err)
	}

	// With a Content-Length the frame is complete without waiting for the
	// next boundary.
	if cl := part.Header.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid part Content-Length %q", cl)
		}
		if n > limit {
			return nil, ErrFrameTooLarge
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(part, data); err != nil {
			return nil, fmt.Errorf("failed to read frame: %w", err)
		}
		return data, nil
	}

	return readLimited(part, limit)
}

// nextPart decodes the newest part not yet returned, waiting for one if
// needed. A part that is already buffered is returned before a stream error.
func (h *Handle) nextPart(ctx context.Context) (image.Image, error) {
	for {
		h.mu.Lock()
		if h.seq > h.taken {
			data := h.latest
			skipped := h.seq - h.taken - 1
			h.taken = h.seq
			h.mu.Unlock()

			if skipped > 0 {
				logger.WithComponent("stream").Debug().
					Uint64("skipped", skipped).
					Msg("Dropped stale frames")
			}
			return decodeFrame(data)
		}
		err := h.pumpErr
		h.mu.Unlock()
		if err != nil {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-h.ready:
		}
	}
}

func (h *Handle) nextSnapshot(ctx context.Context) (image.Image, error) {
	if h.pending != nil {
		frame := h.pending
		h.pending = nil
		return frame, nil
	}

	resp, err := get(ctx, h.opts, h.url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeBody(resp.Body, h.opts.MaxFrameSize)
}

func decodeBody(r io.Reader, limit int64) (image.Image, error) {
	data, err := readLimited(r, limit)
	if err != nil {
		return nil, err
	}
	return decodeFrame(data)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, ErrFrameTooLarge
	}
	return data, nil
}

func decodeFrame(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty frame")
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return img, nil
}

// Close releases the connection and waits for the background reader.
// Calling it more than once is a no-op.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.pending = nil

	if h.body == nil {
		return nil
	}
	err := h.body.Close()
	<-h.done
	return err
}

// Kind reports how frames are pulled from the source
func (h *Handle) Kind() Kind {
	return h.kind
}
