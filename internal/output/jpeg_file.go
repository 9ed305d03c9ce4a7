package output

import (
	"bufio"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	"github.com/bryanchriswhite/StreamSnap/internal/logger"
)

const (
	// FilenameLayout names captured files after their capture second
	FilenameLayout = "20060102_150405"
	// DefaultQuality is used when Config.Quality is unset
	DefaultQuality = 95
)

// JPEGFileOutput writes frames as <dir>/<YYYYMMDD_HHMMSS>.jpg
type JPEGFileOutput struct {
	config Config
	frames uint64
}

// NewJPEGFileOutput creates a new JPEG file output
func NewJPEGFileOutput(config Config) *JPEGFileOutput {
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = DefaultQuality
	}
	return &JPEGFileOutput{config: config}
}

// Prepare creates the output directory and any missing parents
func (o *JPEGFileOutput) Prepare() error {
	if err := os.MkdirAll(o.config.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// FilenameFor returns the file name for a frame captured at t
func FilenameFor(t time.Time) string {
	return t.Format(FilenameLayout) + ".jpg"
}

// PathFor returns the full path for a frame captured at t
func (o *JPEGFileOutput) PathFor(t time.Time) string {
	return filepath.Join(o.config.Dir, FilenameFor(t))
}

// WriteFrame encodes the frame as JPEG. It is written to a temp file in the
// same directory and renamed into place, so the final path never holds a
// partial image. A frame from the same second replaces the earlier one.
func (o *JPEGFileOutput) WriteFrame(frame image.Image, at time.Time) (string, error) {
	path := o.PathFor(at)

	tmp, err := os.CreateTemp(o.config.Dir, ".capture-*.jpg.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	if err := jpeg.Encode(w, frame, &jpeg.Options{Quality: o.config.Quality}); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to encode JPEG: %w", err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write JPEG: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return "", fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("failed to move frame into place: %w", err)
	}

	o.frames++
	logger.WithComponent("output").Debug().
		Str("path", path).
		Uint64("frames", o.frames).
		Msg("Frame written")

	return path, nil
}

// Name returns the output type name
func (o *JPEGFileOutput) Name() string {
	return "JPEG files in " + o.config.Dir
}
