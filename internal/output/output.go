package output

import (
	"image"
	"time"
)

// Output defines the interface for captured frame sinks.
// The capture loop only knows this interface, so file, object storage or
// test sinks can be swapped in.
type Output interface {
	// Prepare makes the sink ready for writes (e.g. creates the directory).
	// It must be idempotent.
	Prepare() error

	// WriteFrame persists a frame captured at the given time and returns
	// where it was stored. The write is complete when WriteFrame returns.
	WriteFrame(frame image.Image, at time.Time) (string, error)

	// Name returns a human-readable name for this output type
	Name() string
}

// Config holds common configuration for all output types
type Config struct {
	Dir     string
	Quality int
}
