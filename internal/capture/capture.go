package capture

import (
	"context"
	"errors"
	"image"
)

var (
	// ErrStreamOpen means the source could not be reached or decoded at startup
	ErrStreamOpen = errors.New("could not open video stream")
	// ErrFrameRead means an open source stopped yielding frames
	ErrFrameRead = errors.New("failed to grab frame")
	// ErrStopped means the run was cancelled by the user
	ErrStopped = errors.New("stopped by user")
	// ErrOutput means the output directory could not be prepared
	ErrOutput = errors.New("could not prepare output")
)

// Source defines the interface for frame sources
type Source interface {
	// Read blocks until the next frame is available.
	// Any error ends the run; sources are never re-read after a failure.
	Read(ctx context.Context) (image.Image, error)

	// Close releases the source
	Close() error
}

// Opener acquires a Source for url
type Opener func(ctx context.Context, url string) (Source, error)
