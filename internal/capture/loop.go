package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/bryanchriswhite/StreamSnap/internal/logger"
	"github.com/bryanchriswhite/StreamSnap/internal/output"
	"github.com/rs/zerolog"
)

// DefaultInterval is the capture period used when Config.Interval is unset
const DefaultInterval = 60 * time.Second

// Config describes a single capture run
type Config struct {
	StreamURL string
	Interval  time.Duration
}

// Result summarizes a finished run
type Result struct {
	State    State
	Saved    int
	LastPath string
	// Err is the cause of the terminal state
	Err error
}

// Loop reads frames from one source and saves one every interval.
// It is strictly sequential: the only wait is between saves.
type Loop struct {
	cfg      Config
	open     Opener
	out      output.Output
	now      func() time.Time
	log      *zerolog.Logger
	notifier Notifier
}

// Option configures a Loop
type Option func(*Loop)

// WithClock replaces time.Now for naming files
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithLogger replaces the component logger
func WithLogger(log *zerolog.Logger) Option {
	return func(l *Loop) { l.log = log }
}

// WithNotifier publishes lifecycle events to n
func WithNotifier(n Notifier) Option {
	return func(l *Loop) { l.notifier = n }
}

// New creates a capture loop
func New(cfg Config, open Opener, out output.Output, opts ...Option) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	l := &Loop{
		cfg:  cfg,
		open: open,
		out:  out,
		now:  time.Now,
		log:  logger.WithComponent("capture"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run opens the stream and captures until the stream fails or ctx is
// cancelled. The source is closed exactly once on every path after a
// successful open.
//
// A non-nil error is returned only when the run could not start (stream
// open or output preparation failed). Read failures and cancellation are
// normal endings, reported through Result.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	res := Result{State: StateInit}

	l.log.Debug().Str("url", l.cfg.StreamURL).Msg("Opening stream")
	res.State = StateOpeningStream

	src, err := l.open(ctx, l.cfg.StreamURL)
	if err != nil {
		l.log.Error().Err(err).Str("url", l.cfg.StreamURL).Msg("Error: Could not open video stream.")
		res.Err = fmt.Errorf("%w: %w", ErrStreamOpen, err)
		return l.finish(res, StateFailedOpen), res.Err
	}
	defer l.release(src)

	if err := l.out.Prepare(); err != nil {
		l.log.Error().Err(err).Msg("Error: Could not prepare output.")
		res.Err = fmt.Errorf("%w: %w", ErrOutput, err)
		return l.finish(res, StateFailedOutput), res.Err
	}

	l.log.Info().
		Str("url", l.cfg.StreamURL).
		Str("output", l.out.Name()).
		Msgf("Capturing images every %s... Press Ctrl+C to stop.", l.cfg.Interval)
	res.State = StateRunning
	l.notify(Event{Type: EventStarted, State: StateRunning})

	for {
		if ctx.Err() != nil {
			return l.stoppedByUser(res), nil
		}

		frame, err := src.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return l.stoppedByUser(res), nil
			}
			l.log.Error().Err(err).Int("saved", res.Saved).Msg("Failed to grab frame.")
			res.Err = fmt.Errorf("%w: %w", ErrFrameRead, err)
			return l.finish(res, StateReadFailure), nil
		}

		at := l.now()
		path, err := l.out.WriteFrame(frame, at)
		if err != nil {
			l.log.Error().Err(err).Msg("Failed to save frame.")
			l.notify(Event{Type: EventFailed, State: StateRunning, Time: at, Saved: res.Saved, Error: err.Error()})
		} else {
			res.Saved++
			res.LastPath = path
			l.log.Info().Str("path", path).Msgf("Saved: %s", path)
			l.notify(Event{Type: EventSaved, State: StateRunning, Time: at, Path: path, Saved: res.Saved})
		}

		if !sleepCtx(ctx, l.cfg.Interval) {
			return l.stoppedByUser(res), nil
		}
	}
}

func (l *Loop) stoppedByUser(res Result) Result {
	l.log.Info().Int("saved", res.Saved).Msg("Stopped by user.")
	res.Err = ErrStopped
	return l.finish(res, StateStoppedByUser)
}

func (l *Loop) finish(res Result, state State) Result {
	res.State = state
	evt := Event{Type: EventStopped, State: state, Path: res.LastPath, Saved: res.Saved}
	if res.Err != nil {
		evt.Error = res.Err.Error()
	}
	l.notify(evt)
	return res
}

func (l *Loop) release(src Source) {
	if err := src.Close(); err != nil {
		l.log.Warn().Err(err).Msg("Failed to release stream")
		return
	}
	l.log.Debug().Msg("Stream released")
}

func (l *Loop) notify(evt Event) {
	if l.notifier == nil {
		return
	}
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}
	l.notifier.Notify(evt)
}

// sleepCtx waits for d and reports false if ctx ended first
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
