// Package record runs a single capture session against an input stream.
package record

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/skquievreux/Speechering/internal/audio"
	"github.com/skquievreux/Speechering/internal/config"
)

var (
	// ErrStarted is returned by a second Start.
	ErrStarted = errors.New("capture already started")
	// ErrFinalized is returned by a second Finalize.
	ErrFinalized = errors.New("capture already finalized")
)

// StopReason tells why the capture loop ended.
type StopReason int

const (
	StopNone StopReason = iota
	StopRequested
	StopMaxDuration
	StopReadError
)

func (r StopReason) String() string {
	switch r {
	case StopRequested:
		return "requested"
	case StopMaxDuration:
		return "max-duration"
	case StopReadError:
		return "read-error"
	}
	return "none"
}

// Result is returned once capture is finalized.
type Result struct {
	Buffer     *audio.Buffer
	Warning    error
	StopReason StopReason
}

// Options are the capture parameters snapshotted at session start.
type Options struct {
	Device          audio.DeviceSelector
	SampleRate      int
	Channels        int
	FramesPerBuffer int
	MaxDuration     time.Duration
}

// OptionsFrom reads capture options from the config.
func OptionsFrom(cfg config.Config) Options {
	return Options{
		Device:          audio.DeviceSelector{Name: cfg.InputDeviceName, Index: cfg.InputDeviceIndex},
		SampleRate:      cfg.SAMPLING_RATE,
		Channels:        cfg.Channels,
		FramesPerBuffer: cfg.FramesPerBuffer,
		MaxDuration:     cfg.MaxDuration(),
	}
}

// Controller owns one opened stream for the lifetime of one recording.
type Controller struct {
	stream audio.Stream
	opts   Options
	log    zerolog.Logger
	buf    *audio.Buffer

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu        sync.Mutex
	started   bool
	finalized bool
	reason    StopReason
	warn      error
}

// Open opens the input device described by opts.
func Open(src audio.Source, opts Options, log zerolog.Logger) (*Controller, error) {
	if opts.Channels <= 0 {
		opts.Channels = 1
	}
	if opts.FramesPerBuffer <= 0 {
		opts.FramesPerBuffer = 1024
	}
	st, err := src.Open(opts.Device, opts.SampleRate, opts.Channels, opts.FramesPerBuffer)
	if err != nil {
		return nil, err
	}
	return &Controller{
		stream: st,
		opts:   opts,
		log:    log,
		buf:    audio.NewBuffer(opts.SampleRate, opts.Channels),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start starts the stream and the capture goroutine.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrStarted
	}
	if c.finalized {
		return ErrFinalized
	}
	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}
	c.started = true
	c.log.Debug().Int("rate", c.opts.SampleRate).Dur("max", c.opts.MaxDuration).Msg("capture started")
	go c.loop()
	return nil
}

// RequestStop asks the loop to exit after the current read. Safe to call repeatedly.
func (c *Controller) RequestStop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Done is closed when the capture loop has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) loop() {
	defer close(c.done)

	maxFrames := int(c.opts.MaxDuration.Seconds() * float64(c.opts.SampleRate))
	chunk := make([]int16, c.opts.FramesPerBuffer*c.opts.Channels)
	frames := 0
	for {
		select {
		case <-c.stop:
			c.end(StopRequested, nil)
			return
		default:
		}

		err := c.stream.Read(chunk)
		if err != nil && !errors.Is(err, audio.ErrInputOverflow) {
			c.log.Warn().Err(err).Int("frames", frames).Msg("stream read failed; keeping partial audio")
			c.end(StopReadError, fmt.Errorf("capture interrupted: %w", err))
			return
		}
		if err != nil {
			c.log.Debug().Msg("input overflow")
		}

		n := c.opts.FramesPerBuffer
		if maxFrames > 0 && frames+n >= maxFrames {
			c.buf.Append(chunk[:(maxFrames-frames)*c.opts.Channels])
			c.log.Info().Dur("max", c.opts.MaxDuration).Msg("maximum recording duration reached")
			c.end(StopMaxDuration, nil)
			return
		}
		c.buf.Append(chunk)
		frames += n
	}
}

func (c *Controller) end(reason StopReason, warn error) {
	c.mu.Lock()
	c.reason = reason
	c.warn = warn
	c.mu.Unlock()
}

// Finalize waits for the loop to exit, releases the device and returns the audio.
func (c *Controller) Finalize() (Result, error) {
	c.mu.Lock()
	if c.finalized {
		c.mu.Unlock()
		return Result{}, ErrFinalized
	}
	c.finalized = true
	started := c.started
	c.mu.Unlock()

	c.RequestStop()
	if started {
		<-c.done
		if err := c.stream.Stop(); err != nil {
			c.log.Debug().Err(err).Msg("stream stop")
		}
	}
	if err := c.stream.Close(); err != nil {
		c.log.Debug().Err(err).Msg("stream close")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Debug().Dur("captured", c.buf.Duration()).Stringer("reason", c.reason).Msg("capture finalized")
	return Result{Buffer: c.buf, Warning: c.warn, StopReason: c.reason}, nil
}
