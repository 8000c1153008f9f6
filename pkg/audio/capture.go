package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Capture pipeline errors. Microphone failures are reported by the widget
// shell, which owns the hardware; they carry distinct user-facing text.
var (
	ErrAlreadyStarted   = errors.New("audio: capture already started")
	ErrPermissionDenied = errors.New("audio: microphone permission denied")
	ErrNoDevice         = errors.New("audio: no microphone device available")
)

// CaptureErrorText returns the user-facing status string for a capture
// failure. Generic errors get a generic message.
func CaptureErrorText(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Microphone access was blocked. Allow it in your browser to talk."
	case errors.Is(err, ErrNoDevice):
		return "No microphone was found. Plug one in and try again."
	default:
		return "Voice input is unavailable right now."
	}
}

// SendFunc transmits one base64-encoded wire frame over the session socket.
type SendFunc func(b64 string) error

// Source supplies raw PCM16 frames: a local microphone loop, or a channel
// feed in tests. The channel closes when the source is exhausted.
type Source interface {
	Frames() <-chan []byte
}

// ChanSource is a channel-backed Source.
type ChanSource chan []byte

// Frames returns the underlying channel.
func (s ChanSource) Frames() <-chan []byte { return s }

// GateFunc reports whether outbound audio transmission is currently
// permitted. Evaluated per frame: the socket must be open, the session must
// not be processing a turn, and canSendAudio must hold.
type GateFunc func() bool

// Capture re-frames microphone audio into the wire format and forwards it
// upstream while permitted. The widget shell pushes raw PCM16 frames at its
// native rate; Capture resamples to 24kHz and emits fixed-size frames.
//
// Frames arriving while the gate is closed are dropped, not buffered: stale
// microphone audio must never be replayed into a later turn.
type Capture struct {
	srcRate int
	send    SendFunc
	gate    GateFunc
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	pending []int16
}

// NewCapture creates a capture pipeline for widget audio at srcRate Hz.
func NewCapture(srcRate int, send SendFunc, gate GateFunc, logger *slog.Logger) *Capture {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capture{
		srcRate: srcRate,
		send:    send,
		gate:    gate,
		logger:  logger.With("component", "audio.capture"),
	}
}

// Start activates the pipeline. Fails with ErrAlreadyStarted if active.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyStarted
	}
	c.running = true
	c.pending = c.pending[:0]
	c.logger.Debug("capture started", "src_rate", c.srcRate)
	return nil
}

// Stop deactivates the pipeline and discards buffered samples. Idempotent.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	c.pending = nil
	c.logger.Debug("capture stopped")
}

// IsRunning reports whether the pipeline is active.
func (c *Capture) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Pump feeds frames from a Source into the pipeline until the source drains
// or the context is canceled. Per-frame send failures are logged and skipped;
// a closed source returns nil.
func (c *Capture) Pump(ctx context.Context, src Source) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-src.Frames():
			if !ok {
				return nil
			}
			if err := c.Push(frame); err != nil {
				c.logger.Warn("frame dropped", "error", err)
			}
		}
	}
}

// Push accepts one raw PCM16 frame from the widget, resamples it to the wire
// rate, and forwards complete fixed-size frames upstream. Frames pushed while
// stopped or gated off are dropped. Send failures are returned to the caller
// but leave the pipeline running.
func (c *Capture) Push(pcm []byte) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	if c.gate != nil && !c.gate() {
		// Gate closed: drop and also drop any partial frame so a later
		// open gate starts from fresh speech.
		c.pending = c.pending[:0]
		c.mu.Unlock()
		return nil
	}

	samples := Resample(BytesToSamples(pcm), c.srcRate, WireSampleRate)
	c.pending = append(c.pending, samples...)

	var frames []string
	for len(c.pending) >= FrameSamples {
		frame := SamplesToBytes(c.pending[:FrameSamples])
		c.pending = c.pending[FrameSamples:]
		frames = append(frames, EncodeFrame(frame))
	}
	c.mu.Unlock()

	for _, f := range frames {
		if err := c.send(f); err != nil {
			c.logger.Warn("frame send failed", "error", err)
			return err
		}
	}
	return nil
}
