package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Playback timing constants.
const (
	// silencePollInterval is how often WaitUntilSilent re-checks.
	silencePollInterval = 50 * time.Millisecond

	// silenceQuietPolls is how many consecutive empty-and-idle polls are
	// required before silence is declared. Guards against declaring
	// silence inside a brief inter-chunk gap.
	silenceQuietPolls = 3

	// silenceSafetyTimeout bounds WaitUntilSilent so a stuck queue can
	// never hang the session.
	silenceSafetyTimeout = 30 * time.Second
)

// Sink renders ordered audio chunks. The widget bridge implements this by
// streaming chunks to the browser; tests use an in-memory sink.
type Sink interface {
	// Play delivers one PCM16 chunk for rendering. Must not block for the
	// chunk's duration; pacing is the playback pipeline's job.
	Play(chunk []byte) error

	// Flush discards anything the renderer has buffered but not played.
	Flush() error
}

// Playback queues decoded speech chunks and plays them strictly in order.
// One drain goroutine pops chunks, hands them to the sink, and holds them
// "rendering" for their real-time duration so IsPlaying tracks audibility.
type Playback struct {
	sink   Sink
	logger *slog.Logger

	mu        sync.Mutex
	queue     [][]byte
	rendering bool
	closed    bool
	abort     chan struct{} // closed to cut short the current chunk
	wake      chan struct{} // signaled on enqueue

	wg sync.WaitGroup
}

// NewPlayback creates a playback pipeline over the given sink and starts its
// drain loop.
func NewPlayback(sink Sink, logger *slog.Logger) *Playback {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Playback{
		sink:   sink,
		logger: logger.With("component", "audio.playback"),
		abort:  make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
	p.wg.Add(1)
	go p.drain()
	return p
}

// Enqueue appends a decoded chunk to the output queue.
func (p *Playback) Enqueue(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, chunk)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// IsPlaying reports whether anything is audible or queued.
func (p *Playback) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rendering || len(p.queue) > 0
}

// QueueLen returns the number of chunks awaiting playback.
func (p *Playback) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Interrupt halts the currently-rendering chunk and empties the queue.
// Safe to call when nothing is playing.
func (p *Playback) Interrupt() {
	p.mu.Lock()
	wasActive := p.rendering || len(p.queue) > 0
	p.queue = nil
	close(p.abort)
	p.abort = make(chan struct{})
	p.mu.Unlock()

	if err := p.sink.Flush(); err != nil {
		p.logger.Warn("sink flush failed", "error", err)
	}
	if wasActive {
		p.logger.Debug("playback interrupted")
	}
}

// WaitUntilSilent blocks until the queue is empty and nothing has been
// rendering for several consecutive polls, the context is canceled, or the
// safety timeout elapses. Returns the context error on cancellation; the
// timeout path returns nil so a stuck queue degrades to a delay, not a hang.
func (p *Playback) WaitUntilSilent(ctx context.Context) error {
	deadline := time.NewTimer(silenceSafetyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(silencePollInterval)
	defer tick.Stop()

	quiet := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			p.logger.Warn("silence wait hit safety timeout")
			return nil
		case <-tick.C:
			if p.IsPlaying() {
				quiet = 0
				continue
			}
			quiet++
			if quiet >= silenceQuietPolls {
				return nil
			}
		}
	}
}

// Close stops the drain loop. The pipeline cannot be reused after Close.
func (p *Playback) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.queue = nil
	close(p.abort)
	p.abort = make(chan struct{})
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	p.wg.Wait()
}

func (p *Playback) drain() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			<-p.wake
			continue
		}
		chunk := p.queue[0]
		p.queue = p.queue[1:]
		p.rendering = true
		abort := p.abort
		p.mu.Unlock()

		if err := p.sink.Play(chunk); err != nil {
			p.logger.Warn("chunk play failed", "error", err)
		} else {
			// Hold the chunk "rendering" for its wall-clock duration
			// so audibility tracking matches the widget.
			dur := chunkDuration(len(chunk))
			select {
			case <-time.After(dur):
			case <-abort:
			}
		}

		p.mu.Lock()
		p.rendering = false
		p.mu.Unlock()
	}
}

// chunkDuration returns the real-time length of a PCM16 chunk at the wire
// sample rate.
func chunkDuration(byteLen int) time.Duration {
	samples := byteLen / 2
	return time.Duration(samples) * time.Second / WireSampleRate
}
