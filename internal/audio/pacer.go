package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// DefaultFrameDuration is the packetization interval of outbound audio.
const DefaultFrameDuration = 20 * time.Millisecond

// Observer receives one call per paced frame. BufferUnderrun is reported here
// and nowhere else.
type Observer interface {
	ObserveFrame(status ReadStatus)
}

// Pacer turns a FrameStore into a real-time stream of fixed-size frames.
// Deadlines are derived from the first Recv plus the number of samples
// emitted, never from the time the previous frame was delivered, so pacing
// does not drift. When the store runs dry the frame is padded with silence.
type Pacer struct {
	store         *FrameStore
	frameSamples  int
	frameDuration time.Duration
	logger        *log.Logger
	observer      Observer

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	started bool
	start   time.Time
	emitted int64

	stopped  chan struct{}
	stopOnce sync.Once
}

// PacerConfig configures a Pacer. Zero values take defaults.
type PacerConfig struct {
	Format        Format        // defaults to S16Mono(24000)
	FrameDuration time.Duration // defaults to DefaultFrameDuration
	Observer      Observer
}

// NewPacer creates a pacer that owns a fresh FrameStore.
func NewPacer(cfg PacerConfig, logger *log.Logger) (*Pacer, error) {
	if cfg.Format == (Format{}) {
		cfg.Format = S16Mono(24000)
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, err
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = DefaultFrameDuration
	}
	frameSamples := int(int64(cfg.Format.SampleRate) * int64(cfg.FrameDuration) / int64(time.Second))
	if frameSamples <= 0 {
		return nil, fmt.Errorf("audio: frame duration %v too short for %d Hz", cfg.FrameDuration, cfg.Format.SampleRate)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Pacer{
		store:         NewFrameStore(cfg.Format),
		frameSamples:  frameSamples,
		frameDuration: cfg.FrameDuration,
		logger:        logger,
		observer:      cfg.Observer,
		now:           time.Now,
		after:         time.After,
		stopped:       make(chan struct{}),
	}, nil
}

// Store exposes the pacer's buffer.
func (p *Pacer) Store() *FrameStore { return p.store }

// FrameSamples returns the number of samples in each emitted frame.
func (p *Pacer) FrameSamples() int { return p.frameSamples }

// Format returns the output format.
func (p *Pacer) Format() Format { return p.store.Format() }

// Live reports whether the pacer has not been stopped.
func (p *Pacer) Live() bool {
	select {
	case <-p.stopped:
		return false
	default:
		return true
	}
}

// Enqueue appends raw PCM in the pacer's format. Audio arriving after Stop
// is dropped. A malformed payload is logged and dropped; it never reaches
// the reader.
func (p *Pacer) Enqueue(pcm []byte) {
	if !p.Live() {
		return
	}
	f, err := NewFrame(p.store.Format(), 0, pcm)
	if err != nil {
		p.logger.Printf("pacer: dropping audio: %v", err)
		return
	}
	if err := p.store.Write(f); err != nil {
		p.logger.Printf("pacer: dropping audio: %v", err)
	}
}

// Flush discards buffered playback audio (barge-in).
func (p *Pacer) Flush() {
	p.store.Flush()
}

// Recv waits for the next frame deadline and returns exactly one frame of
// FrameSamples samples. Timestamps advance by FrameSamples on every call
// regardless of how much buffered audio was available.
func (p *Pacer) Recv(ctx context.Context) (Frame, error) {
	if !p.Live() {
		return Frame{}, ErrStreamClosed
	}

	p.mu.Lock()
	if !p.started {
		p.started = true
		p.start = p.now()
	}
	pts := p.emitted
	rate := int64(p.store.Format().SampleRate)
	offset := time.Duration(pts/rate)*time.Second + time.Duration(pts%rate)*time.Second/time.Duration(rate)
	deadline := p.start.Add(offset)
	p.mu.Unlock()

	if wait := deadline.Sub(p.now()); wait > 0 {
		select {
		case <-p.after(wait):
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-p.stopped:
			return Frame{}, ErrStreamClosed
		}
	}
	if !p.Live() {
		return Frame{}, ErrStreamClosed
	}

	format := p.store.Format()
	payload := make([]byte, p.frameSamples*format.BlockAlign())
	data, status := p.store.Read(p.frameSamples)
	copy(payload, data.payload)
	if p.observer != nil {
		p.observer.ObserveFrame(status)
	}

	p.mu.Lock()
	p.emitted += int64(p.frameSamples)
	p.mu.Unlock()

	return Frame{format: format, pts: pts, payload: payload}, nil
}

// Run delivers paced frames to sink until ctx is done, the pacer is stopped,
// or sink fails. Stop is reported as a clean exit.
func (p *Pacer) Run(ctx context.Context, sink func(Frame) error) error {
	for {
		f, err := p.Recv(ctx)
		if err != nil {
			if errors.Is(err, ErrStreamClosed) {
				return nil
			}
			return err
		}
		if err := sink(f); err != nil {
			return fmt.Errorf("pacer sink: %w", err)
		}
	}
}

// Stop ends the stream. Pending and future Recv calls return ErrStreamClosed.
func (p *Pacer) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopped)
		p.store.Flush()
	})
}
