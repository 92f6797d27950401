package stt

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lukasbauer/confrelay/internal/audio"
)

const (
	DefaultWorkers   = 5
	MaxWorkers       = 32
	DefaultQueueSize = 64
)

// Observer receives dispatcher measurements. All methods may be called from
// worker goroutines concurrently.
type Observer interface {
	ObserveChunks(n int)
	ObserveTranscription(elapsed time.Duration, err error)
	ObserveResult(final bool)
}

// DispatcherConfig configures a Dispatcher. Zero values take defaults.
type DispatcherConfig struct {
	Workers     int           // clamped to [1, MaxWorkers]
	QueueSize   int           // pending submissions before Submit blocks
	CallTimeout time.Duration // per-call budget; zero means none
	Stream      StreamConfig  // defaults to DefaultStreamConfig()
	Observer    Observer
	// OnError is called after a failed call has been logged.
	OnError func(err error)
}

type job struct {
	id    uint64
	msgs  []StreamMessage
	emit  func(Result)
	queue time.Time
}

// Dispatcher runs recognition calls on a fixed pool of workers. Submissions
// beyond the pool wait in a bounded queue. A failed call is logged and does
// not affect other submissions. Results of one submission are emitted in
// order; submissions running on different workers may interleave.
type Dispatcher struct {
	rec    Recognizer
	cfg    DispatcherConfig
	logger *log.Logger

	jobs chan job
	quit chan struct{}
	seq  atomic.Uint64

	mu         sync.Mutex
	closed     bool
	submitters sync.WaitGroup
	workers    sync.WaitGroup

	baseCtx    context.Context
	cancelBase context.CancelFunc
	closeOnce  sync.Once
}

// NewDispatcher starts the worker pool.
func NewDispatcher(rec Recognizer, cfg DispatcherConfig, logger *log.Logger) (*Dispatcher, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: recognizer is required", ErrConfig)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Workers > MaxWorkers {
		cfg.Workers = MaxWorkers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	} else if cfg.QueueSize == 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Stream == (StreamConfig{}) {
		cfg.Stream = DefaultStreamConfig()
	}
	if err := cfg.Stream.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		rec:        rec,
		cfg:        cfg,
		logger:     logger,
		jobs:       make(chan job, cfg.QueueSize),
		quit:       make(chan struct{}),
		baseCtx:    ctx,
		cancelBase: cancel,
	}
	d.workers.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.worker(i)
	}
	return d, nil
}

// Workers returns the pool size.
func (d *Dispatcher) Workers() int { return d.cfg.Workers }

// Submit builds one request from chunks and queues it. It blocks while the
// queue is full, until ctx is done or the dispatcher closes. emit receives
// every result of this submission from a worker goroutine.
func (d *Dispatcher) Submit(ctx context.Context, chunks []audio.Chunk, emit func(Result)) error {
	if len(chunks) == 0 {
		return nil
	}
	msgs, err := BuildRequest(d.cfg.Stream, chunks)
	if err != nil {
		return err
	}
	if emit == nil {
		emit = func(Result) {}
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.submitters.Add(1)
	d.mu.Unlock()
	defer d.submitters.Done()

	j := job{id: d.seq.Add(1), msgs: msgs, emit: emit, queue: time.Now()}
	select {
	case d.jobs <- j:
		if d.cfg.Observer != nil {
			d.cfg.Observer.ObserveChunks(len(chunks))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.quit:
		return ErrDispatcherClosed
	}
}

func (d *Dispatcher) worker(n int) {
	defer d.workers.Done()
	for j := range d.jobs {
		d.run(n, j)
	}
}

func (d *Dispatcher) run(worker int, j job) {
	ctx := d.baseCtx
	if d.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	results := 0
	err := d.call(ctx, j, func(r Result) {
		results++
		if d.cfg.Observer != nil {
			d.cfg.Observer.ObserveResult(r.IsFinal)
		}
		j.emit(r)
	})
	elapsed := time.Since(start)
	if d.cfg.Observer != nil {
		d.cfg.Observer.ObserveTranscription(elapsed, err)
	}

	if err != nil {
		err = fmt.Errorf("%w: submission %d: %w", ErrTranscriptionCall, j.id, err)
		d.logger.Printf("stt: worker %d: %v", worker, err)
		if d.cfg.OnError != nil {
			d.cfg.OnError(err)
		}
		return
	}
	d.logger.Printf("stt: worker %d: submission %d done in %v (%d audio messages, %d results, queued %v)",
		worker, j.id, elapsed.Round(time.Millisecond), len(j.msgs)-1, results, start.Sub(j.queue).Round(time.Millisecond))
}

// call runs the recognizer, turning a panic into an error so the worker
// survives.
func (d *Dispatcher) call(ctx context.Context, j job, emit func(Result)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recognizer panic: %v", r)
		}
	}()
	return d.rec.Recognize(ctx, j.msgs, emit)
}

// Close stops accepting submissions and waits for queued and running calls.
// If ctx ends first, running calls are cancelled and Close returns ctx.Err()
// once the workers exit.
func (d *Dispatcher) Close(ctx context.Context) error {
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.quit)
		d.submitters.Wait()
		close(d.jobs)

		done := make(chan struct{})
		go func() {
			d.workers.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
			d.cancelBase()
			<-done
		}
		d.cancelBase()
	})
	return err
}
