package audio

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"
)

// fakeClock advances only when the pacer waits on it.
type fakeClock struct {
	mu    sync.Mutex
	t     time.Time
	waits []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	ch <- c.t
	return ch
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[ReadStatus]int
}

func (o *countingObserver) ObserveFrame(s ReadStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = map[ReadStatus]int{}
	}
	o.counts[s]++
}

func newTestPacer(t *testing.T, obs Observer) (*Pacer, *fakeClock) {
	t.Helper()
	p, err := NewPacer(PacerConfig{Observer: obs}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewPacer: %v", err)
	}
	clk := &fakeClock{t: time.Unix(1000, 0)}
	p.now = clk.Now
	p.after = clk.After
	return p, clk
}

func TestNewPacer_Defaults(t *testing.T) {
	p, err := NewPacer(PacerConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.FrameSamples() != 480 {
		t.Errorf("FrameSamples() = %d, want 480", p.FrameSamples())
	}
	if p.Format() != S16Mono(24000) {
		t.Errorf("Format() = %+v, want s16 mono 24k", p.Format())
	}
}

func TestPacer_CadenceIgnoresDataAvailability(t *testing.T) {
	obs := &countingObserver{}
	p, clk := newTestPacer(t, obs)
	fs := p.FrameSamples()

	// One and a half frames of non-zero audio.
	data := make([]byte, fs*3)
	for i := range data {
		data[i] = 1
	}
	p.Enqueue(data)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f, err := p.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv %d: %v", i, err)
		}
		if f.PTS() != int64(i*fs) {
			t.Errorf("frame %d PTS = %d, want %d", i, f.PTS(), i*fs)
		}
		if f.Samples() != fs {
			t.Errorf("frame %d samples = %d, want %d", i, f.Samples(), fs)
		}
	}

	if len(clk.waits) != 4 {
		t.Fatalf("waited %d times, want 4", len(clk.waits))
	}
	for i, w := range clk.waits {
		if w != 20*time.Millisecond {
			t.Errorf("wait %d = %v, want 20ms", i, w)
		}
	}

	if obs.counts[ReadFull] != 1 || obs.counts[ReadPartial] != 1 || obs.counts[ReadNone] != 3 {
		t.Errorf("observed %v, want 1 full, 1 partial, 3 none", obs.counts)
	}
}

func TestPacer_PartialFramePaddedWithSilence(t *testing.T) {
	p, _ := newTestPacer(t, nil)
	fs := p.FrameSamples()

	p.Enqueue(pcmOf(7, 7))
	f, err := p.Recv(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	b := f.Payload()
	if len(b) != fs*2 {
		t.Fatalf("len = %d, want %d", len(b), fs*2)
	}
	if string(b[:4]) != string(pcmOf(7, 7)) {
		t.Errorf("head = %v, want buffered samples", b[:4])
	}
	for i := 4; i < len(b); i++ {
		if b[i] != 0 {
			t.Fatalf("byte %d = %d, want silence", i, b[i])
		}
	}
}

func TestPacer_UnderrunReturnsSilentFrame(t *testing.T) {
	p, _ := newTestPacer(t, nil)

	f, err := p.Recv(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if f.Samples() != p.FrameSamples() || !f.IsSilent() {
		t.Errorf("got %d samples silent=%v, want full silent frame", f.Samples(), f.IsSilent())
	}
}

func TestPacer_UnderrunWithRealClockMeetsDeadline(t *testing.T) {
	p, err := NewPacer(PacerConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := p.Recv(ctx); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	f, err := p.Recv(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("underrun Recv took %v, want about one tick", elapsed)
	}
	if !f.IsSilent() || f.PTS() != int64(p.FrameSamples()) {
		t.Errorf("frame pts=%d silent=%v", f.PTS(), f.IsSilent())
	}
}

func TestPacer_FlushDropsBufferedAudio(t *testing.T) {
	p, _ := newTestPacer(t, nil)
	p.Enqueue(pcmOf(5, 5, 5))
	p.Flush()

	f, _ := p.Recv(context.Background())
	if !f.IsSilent() {
		t.Error("frame after Flush should be silent")
	}
}

func TestPacer_EnqueueDropsMalformedAndStopped(t *testing.T) {
	p, _ := newTestPacer(t, nil)

	p.Enqueue([]byte{1, 2, 3})
	if p.Store().Buffered() != 0 {
		t.Errorf("Buffered() = %d after odd-length enqueue, want 0", p.Store().Buffered())
	}

	p.Stop()
	p.Enqueue(pcmOf(1, 2))
	if p.Store().Buffered() != 0 {
		t.Errorf("Buffered() = %d after Stop, want 0", p.Store().Buffered())
	}
}

func TestPacer_RecvAfterStop(t *testing.T) {
	p, _ := newTestPacer(t, nil)
	p.Stop()
	p.Stop()

	if _, err := p.Recv(context.Background()); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Recv() err = %v, want ErrStreamClosed", err)
	}
	if p.Live() {
		t.Error("Live() = true after Stop")
	}
}

func TestPacer_StopInterruptsWait(t *testing.T) {
	p, err := NewPacer(PacerConfig{Format: S16Mono(8000), FrameDuration: time.Second}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := p.Recv(ctx); err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Stop()
	}()

	start := time.Now()
	_, err = p.Recv(ctx)
	if !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Recv() err = %v, want ErrStreamClosed", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Stop took %v to interrupt Recv", elapsed)
	}
}

func TestPacer_ContextCancelDoesNotAdvance(t *testing.T) {
	p, err := NewPacer(PacerConfig{Format: S16Mono(8000), FrameDuration: time.Second}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Recv(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Recv(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Recv() err = %v, want context.Canceled", err)
	}

	clk := &fakeClock{t: time.Now()}
	p.now = clk.Now
	p.after = clk.After
	f, err := p.Recv(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if f.PTS() != int64(p.FrameSamples()) {
		t.Errorf("PTS after cancelled Recv = %d, want %d", f.PTS(), p.FrameSamples())
	}
}

func TestPacer_RunStopsCleanly(t *testing.T) {
	p, _ := newTestPacer(t, nil)

	var got []int64
	err := p.Run(context.Background(), func(f Frame) error {
		got = append(got, f.PTS())
		if len(got) == 3 {
			p.Stop()
		}
		return nil
	})
	if err != nil {
		t.Errorf("Run() err = %v, want nil", err)
	}
	if len(got) != 3 {
		t.Errorf("delivered %d frames, want 3", len(got))
	}
}

func TestPacer_RunPropagatesSinkError(t *testing.T) {
	p, _ := newTestPacer(t, nil)
	sinkErr := errors.New("transport gone")

	err := p.Run(context.Background(), func(Frame) error { return sinkErr })
	if !errors.Is(err, sinkErr) {
		t.Errorf("Run() err = %v, want %v", err, sinkErr)
	}
}
