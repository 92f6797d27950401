package stt

import (
	"context"
	"sync"

	"github.com/lukasbauer/confrelay/internal/audio"
)

// Transcriber is the per-stream front of a shared Dispatcher: it regroups
// audio into chunks and submits them in arrival order.
type Transcriber struct {
	d    *Dispatcher
	emit func(Result)

	mu  sync.Mutex
	acc *audio.ChunkAccumulator
}

// NewTranscriber returns a Transcriber using chunks of chunkSize bytes
// (PreferredChunkSize when non-positive). emit receives results of every
// submission made for this stream.
func NewTranscriber(d *Dispatcher, chunkSize int, emit func(Result)) *Transcriber {
	return &Transcriber{d: d, emit: emit, acc: audio.NewChunkAccumulator(chunkSize)}
}

// SendAudio buffers pcm and submits any completed chunks as one request.
func (t *Transcriber) SendAudio(ctx context.Context, pcm []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	chunks := t.acc.Add(pcm)
	if len(chunks) == 0 {
		return nil
	}
	return t.d.Submit(ctx, chunks, t.emit)
}

// Flush submits the buffered remainder, if any, as a final short request.
func (t *Transcriber) Flush(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rem := t.acc.Remaining()
	t.acc.Reset()
	if len(rem) == 0 {
		return nil
	}
	return t.d.Submit(ctx, []audio.Chunk{rem}, t.emit)
}

// Buffered returns the number of bytes waiting for a full chunk.
func (t *Transcriber) Buffered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.acc.Remaining())
}
