package audio

const (
	// PreferredChunkSize is the window handed to the recognizer: 768ms of
	// 16 kHz mono s16.
	PreferredChunkSize = 24576
	// MaxChunkSize is the largest audio message the recognizer accepts.
	MaxChunkSize = 25600
)

// Chunk is one fixed-size window of PCM bytes.
type Chunk []byte

// ChunkAccumulator regroups arbitrary writes into fixed-size chunks. After
// every Add the buffered remainder is shorter than the chunk size, and chunk
// boundaries depend only on the total number of bytes seen. Not safe for
// concurrent use.
type ChunkAccumulator struct {
	size int
	buf  []byte
}

// NewChunkAccumulator returns an accumulator emitting chunks of size bytes.
// A non-positive size selects PreferredChunkSize.
func NewChunkAccumulator(size int) *ChunkAccumulator {
	if size <= 0 {
		size = PreferredChunkSize
	}
	return &ChunkAccumulator{size: size}
}

// Size returns the chunk size.
func (a *ChunkAccumulator) Size() int { return a.size }

// Add buffers b and returns every complete chunk, oldest first.
func (a *ChunkAccumulator) Add(b []byte) []Chunk {
	a.buf = append(a.buf, b...)

	var chunks []Chunk
	off := 0
	for len(a.buf)-off >= a.size {
		c := make(Chunk, a.size)
		copy(c, a.buf[off:off+a.size])
		chunks = append(chunks, c)
		off += a.size
	}
	if off > 0 {
		n := copy(a.buf, a.buf[off:])
		a.buf = a.buf[:n]
	}
	return chunks
}

// Remaining returns a copy of the buffered bytes without consuming them, or
// nil if nothing is buffered.
func (a *ChunkAccumulator) Remaining() []byte {
	if len(a.buf) == 0 {
		return nil
	}
	out := make([]byte, len(a.buf))
	copy(out, a.buf)
	return out
}

// Reset discards the buffered remainder.
func (a *ChunkAccumulator) Reset() {
	a.buf = a.buf[:0]
}
