package audio

import (
	"fmt"
	"sync"
)

// ReadStatus tells a FrameStore reader how much of the request was served.
type ReadStatus int

const (
	ReadNone ReadStatus = iota
	ReadPartial
	ReadFull
)

func (s ReadStatus) String() string {
	switch s {
	case ReadNone:
		return "none"
	case ReadPartial:
		return "partial"
	case ReadFull:
		return "full"
	default:
		return fmt.Sprintf("ReadStatus(%d)", int(s))
	}
}

// FrameStore is a FIFO of decoded samples in a single fixed format. Write,
// Read and Flush are each atomic with respect to one another: a Read never
// observes half of a Write.
type FrameStore struct {
	format Format

	mu   sync.Mutex
	buf  []byte
	head int
	read int64 // samples consumed since creation
}

// NewFrameStore returns an empty store holding samples of the given format.
func NewFrameStore(format Format) *FrameStore {
	return &FrameStore{format: format}
}

// Format returns the store's sample format.
func (s *FrameStore) Format() Format { return s.format }

// Write appends the frame's samples. It never blocks on a reader.
func (s *FrameStore) Write(f Frame) error {
	if f.Format() != s.format {
		return fmt.Errorf("%w: have %+v, store holds %+v", ErrFormatMismatch, f.Format(), s.format)
	}
	if f.Len() == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, f.payload...)
	return nil
}

// Read removes up to n samples. It returns ReadNone with an empty frame when
// nothing is buffered, ReadPartial when fewer than n samples were available.
func (s *FrameStore) Read(n int) (Frame, ReadStatus) {
	if n <= 0 {
		return Frame{format: s.format}, ReadNone
	}
	want := n * s.format.BlockAlign()

	s.mu.Lock()
	defer s.mu.Unlock()

	avail := len(s.buf) - s.head
	if avail == 0 {
		return Frame{format: s.format, pts: s.read}, ReadNone
	}

	status := ReadFull
	if avail < want {
		want = avail
		status = ReadPartial
	}
	out := make([]byte, want)
	copy(out, s.buf[s.head:s.head+want])
	s.head += want

	frame := Frame{format: s.format, pts: s.read, payload: out}
	s.read += int64(want / s.format.BlockAlign())
	s.compact()
	return frame, status
}

// Flush discards everything buffered.
func (s *FrameStore) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
	s.head = 0
}

// Buffered returns the number of samples waiting to be read.
func (s *FrameStore) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (len(s.buf) - s.head) / s.format.BlockAlign()
}

// compact reclaims the consumed prefix once it dominates the slice.
// Callers hold s.mu.
func (s *FrameStore) compact() {
	if s.head == len(s.buf) {
		s.buf = s.buf[:0]
		s.head = 0
		return
	}
	if s.head > 4096 && s.head*2 > len(s.buf) {
		n := copy(s.buf, s.buf[s.head:])
		s.buf = s.buf[:n]
		s.head = 0
	}
}
