// Package audio holds the PCM plumbing shared by the relay: frame values,
// resampling, the playback jitter buffer and its pacer, and the fixed-size
// chunker used by the transcription path.
package audio

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStreamClosed is returned by Pacer.Recv once the pacer has stopped.
	ErrStreamClosed = errors.New("audio: stream closed")
	// ErrFormatMismatch is returned when a frame does not match the store's format.
	ErrFormatMismatch = errors.New("audio: format mismatch")
	// ErrMisaligned is returned when a payload is not a whole number of samples.
	ErrMisaligned = errors.New("audio: payload not aligned to sample size")
)

// Format describes interleaved PCM samples.
type Format struct {
	BitDepth   int  // bits per sample, 8 or 16
	Signed     bool // signed integer samples
	Channels   int
	SampleRate int
}

// S16Mono returns the signed 16-bit mono format at the given rate.
func S16Mono(rate int) Format {
	return Format{BitDepth: 16, Signed: true, Channels: 1, SampleRate: rate}
}

// BytesPerSample returns the size of one sample of one channel.
func (f Format) BytesPerSample() int {
	return f.BitDepth / 8
}

// BlockAlign returns the size of one sample across all channels.
func (f Format) BlockAlign() int {
	return f.BytesPerSample() * f.Channels
}

// Validate reports whether the format is one the relay can process.
func (f Format) Validate() error {
	if f.BitDepth != 8 && f.BitDepth != 16 {
		return fmt.Errorf("audio: unsupported bit depth %d", f.BitDepth)
	}
	if f.Channels < 1 {
		return fmt.Errorf("audio: invalid channel count %d", f.Channels)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: invalid sample rate %d", f.SampleRate)
	}
	return nil
}

// Frame is an immutable block of interleaved PCM samples. PTS counts samples
// (per channel) since the start of the stream.
type Frame struct {
	format  Format
	pts     int64
	payload []byte
}

// NewFrame copies payload into a new Frame. The payload must hold a whole
// number of sample blocks.
func NewFrame(format Format, pts int64, payload []byte) (Frame, error) {
	if err := format.Validate(); err != nil {
		return Frame{}, err
	}
	if len(payload)%format.BlockAlign() != 0 {
		return Frame{}, fmt.Errorf("%w: %d bytes, block %d", ErrMisaligned, len(payload), format.BlockAlign())
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return Frame{format: format, pts: pts, payload: buf}, nil
}

// Format returns the frame's sample format.
func (f Frame) Format() Format { return f.format }

// PTS returns the presentation timestamp in samples.
func (f Frame) PTS() int64 { return f.pts }

// Payload returns a copy of the frame's bytes.
func (f Frame) Payload() []byte {
	out := make([]byte, len(f.payload))
	copy(out, f.payload)
	return out
}

// Len returns the payload length in bytes.
func (f Frame) Len() int { return len(f.payload) }

// Samples returns the number of samples per channel.
func (f Frame) Samples() int {
	if f.format.BlockAlign() == 0 {
		return 0
	}
	return len(f.payload) / f.format.BlockAlign()
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.format.SampleRate == 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.format.SampleRate)
}

// IsSilent reports whether every byte of the payload is zero.
func (f Frame) IsSilent() bool {
	for _, b := range f.payload {
		if b != 0 {
			return false
		}
	}
	return true
}
