// Package stt turns fixed-size audio chunks into transcription results using
// a bounded pool of blocking streaming recognition calls.
package stt

import (
	"context"
	"errors"
	"fmt"

	"github.com/lukasbauer/confrelay/internal/audio"
)

var (
	// ErrTranscriptionCall wraps a failed recognition call. The dispatcher
	// logs it and keeps serving later submissions.
	ErrTranscriptionCall = errors.New("stt: transcription call failed")
	// ErrDispatcherClosed is returned by Submit after Close.
	ErrDispatcherClosed = errors.New("stt: dispatcher closed")
	// ErrConfig marks an unusable recognizer configuration.
	ErrConfig = errors.New("stt: invalid configuration")
)

// Alternative is a lower-ranked hypothesis for the same audio.
type Alternative struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result is one transcription hypothesis. Text and Confidence come from the
// top alternative; Alternatives holds the rest in ranked order.
type Result struct {
	Text         string        `json:"text"`
	IsFinal      bool          `json:"is_final"`
	Confidence   float64       `json:"confidence"`
	Alternatives []Alternative `json:"alternatives"`
}

// ResultFromAlternatives builds a Result from a ranked hypothesis list. It
// reports false when the list is empty.
func ResultFromAlternatives(alts []Alternative, final bool) (Result, bool) {
	if len(alts) == 0 {
		return Result{}, false
	}
	rest := make([]Alternative, len(alts)-1)
	copy(rest, alts[1:])
	return Result{
		Text:         alts[0].Text,
		IsFinal:      final,
		Confidence:   alts[0].Confidence,
		Alternatives: rest,
	}, true
}

// StreamConfig describes the audio carried by a request.
type StreamConfig struct {
	Encoding   string // "linear16"
	SampleRate int
	Channels   int
	Language   string
	Model      string
}

// DefaultStreamConfig is 16 kHz mono LINEAR16.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Encoding:   "linear16",
		SampleRate: 16000,
		Channels:   1,
		Language:   "en-US",
		Model:      "long",
	}
}

// Validate checks the config before it is used for any request.
func (c StreamConfig) Validate() error {
	if c.Encoding == "" || c.SampleRate <= 0 || c.Channels <= 0 {
		return fmt.Errorf("%w: encoding, sample rate and channels are required", ErrConfig)
	}
	if c.Language == "" {
		return fmt.Errorf("%w: language is required", ErrConfig)
	}
	return nil
}

// StreamMessage is one message of a streaming request: exactly one of Config
// or Audio is set.
type StreamMessage struct {
	Config *StreamConfig
	Audio  []byte
}

// BuildRequest returns the message sequence for one submission: the config
// preamble followed by one audio message per chunk, in chunk order. A chunk
// larger than audio.MaxChunkSize is rejected.
func BuildRequest(cfg StreamConfig, chunks []audio.Chunk) ([]StreamMessage, error) {
	msgs := make([]StreamMessage, 0, len(chunks)+1)
	c := cfg
	msgs = append(msgs, StreamMessage{Config: &c})
	for i, ch := range chunks {
		if len(ch) > audio.MaxChunkSize {
			return nil, fmt.Errorf("%w: chunk %d is %d bytes, limit %d", ErrConfig, i, len(ch), audio.MaxChunkSize)
		}
		msgs = append(msgs, StreamMessage{Audio: ch})
	}
	return msgs, nil
}

// Recognizer performs one blocking streaming recognition call. msgs[0] is
// the config preamble. emit is called once per result with at least one
// alternative, in the order the service produced them.
type Recognizer interface {
	Recognize(ctx context.Context, msgs []StreamMessage, emit func(Result)) error
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(ctx context.Context, msgs []StreamMessage, emit func(Result)) error

func (f RecognizerFunc) Recognize(ctx context.Context, msgs []StreamMessage, emit func(Result)) error {
	return f(ctx, msgs, emit)
}

func splitRequest(msgs []StreamMessage) (StreamConfig, [][]byte, error) {
	if len(msgs) == 0 || msgs[0].Config == nil {
		return StreamConfig{}, nil, fmt.Errorf("%w: request must start with a config message", ErrConfig)
	}
	cfg := *msgs[0].Config
	if err := cfg.Validate(); err != nil {
		return StreamConfig{}, nil, err
	}
	payloads := make([][]byte, 0, len(msgs)-1)
	for i, m := range msgs[1:] {
		if m.Config != nil {
			return StreamConfig{}, nil, fmt.Errorf("%w: message %d repeats the config", ErrConfig, i+1)
		}
		payloads = append(payloads, m.Audio)
	}
	return cfg, payloads, nil
}
