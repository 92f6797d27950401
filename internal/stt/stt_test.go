package stt

import (
	"errors"
	"io"
	"log"
	"testing"

	"github.com/lukasbauer/confrelay/internal/audio"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestBuildRequest_ConfigFirstThenChunksInOrder(t *testing.T) {
	cfg := DefaultStreamConfig()
	chunks := []audio.Chunk{chunkOf(1, 16), chunkOf(2, 16), chunkOf(3, 10)}

	msgs, err := BuildRequest(cfg, chunks)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if len(msgs) != len(chunks)+1 {
		t.Fatalf("len(msgs) = %d, want %d", len(msgs), len(chunks)+1)
	}
	if msgs[0].Config == nil || msgs[0].Audio != nil {
		t.Fatal("first message must carry only the config")
	}
	if *msgs[0].Config != cfg {
		t.Errorf("config = %+v, want %+v", *msgs[0].Config, cfg)
	}
	for i, c := range chunks {
		m := msgs[i+1]
		if m.Config != nil {
			t.Errorf("message %d carries a config", i+1)
		}
		if len(m.Audio) != len(c) || m.Audio[0] != c[0] {
			t.Errorf("message %d audio does not match chunk %d", i+1, i)
		}
	}
}

func TestBuildRequest_RejectsOversizedChunk(t *testing.T) {
	_, err := BuildRequest(DefaultStreamConfig(), []audio.Chunk{make(audio.Chunk, audio.MaxChunkSize+1)})
	if !errors.Is(err, ErrConfig) {
		t.Errorf("err = %v, want ErrConfig", err)
	}
	if _, err := BuildRequest(DefaultStreamConfig(), []audio.Chunk{make(audio.Chunk, audio.MaxChunkSize)}); err != nil {
		t.Errorf("chunk at the limit rejected: %v", err)
	}
}

func TestResultFromAlternatives(t *testing.T) {
	tests := []struct {
		name     string
		alts     []Alternative
		final    bool
		wantOK   bool
		wantText string
		wantAlts int
	}{
		{"empty", nil, true, false, "", 0},
		{"single", []Alternative{{"hello", 0.9}}, false, true, "hello", 0},
		{"ranked", []Alternative{{"hello world", 0.92}, {"hollow world", 0.4}, {"hello word", 0.3}}, true, true, "hello world", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := ResultFromAlternatives(tt.alts, tt.final)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if r.Text != tt.wantText || r.IsFinal != tt.final || r.Confidence != tt.alts[0].Confidence {
				t.Errorf("result = %+v", r)
			}
			if len(r.Alternatives) != tt.wantAlts {
				t.Errorf("alternatives = %v, want %d", r.Alternatives, tt.wantAlts)
			}
			if tt.wantAlts > 0 && r.Alternatives[0] != tt.alts[1] {
				t.Errorf("alternatives[0] = %+v, want %+v", r.Alternatives[0], tt.alts[1])
			}
		})
	}
}

func TestSplitRequest(t *testing.T) {
	cfg := DefaultStreamConfig()
	tests := []struct {
		name    string
		msgs    []StreamMessage
		wantErr bool
	}{
		{"empty", nil, true},
		{"audio first", []StreamMessage{{Audio: []byte{1}}}, true},
		{"repeated config", []StreamMessage{{Config: &cfg}, {Config: &cfg}}, true},
		{"invalid config", []StreamMessage{{Config: &StreamConfig{}}}, true},
		{"config only", []StreamMessage{{Config: &cfg}}, false},
		{"config and audio", []StreamMessage{{Config: &cfg}, {Audio: []byte{1, 2}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := splitRequest(tt.msgs)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrConfig) {
				t.Errorf("err = %v, want ErrConfig", err)
			}
		})
	}
}
