package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lukasbauer/confrelay/internal/realtime"
)

// sessionFile is the YAML overlay for realtime session parameters. Absent
// keys keep their base value.
type sessionFile struct {
	Modalities              []string                          `yaml:"modalities"`
	Instructions            *string                           `yaml:"instructions"`
	Voice                   *string                           `yaml:"voice"`
	ToolChoice              *string                           `yaml:"tool_choice"`
	Temperature             *float64                          `yaml:"temperature"`
	MaxResponseOutputTokens *int                              `yaml:"max_response_output_tokens"`
	TurnDetection           *turnDetectionFile                `yaml:"turn_detection"`
	InputAudioTranscription *realtime.InputAudioTranscription `yaml:"input_audio_transcription"`
}

type turnDetectionFile struct {
	Type              *string  `yaml:"type"`
	Threshold         *float64 `yaml:"threshold"`
	PrefixPaddingMs   *int     `yaml:"prefix_padding_ms"`
	SilenceDurationMs *int     `yaml:"silence_duration_ms"`
}

func (f *turnDetectionFile) apply(base *realtime.TurnDetection) *realtime.TurnDetection {
	var td realtime.TurnDetection
	if base != nil {
		td = *base
	}
	if f.Type != nil {
		td.Type = *f.Type
	}
	if f.Threshold != nil {
		td.Threshold = *f.Threshold
	}
	if f.PrefixPaddingMs != nil {
		td.PrefixPaddingMs = *f.PrefixPaddingMs
	}
	if f.SilenceDurationMs != nil {
		td.SilenceDurationMs = *f.SilenceDurationMs
	}
	return &td
}

// LoadSessionParams applies the YAML file at path on top of base. Unknown
// keys are an error.
func LoadSessionParams(path string, base realtime.SessionParams) (realtime.SessionParams, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read session config: %w", err)
	}
	return parseSessionParams(b, base)
}

func parseSessionParams(b []byte, base realtime.SessionParams) (realtime.SessionParams, error) {
	var f sessionFile
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return base, fmt.Errorf("parse session config: %w", err)
	}

	p := base
	if len(f.Modalities) > 0 {
		p.Modalities = f.Modalities
	}
	if f.Instructions != nil {
		p.Instructions = *f.Instructions
	}
	if f.Voice != nil {
		p.Voice = *f.Voice
	}
	if f.ToolChoice != nil {
		p.ToolChoice = *f.ToolChoice
	}
	if f.Temperature != nil {
		p.Temperature = *f.Temperature
	}
	if f.MaxResponseOutputTokens != nil {
		p.MaxResponseOutputTokens = *f.MaxResponseOutputTokens
	}
	if f.TurnDetection != nil {
		p.TurnDetection = f.TurnDetection.apply(base.TurnDetection)
	}
	if f.InputAudioTranscription != nil {
		iat := *f.InputAudioTranscription
		p.InputAudioTranscription = &iat
	}
	return p, nil
}
