package realtime

import "testing"

func TestParseEventType(t *testing.T) {
	tests := []struct {
		in   string
		want EventType
	}{
		{"session.created", EventSessionCreated},
		{"session.updated", EventSessionUpdated},
		{"response.created", EventResponseCreated},
		{"response.done", EventResponseDone},
		{"response.audio.delta", EventResponseAudioDelta},
		{"response.audio.done", EventResponseAudioDone},
		{"response.audio_transcript.delta", EventResponseAudioTranscriptDelta},
		{"rate_limits.updated", EventRateLimitUpdated},
		{"rate_limit.updated", EventRateLimitUpdated},
		{"input_audio_buffer.speech_started", EventSpeechStarted},
		{"input_audio_buffer.speech_stopped", EventSpeechStopped},
		{"error", EventError},
		{"conversation.item.created", EventUnknown},
		{"", EventUnknown},
	}
	for _, tt := range tests {
		if got := ParseEventType(tt.in); got != tt.want {
			t.Errorf("ParseEventType(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestEventTypeStringRoundTrip(t *testing.T) {
	for et := EventSessionCreated; et <= EventError; et++ {
		if got := ParseEventType(et.String()); got != et {
			t.Errorf("ParseEventType(%q) = %s, want %s", et.String(), got, et)
		}
	}
}

func TestStateString(t *testing.T) {
	if StateActive.String() != "active" || StateErrored.String() != "errored" {
		t.Errorf("unexpected state names: %s %s", StateActive, StateErrored)
	}
	if !StateClosed.Terminal() || !StateErrored.Terminal() || StateClosing.Terminal() {
		t.Error("Terminal() misclassifies states")
	}
}
