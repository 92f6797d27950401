package realtime

import "encoding/json"

// EventType is the discriminator of an inbound server event.
type EventType int

const (
	EventUnknown EventType = iota
	EventSessionCreated
	EventSessionUpdated
	EventResponseCreated
	EventResponseDone
	EventResponseAudioDelta
	EventResponseAudioDone
	EventResponseAudioTranscriptDelta
	EventRateLimitUpdated
	EventSpeechStarted
	EventSpeechStopped
	EventError
)

// ParseEventType maps a wire discriminator to its EventType. Anything not
// listed is EventUnknown.
func ParseEventType(s string) EventType {
	switch s {
	case "session.created":
		return EventSessionCreated
	case "session.updated":
		return EventSessionUpdated
	case "response.created":
		return EventResponseCreated
	case "response.done":
		return EventResponseDone
	case "response.audio.delta":
		return EventResponseAudioDelta
	case "response.audio.done":
		return EventResponseAudioDone
	case "response.audio_transcript.delta":
		return EventResponseAudioTranscriptDelta
	case "rate_limits.updated", "rate_limit.updated":
		return EventRateLimitUpdated
	case "input_audio_buffer.speech_started":
		return EventSpeechStarted
	case "input_audio_buffer.speech_stopped":
		return EventSpeechStopped
	case "error":
		return EventError
	default:
		return EventUnknown
	}
}

func (t EventType) String() string {
	switch t {
	case EventSessionCreated:
		return "session.created"
	case EventSessionUpdated:
		return "session.updated"
	case EventResponseCreated:
		return "response.created"
	case EventResponseDone:
		return "response.done"
	case EventResponseAudioDelta:
		return "response.audio.delta"
	case EventResponseAudioDone:
		return "response.audio.done"
	case EventResponseAudioTranscriptDelta:
		return "response.audio_transcript.delta"
	case EventRateLimitUpdated:
		return "rate_limits.updated"
	case EventSpeechStarted:
		return "input_audio_buffer.speech_started"
	case EventSpeechStopped:
		return "input_audio_buffer.speech_stopped"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// serverEvent is the union of the inbound fields the session reads.
type serverEvent struct {
	Type       string          `json:"type"`
	EventID    string          `json:"event_id"`
	Delta      string          `json:"delta,omitempty"`
	ItemID     string          `json:"item_id,omitempty"`
	AudioEndMs int             `json:"audio_end_ms,omitempty"`
	Error      *serverError    `json:"error,omitempty"`
	Response   *serverResponse `json:"response,omitempty"`
	RateLimits []rateLimit     `json:"rate_limits,omitempty"`
	Session    json.RawMessage `json:"session,omitempty"`
}

type serverError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	EventID string `json:"event_id"`
}

type serverResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type rateLimit struct {
	Name         string  `json:"name"`
	Limit        int     `json:"limit"`
	Remaining    int     `json:"remaining"`
	ResetSeconds float64 `json:"reset_seconds"`
}

// sessionUpdateEvent is the control message sent once per session.
type sessionUpdateEvent struct {
	EventID string        `json:"event_id"`
	Type    string        `json:"type"`
	Session SessionParams `json:"session"`
}

// audioAppendEvent carries one caller-supplied chunk of input audio.
type audioAppendEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Audio   string `json:"audio"`
}
