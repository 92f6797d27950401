// Package costs estimates the provider cost of a relay session.
package costs

import (
	"os"
	"strconv"
)

// Pricing constants (in cents per unit for precision).
// They can be overridden via environment variables.
var (
	// RealtimeInputCentsPerMinute is the cost per minute of audio sent to the
	// realtime voice service.
	// Default: $0.06/min = 6 cents/min
	RealtimeInputCentsPerMinute = getEnvFloat("COST_REALTIME_INPUT_CENTS_PER_MIN", 6.0)

	// RealtimeOutputCentsPerMinute is the cost per minute of audio generated
	// by the realtime voice service.
	// Default: $0.24/min = 24 cents/min
	RealtimeOutputCentsPerMinute = getEnvFloat("COST_REALTIME_OUTPUT_CENTS_PER_MIN", 24.0)

	// TranscriptionCentsPerMinute is the cost per minute of audio sent to the
	// speech-to-text provider.
	// Default: $0.0077/min = 0.77 cents/min
	TranscriptionCentsPerMinute = getEnvFloat("COST_STT_CENTS_PER_MIN", 0.77)
)

// SessionUsage contains the raw audio volumes of one relay session.
type SessionUsage struct {
	RealtimeInputSeconds  float64 // room audio sent to the realtime service
	RealtimeOutputSeconds float64 // bot audio received from it
	TranscriptionSeconds  float64 // room audio submitted for transcription
}

// SessionCosts contains the calculated costs for a session in cents.
type SessionCosts struct {
	RealtimeInputCents  int
	RealtimeOutputCents int
	TranscriptionCents  int
	TotalCents          int
}

// CalculateSessionCosts computes the costs for a session from its usage.
func CalculateSessionCosts(u SessionUsage) SessionCosts {
	c := SessionCosts{
		RealtimeInputCents:  roundToInt(u.RealtimeInputSeconds / 60.0 * RealtimeInputCentsPerMinute),
		RealtimeOutputCents: roundToInt(u.RealtimeOutputSeconds / 60.0 * RealtimeOutputCentsPerMinute),
		TranscriptionCents:  roundToInt(u.TranscriptionSeconds / 60.0 * TranscriptionCentsPerMinute),
	}
	c.TotalCents = c.RealtimeInputCents + c.RealtimeOutputCents + c.TranscriptionCents
	return c
}

// PCMSeconds returns the duration of n bytes of 16-bit mono audio at rate.
func PCMSeconds(n int64, rate int) float64 {
	if rate <= 0 {
		return 0
	}
	return float64(n) / float64(2*rate)
}

// roundToInt rounds a float to the nearest integer.
func roundToInt(f float64) int {
	if f < 0 {
		return int(f - 0.5)
	}
	return int(f + 0.5)
}

// getEnvFloat returns an environment variable as float64, or the default if not set.
func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
