package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/lukasbauer/confrelay/internal/audio"
	"github.com/lukasbauer/confrelay/internal/realtime"
)

const (
	STTProviderDeepgram = "deepgram"
	STTProviderGoogle   = "google"
)

type Config struct {
	HTTPAddr    string
	LogLevel    string
	SentryDSN   string
	Environment string
	DatabaseURL string

	// Media gateway auth; empty disables the check
	MediaJWTSecret string

	// Realtime voice service
	OpenAIAPIKey        string
	RealtimeURL         string
	RealtimeModel       string
	RealtimeTemperature float64
	SessionConfigFile   string

	// Transcription
	STTProvider           string
	DeepgramAPIKey        string
	DeepgramModel         string
	GoogleProject         string
	GoogleCredentialsFile string
	STTLanguage           string
	STTModel              string
	STTWorkers            int
	STTQueueSize          int
	STTChunkSize          int

	// Resampling targets
	TranscriptionRate int
	RealtimeRate      int

	BotName      string
	DrainTimeout time.Duration

	// Operations
	DiscordWebhookURL string
	EventRetention    time.Duration // zero keeps events forever
}

// LoadDotEnv loads variables from .env files that exist. Variables already
// set in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func LoadConfigFromEnv() Config {
	drain, err := time.ParseDuration(getenv("DRAIN_TIMEOUT", "30s"))
	if err != nil || drain <= 0 {
		drain = 30 * time.Second
	}

	retention, err := time.ParseDuration(getenv("EVENT_RETENTION", "720h"))
	if err != nil || retention < 0 {
		retention = 720 * time.Hour
	}

	return Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		SentryDSN:   getenv("SENTRY_DSN", ""),
		Environment: getenv("ENVIRONMENT", "development"),
		DatabaseURL: getenv("DATABASE_URL", ""),

		MediaJWTSecret: os.Getenv("MEDIA_JWT_SECRET"),

		// Realtime voice service
		OpenAIAPIKey:        getenv("OPENAI_API_KEY", ""),
		RealtimeURL:         getenv("OPENAI_REALTIME_URL", realtime.DefaultURL),
		RealtimeModel:       getenv("OPENAI_REALTIME_MODEL", realtime.DefaultModel),
		RealtimeTemperature: getenvFloatClamped("REALTIME_TEMPERATURE", 0.8, 0.6, 1.2),
		SessionConfigFile:   getenv("SESSION_CONFIG_FILE", ""),

		// Transcription
		STTProvider:           strings.ToLower(getenv("STT_PROVIDER", STTProviderDeepgram)),
		DeepgramAPIKey:        getenv("DEEPGRAM_API_KEY", ""),
		DeepgramModel:         getenv("DEEPGRAM_MODEL", "nova-2"),
		GoogleProject:         getenv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCredentialsFile: getenv("GOOGLE_CREDENTIALS_FILE", "key.json"),
		STTLanguage:           getenv("STT_LANGUAGE", "en-US"),
		STTModel:              getenv("STT_MODEL", "long"),
		STTWorkers:            getenvIntClamped("STT_WORKERS", 5, 1, 32),
		STTQueueSize:          getenvIntClamped("STT_QUEUE_SIZE", 64, 1, 4096),
		STTChunkSize:          getenvIntClamped("STT_CHUNK_SIZE", audio.PreferredChunkSize, 320, audio.MaxChunkSize),

		TranscriptionRate: getenvIntClamped("TRANSCRIPTION_RATE", 16000, 8000, 48000),
		RealtimeRate:      getenvIntClamped("REALTIME_RATE", realtime.SampleRate, 8000, 48000),

		BotName:      getenv("BOT_NAME", "Ai Bot"),
		DrainTimeout: drain,

		DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),
		EventRetention:    retention,
	}
}

// Validate reports every missing or inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	switch c.STTProvider {
	case STTProviderDeepgram:
		if c.DeepgramAPIKey == "" {
			errs = append(errs, errors.New("DEEPGRAM_API_KEY is required for the deepgram provider"))
		}
	case STTProviderGoogle:
		if c.GoogleProject == "" {
			errs = append(errs, errors.New("GOOGLE_CLOUD_PROJECT is required for the google provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("STT_PROVIDER %q is not one of deepgram, google", c.STTProvider))
	}
	if c.STTChunkSize%2 != 0 {
		errs = append(errs, fmt.Errorf("STT_CHUNK_SIZE %d must hold whole 16-bit samples", c.STTChunkSize))
	}
	return errors.Join(errs...)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntClamped(k string, def, min, max int) int {
	v, err := strconv.Atoi(os.Getenv(k))
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func getenvFloatClamped(k string, def, min, max float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(k), 64)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
