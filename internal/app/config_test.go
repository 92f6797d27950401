package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lukasbauer/confrelay/internal/audio"
	"github.com/lukasbauer/confrelay/internal/realtime"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		defValue string
		want     string
	}{
		{
			name:     "env set",
			envKey:   "TEST_ENV_VAR",
			envValue: "custom_value",
			defValue: "default",
			want:     "custom_value",
		},
		{
			name:     "env not set",
			envKey:   "TEST_ENV_VAR_NOTSET",
			envValue: "",
			defValue: "default",
			want:     "default",
		},
		{
			name:     "empty default",
			envKey:   "TEST_ENV_VAR_EMPTY",
			envValue: "",
			defValue: "",
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenv(tt.envKey, tt.defValue)
			if got != tt.want {
				t.Errorf("getenv(%q, %q) = %q, want %q", tt.envKey, tt.defValue, got, tt.want)
			}
		})
	}
}

func TestGetenvIntClamped(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		def      int
		min      int
		max      int
		want     int
	}{
		{
			name:     "value within range",
			envKey:   "TEST_INT_NORMAL",
			envValue: "500",
			def:      100,
			min:      0,
			max:      1000,
			want:     500,
		},
		{
			name:     "value below min - clamp to min",
			envKey:   "TEST_INT_LOW",
			envValue: "-100",
			def:      100,
			min:      0,
			max:      1000,
			want:     0,
		},
		{
			name:     "value above max - clamp to max",
			envKey:   "TEST_INT_HIGH",
			envValue: "2000",
			def:      100,
			min:      0,
			max:      1000,
			want:     1000,
		},
		{
			name:     "env not set - use default",
			envKey:   "TEST_INT_NOTSET",
			envValue: "",
			def:      100,
			min:      0,
			max:      1000,
			want:     100,
		},
		{
			name:     "invalid value - use default",
			envKey:   "TEST_INT_INVALID",
			envValue: "not_a_number",
			def:      100,
			min:      0,
			max:      1000,
			want:     100,
		},
		{
			name:     "boundary: exactly min",
			envKey:   "TEST_INT_MIN",
			envValue: "200",
			def:      500,
			min:      200,
			max:      800,
			want:     200,
		},
		{
			name:     "boundary: exactly max",
			envKey:   "TEST_INT_MAX",
			envValue: "800",
			def:      500,
			min:      200,
			max:      800,
			want:     800,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenvIntClamped(tt.envKey, tt.def, tt.min, tt.max)
			if got != tt.want {
				t.Errorf("getenvIntClamped(%q, %d, %d, %d) = %d, want %d",
					tt.envKey, tt.def, tt.min, tt.max, got, tt.want)
			}
		})
	}
}

func TestGetenvFloatClamped(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		def      float64
		min      float64
		max      float64
		want     float64
	}{
		{
			name:     "value within range",
			envKey:   "TEST_FLOAT_NORMAL",
			envValue: "0.5",
			def:      0.3,
			min:      0.0,
			max:      1.0,
			want:     0.5,
		},
		{
			name:     "value below min - clamp to min",
			envKey:   "TEST_FLOAT_LOW",
			envValue: "-0.5",
			def:      0.3,
			min:      0.0,
			max:      1.0,
			want:     0.0,
		},
		{
			name:     "value above max - clamp to max",
			envKey:   "TEST_FLOAT_HIGH",
			envValue: "1.5",
			def:      0.3,
			min:      0.0,
			max:      1.0,
			want:     1.0,
		},
		{
			name:     "env not set - use default",
			envKey:   "TEST_FLOAT_NOTSET",
			envValue: "",
			def:      0.75,
			min:      0.0,
			max:      1.0,
			want:     0.75,
		},
		{
			name:     "invalid value - use default",
			envKey:   "TEST_FLOAT_INVALID",
			envValue: "not_a_float",
			def:      0.5,
			min:      0.0,
			max:      1.0,
			want:     0.5,
		},
		{
			name:     "boundary: exactly min",
			envKey:   "TEST_FLOAT_MIN",
			envValue: "0.0",
			def:      0.5,
			min:      0.0,
			max:      1.0,
			want:     0.0,
		},
		{
			name:     "boundary: exactly max",
			envKey:   "TEST_FLOAT_MAX",
			envValue: "1.0",
			def:      0.5,
			min:      0.0,
			max:      1.0,
			want:     1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenvFloatClamped(tt.envKey, tt.def, tt.min, tt.max)
			if got != tt.want {
				t.Errorf("getenvFloatClamped(%q, %f, %f, %f) = %f, want %f",
					tt.envKey, tt.def, tt.min, tt.max, got, tt.want)
			}
		})
	}
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	// Clear any existing env vars that might interfere
	keysToClean := []string{
		"HTTP_ADDR", "DATABASE_URL", "LOG_LEVEL", "STT_PROVIDER", "STT_WORKERS",
		"STT_CHUNK_SIZE", "REALTIME_TEMPERATURE", "OPENAI_REALTIME_MODEL",
		"TRANSCRIPTION_RATE", "REALTIME_RATE", "BOT_NAME", "DRAIN_TIMEOUT",
	}
	for _, key := range keysToClean {
		t.Setenv(key, "")
	}

	cfg := LoadConfigFromEnv()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}

	// Realtime defaults
	if cfg.RealtimeModel != realtime.DefaultModel {
		t.Errorf("RealtimeModel = %q, want %q", cfg.RealtimeModel, realtime.DefaultModel)
	}
	if cfg.RealtimeTemperature != 0.8 {
		t.Errorf("RealtimeTemperature = %f, want %f", cfg.RealtimeTemperature, 0.8)
	}
	if cfg.RealtimeRate != realtime.SampleRate {
		t.Errorf("RealtimeRate = %d, want %d", cfg.RealtimeRate, realtime.SampleRate)
	}

	// Transcription defaults
	if cfg.STTProvider != STTProviderDeepgram {
		t.Errorf("STTProvider = %q, want %q", cfg.STTProvider, STTProviderDeepgram)
	}
	if cfg.STTWorkers != 5 {
		t.Errorf("STTWorkers = %d, want %d", cfg.STTWorkers, 5)
	}
	if cfg.STTChunkSize != audio.PreferredChunkSize {
		t.Errorf("STTChunkSize = %d, want %d", cfg.STTChunkSize, audio.PreferredChunkSize)
	}
	if cfg.TranscriptionRate != 16000 {
		t.Errorf("TranscriptionRate = %d, want %d", cfg.TranscriptionRate, 16000)
	}

	if cfg.BotName != "Ai Bot" {
		t.Errorf("BotName = %q, want %q", cfg.BotName, "Ai Bot")
	}
	if cfg.DrainTimeout != 30*time.Second {
		t.Errorf("DrainTimeout = %v, want %v", cfg.DrainTimeout, 30*time.Second)
	}
}

func TestLoadConfigFromEnvCustomValues(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STT_PROVIDER", "Google")
	t.Setenv("STT_WORKERS", "100")
	t.Setenv("STT_CHUNK_SIZE", "4096")
	t.Setenv("REALTIME_TEMPERATURE", "2.0")
	t.Setenv("BOT_NAME", "Scribe")
	t.Setenv("DRAIN_TIMEOUT", "45s")

	cfg := LoadConfigFromEnv()

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.STTProvider != STTProviderGoogle {
		t.Errorf("STTProvider = %q, want %q", cfg.STTProvider, STTProviderGoogle)
	}
	if cfg.STTWorkers != 32 {
		t.Errorf("STTWorkers = %d, want clamped %d", cfg.STTWorkers, 32)
	}
	if cfg.STTChunkSize != 4096 {
		t.Errorf("STTChunkSize = %d, want %d", cfg.STTChunkSize, 4096)
	}
	if cfg.RealtimeTemperature != 1.2 {
		t.Errorf("RealtimeTemperature = %f, want clamped %f", cfg.RealtimeTemperature, 1.2)
	}
	if cfg.BotName != "Scribe" {
		t.Errorf("BotName = %q, want %q", cfg.BotName, "Scribe")
	}
	if cfg.DrainTimeout != 45*time.Second {
		t.Errorf("DrainTimeout = %v, want %v", cfg.DrainTimeout, 45*time.Second)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{
		OpenAIAPIKey:   "sk-test",
		STTProvider:    STTProviderDeepgram,
		DeepgramAPIKey: "dg-test",
		STTChunkSize:   audio.PreferredChunkSize,
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr []string
	}{
		{"valid deepgram", func(c *Config) {}, nil},
		{"valid google", func(c *Config) {
			c.STTProvider = STTProviderGoogle
			c.DeepgramAPIKey = ""
			c.GoogleProject = "proj"
		}, nil},
		{"missing openai key", func(c *Config) { c.OpenAIAPIKey = "" }, []string{"OPENAI_API_KEY"}},
		{"missing deepgram key", func(c *Config) { c.DeepgramAPIKey = "" }, []string{"DEEPGRAM_API_KEY"}},
		{"missing google project", func(c *Config) { c.STTProvider = STTProviderGoogle }, []string{"GOOGLE_CLOUD_PROJECT"}},
		{"unknown provider", func(c *Config) { c.STTProvider = "whisper" }, []string{"STT_PROVIDER"}},
		{"odd chunk size", func(c *Config) { c.STTChunkSize = 1001 }, []string{"STT_CHUNK_SIZE"}},
		{"reports every problem", func(c *Config) {
			c.OpenAIAPIKey = ""
			c.DeepgramAPIKey = ""
		}, []string{"OPENAI_API_KEY", "DEEPGRAM_API_KEY"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("Validate() = %q, want mention of %s", err, want)
				}
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("CONFRELAY_TEST_A=from-file\nCONFRELAY_TEST_B=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFRELAY_TEST_B", "from-env")
	t.Setenv("CONFRELAY_TEST_A", "")
	os.Unsetenv("CONFRELAY_TEST_A")

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("CONFRELAY_TEST_A"); got != "from-file" {
		t.Errorf("CONFRELAY_TEST_A = %q, want from-file", got)
	}
	if got := os.Getenv("CONFRELAY_TEST_B"); got != "from-env" {
		t.Errorf("CONFRELAY_TEST_B = %q, want environment value to win", got)
	}

	if err := LoadDotEnv(filepath.Join(dir, "none.env")); err != nil {
		t.Errorf("LoadDotEnv with no files = %v, want nil", err)
	}
}

func TestLoadConfigFromEnvRetention(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 720 * time.Hour},
		{"48h", 48 * time.Hour},
		{"0", 0},
		{"-1h", 720 * time.Hour},
		{"soon", 720 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("EVENT_RETENTION", tt.value)
			if got := LoadConfigFromEnv().EventRetention; got != tt.want {
				t.Errorf("EventRetention = %v, want %v", got, tt.want)
			}
		})
	}
}
