package httpapi

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lukasbauer/confrelay/internal/eventlog"
	"github.com/lukasbauer/confrelay/internal/metrics"
	"github.com/lukasbauer/confrelay/internal/notifications"
	"github.com/lukasbauer/confrelay/internal/realtime"
	"github.com/lukasbauer/confrelay/internal/stt"
)

type RouterConfig struct {
	// Media gateway auth; empty disables the check
	MediaJWTSecret string

	// Realtime voice service, one session per relay
	Realtime       realtime.Config
	RealtimeDialer realtime.Dialer // nil uses the default websocket dialer

	// Resampling targets for room audio
	TranscriptionRate int // Hz, feeds the transcriber
	RealtimeRate      int // Hz, feeds the realtime session

	// Transcription
	STTChunkSize int

	// Name attached to transcript messages sent back to the room
	BotName string

	// Failure alerts; nil disables them
	Alerts *notifications.Discord
}

type Router struct {
	cfg        RouterConfig
	logger     *log.Logger
	eventLog   *eventlog.Logger
	metrics    *metrics.Metrics
	dispatcher *stt.Dispatcher
	sessions   *SessionRegistry
	mux        *http.ServeMux
}

// NewRouter builds the HTTP surface. dispatcher may be nil, which disables
// transcription.
func NewRouter(cfg RouterConfig, logger *log.Logger, eventLog *eventlog.Logger, m *metrics.Metrics, dispatcher *stt.Dispatcher, sessions *SessionRegistry) http.Handler {
	if cfg.TranscriptionRate <= 0 {
		cfg.TranscriptionRate = 16000
	}
	if cfg.RealtimeRate <= 0 {
		cfg.RealtimeRate = realtime.SampleRate
	}
	if cfg.BotName == "" {
		cfg.BotName = "Ai Bot"
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if eventLog == nil {
		eventLog = eventlog.New(nil)
	}
	if m == nil {
		m = metrics.New()
	}
	if sessions == nil {
		sessions = NewSessionRegistry()
	}

	r := &Router{
		cfg:        cfg,
		logger:     logger,
		eventLog:   eventLog,
		metrics:    m,
		dispatcher: dispatcher,
		sessions:   sessions,
		mux:        http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(r.mux)
}

func (r *Router) routes() {
	// Health check
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)

	// Prometheus metrics
	r.mux.Handle("GET /metrics", promhttp.HandlerFor(r.metrics.Registry(), promhttp.HandlerOpts{}))

	// Media gateway (token verified when a secret is configured)
	r.mux.HandleFunc("GET /media", r.withMediaAuth(r.handleMediaWS))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if r.sessions.IsDraining() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "draining",
			"sessions": r.sessions.ActiveCount(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": r.sessions.ActiveCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string, extras map[string]any) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		for k, v := range extras {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}
