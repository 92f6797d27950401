package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lukasbauer/confrelay/internal/eventlog"
	"github.com/lukasbauer/confrelay/internal/httpapi"
	"github.com/lukasbauer/confrelay/internal/jobs"
	"github.com/lukasbauer/confrelay/internal/metrics"
	"github.com/lukasbauer/confrelay/internal/notifications"
	"github.com/lukasbauer/confrelay/internal/realtime"
	"github.com/lukasbauer/confrelay/internal/stt"
)

type App struct {
	cfg        Config
	logger     *log.Logger
	db         *pgxpool.Pool
	eventLog   *eventlog.Logger
	metrics    *metrics.Metrics
	dispatcher *stt.Dispatcher
	google     *stt.GoogleRecognizer
	params     realtime.SessionParams
	sessions   *httpapi.SessionRegistry
	alerts     *notifications.Discord
	retention  *jobs.RetentionJob
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	params := realtime.DefaultSessionParams()
	params.Temperature = cfg.RealtimeTemperature
	if cfg.SessionConfigFile != "" {
		p, err := LoadSessionParams(cfg.SessionConfigFile, params)
		if err != nil {
			return nil, err
		}
		params = p
		logger.Printf("session parameters loaded from %s", cfg.SessionConfigFile)
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics.New(),
		params:   params,
		sessions: httpapi.NewSessionRegistry(),
		alerts:   notifications.NewDiscord(cfg.DiscordWebhookURL, logger),
	}

	// The event log is optional; without a database it discards events.
	if cfg.DatabaseURL != "" {
		db, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, err
		}
		a.db = db
	}
	a.eventLog = eventlog.New(a.db)
	if err := a.eventLog.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate event log: %w", err)
	}
	if a.db != nil && cfg.EventRetention > 0 {
		a.retention = jobs.NewRetentionJob(a.eventLog, cfg.EventRetention, time.Hour, logger)
		a.retention.Start()
	}

	rec, err := a.recognizer(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	d, err := stt.NewDispatcher(rec, stt.DispatcherConfig{
		Workers:     cfg.STTWorkers,
		QueueSize:   cfg.STTQueueSize,
		CallTimeout: 30 * time.Second,
		Stream: stt.StreamConfig{
			Encoding:   "linear16",
			SampleRate: cfg.TranscriptionRate,
			Channels:   1,
			Language:   cfg.STTLanguage,
			Model:      cfg.STTModel,
		},
		Observer: a.metrics,
		OnError:  a.onTranscriptionError,
	}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.dispatcher = d
	logger.Printf("transcription: %s provider, %d workers", cfg.STTProvider, d.Workers())

	return a, nil
}

func (a *App) recognizer(ctx context.Context) (stt.Recognizer, error) {
	switch a.cfg.STTProvider {
	case STTProviderGoogle:
		g, err := stt.NewGoogleRecognizer(ctx, stt.GoogleConfig{
			ProjectID:       a.cfg.GoogleProject,
			CredentialsFile: a.cfg.GoogleCredentialsFile,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.google = g
		return g, nil
	default:
		dg, err := stt.NewDeepgramRecognizer(stt.DeepgramConfig{
			APIKey:    a.cfg.DeepgramAPIKey,
			Model:     a.cfg.DeepgramModel,
			Punctuate: true,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		return dg, nil
	}
}

// transcriptionLogID groups dispatcher failures, which are not tied to a
// single relay session.
const transcriptionLogID = "transcription"

func (a *App) onTranscriptionError(err error) {
	a.eventLog.LogAsync(transcriptionLogID, eventlog.EventTranscriptionFailed, map[string]any{"error": err.Error()})
	sentry.CaptureException(err)
}

// Sessions returns the registry used for draining on shutdown.
func (a *App) Sessions() *httpapi.SessionRegistry { return a.sessions }

// Alerts returns the operator notifier. It is never nil.
func (a *App) Alerts() *notifications.Discord { return a.alerts }

func (a *App) Router() http.Handler {
	routerCfg := httpapi.RouterConfig{
		MediaJWTSecret: a.cfg.MediaJWTSecret,
		Realtime: realtime.Config{
			URL:    a.cfg.RealtimeURL,
			Model:  a.cfg.RealtimeModel,
			APIKey: a.cfg.OpenAIAPIKey,
			Params: a.params,
		},
		TranscriptionRate: a.cfg.TranscriptionRate,
		RealtimeRate:      a.cfg.RealtimeRate,
		STTChunkSize:      a.cfg.STTChunkSize,
		BotName:           a.cfg.BotName,
		Alerts:            a.alerts,
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.eventLog, a.metrics, a.dispatcher, a.sessions)
}

// Close drains pending transcriptions and releases external resources.
func (a *App) Close() error {
	if a.retention != nil {
		a.retention.Stop()
	}
	if a.dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.dispatcher.Close(ctx); err != nil {
			a.logger.Printf("transcription drain: %v", err)
		}
		cancel()
	}
	if a.google != nil {
		_ = a.google.Close()
	}
	if a.eventLog != nil {
		a.eventLog.Wait()
	}
	a.alerts.Wait()
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
