// Package eventlog records relay lifecycle events in Postgres. It never
// stores audio or transcript text.
package eventlog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType represents the type of relay event
type EventType string

const (
	EventSessionStarted      EventType = "session_started"
	EventStateChanged        EventType = "state_changed"
	EventBargeIn             EventType = "barge_in"
	EventServerError         EventType = "server_error"
	EventTranscriptionFailed EventType = "transcription_failed"
	EventSessionEnded        EventType = "session_ended"
)

// Schema creates the table Log writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS relay_events (
	id          BIGSERIAL PRIMARY KEY,
	session_id  TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	event_data  JSONB NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS relay_events_session_idx ON relay_events (session_id, created_at);
`

// execer is the subset of *pgxpool.Pool the logger needs.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Logger provides async event logging to the database
type Logger struct {
	db execer
	wg sync.WaitGroup
}

// New creates a new event logger. A nil pool yields a logger that drops
// every event.
func New(db *pgxpool.Pool) *Logger {
	if db == nil {
		return &Logger{}
	}
	return &Logger{db: db}
}

// Migrate creates the events table if needed.
func (l *Logger) Migrate(ctx context.Context) error {
	if l.db == nil {
		return nil
	}
	_, err := l.db.Exec(ctx, Schema)
	return err
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, sessionID string, eventType EventType, data map[string]any) error {
	if l.db == nil || sessionID == "" {
		return nil // Silently skip if no DB or session ID
	}

	dataJSON, err := json.Marshal(data)
	if err != nil || data == nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO relay_events (session_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, sessionID, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(sessionID string, eventType EventType, data map[string]any) {
	if l.db == nil || sessionID == "" {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, sessionID, eventType, data)
	}()
}

// Prune deletes events created before cutoff and returns how many were
// removed.
func (l *Logger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if l.db == nil {
		return 0, nil
	}
	tag, err := l.db.Exec(ctx, `DELETE FROM relay_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Wait blocks until every LogAsync write has finished.
func (l *Logger) Wait() {
	l.wg.Wait()
}
