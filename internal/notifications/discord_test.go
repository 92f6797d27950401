package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type webhookRecorder struct {
	mu   sync.Mutex
	msgs []discordMessage
}

func (w *webhookRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var msg discordMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		w.mu.Lock()
		w.msgs = append(w.msgs, msg)
		w.mu.Unlock()
		rw.WriteHeader(http.StatusNoContent)
	}
}

func TestDiscord_Disabled(t *testing.T) {
	d := NewDiscord("", nil)
	if d.Enabled() {
		t.Error("Enabled() = true for empty webhook URL")
	}
	// Should not panic or block
	d.NotifySessionErrored(context.Background(), "s-1", "room-1", errors.New("boom"))
	d.NotifyDrainTimeout(context.Background(), 3)
	d.Wait()
}

func TestDiscord_NotifySessionErrored(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	d := NewDiscord(srv.URL, nil)
	d.NotifySessionErrored(context.Background(), "s-1", "room-1", errors.New("realtime: transport failure"))
	d.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.msgs) != 1 || len(rec.msgs[0].Embeds) != 1 {
		t.Fatalf("messages = %+v, want one embed", rec.msgs)
	}
	e := rec.msgs[0].Embeds[0]
	if !strings.Contains(e.Description, "transport failure") {
		t.Errorf("description = %q", e.Description)
	}
	if len(e.Fields) != 2 || e.Fields[0].Value != "`s-1`" || e.Fields[1].Value != "`room-1`" {
		t.Errorf("fields = %+v", e.Fields)
	}
}

func TestDiscord_NotifyDrainTimeoutIsSynchronous(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	d := NewDiscord(srv.URL, nil)
	d.NotifyDrainTimeout(context.Background(), 2)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(rec.msgs))
	}
	if rec.msgs[0].Content != "@here" {
		t.Errorf("content = %q, want @here", rec.msgs[0].Content)
	}
}
