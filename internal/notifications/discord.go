package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

// Discord is a simple Discord webhook notifier.
type Discord struct {
	webhookURL string
	logger     *log.Logger
	client     *http.Client
	wg         sync.WaitGroup
}

// NewDiscord creates a new Discord notifier. If webhookURL is empty,
// notifications are silently skipped.
func NewDiscord(webhookURL string, logger *log.Logger) *Discord {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Discord{
		webhookURL: webhookURL,
		logger:     logger,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled returns true if the webhook is configured.
func (d *Discord) Enabled() bool {
	return d.webhookURL != ""
}

// discordMessage is the payload for Discord webhook.
type discordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// send posts a message to Discord webhook asynchronously.
// Errors are logged but don't affect caller.
func (d *Discord) send(ctx context.Context, msg discordMessage) {
	if !d.Enabled() {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sendSync(context.WithoutCancel(ctx), msg)
	}()
}

// sendSync posts a message and waits for the response.
func (d *Discord) sendSync(ctx context.Context, msg discordMessage) {
	if !d.Enabled() {
		return
	}
	body, err := json.Marshal(msg)
	if err != nil {
		d.logger.Printf("discord: failed to marshal message: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, "POST", d.webhookURL, bytes.NewReader(body))
	if err != nil {
		d.logger.Printf("discord: failed to create request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Printf("discord: failed to send webhook: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		d.logger.Printf("discord: webhook returned status %d", resp.StatusCode)
	}
}

// Wait blocks until queued notifications have been sent.
func (d *Discord) Wait() {
	d.wg.Wait()
}

// NotifySessionErrored reports a relay session that ended in the errored
// state.
func (d *Discord) NotifySessionErrored(ctx context.Context, sessionID, roomID string, cause error) {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	msg := discordMessage{
		Embeds: []discordEmbed{{
			Title:       "Relay session failed",
			Description: reason,
			Color:       0xFF0000, // Red
			Fields: []embedField{
				{Name: "Session", Value: fmt.Sprintf("`%s`", sessionID), Inline: true},
				{Name: "Room", Value: fmt.Sprintf("`%s`", roomID), Inline: true},
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}},
	}
	d.send(ctx, msg)
}

// NotifyDrainTimeout reports a shutdown that cut active sessions short.
func (d *Discord) NotifyDrainTimeout(ctx context.Context, active int64) {
	msg := discordMessage{
		Content: "@here", // Ping everyone
		Embeds: []discordEmbed{{
			Title:       "Shutdown drain timed out",
			Description: fmt.Sprintf("%d relay sessions were still active", active),
			Color:       0xFFA500, // Orange
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}},
	}
	d.sendSync(ctx, msg)
}
