package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const deepgramWSURL = "wss://api.deepgram.com/v1/listen"

// DeepgramConfig holds configuration for the Deepgram recognizer.
type DeepgramConfig struct {
	APIKey    string
	URL       string // defaults to the public listen endpoint
	Model     string // e.g. "nova-2"; overrides StreamConfig.Model
	Punctuate bool
	// ReadTimeout bounds the wait for results after the stream is closed.
	ReadTimeout time.Duration
}

// DeepgramRecognizer opens one Deepgram streaming connection per submission.
type DeepgramRecognizer struct {
	cfg    DeepgramConfig
	dialer *websocket.Dialer
	logger *log.Logger
}

// deepgramResponse represents a Deepgram WebSocket response.
type deepgramResponse struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool `json:"is_final"`
	SpeechFinal bool `json:"speech_final"`
}

// NewDeepgramRecognizer validates cfg and returns a recognizer.
func NewDeepgramRecognizer(cfg DeepgramConfig, logger *log.Logger) (*DeepgramRecognizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: deepgram api key is required", ErrConfig)
	}
	if cfg.URL == "" {
		cfg.URL = deepgramWSURL
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &DeepgramRecognizer{
		cfg:    cfg,
		dialer: &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 10 * time.Second},
		logger: logger,
	}, nil
}

func (d *DeepgramRecognizer) listenURL(sc StreamConfig) (string, error) {
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("%w: deepgram url: %v", ErrConfig, err)
	}
	model := d.cfg.Model
	if model == "" {
		model = sc.Model
	}
	q := u.Query()
	q.Set("model", model)
	q.Set("language", sc.Language)
	q.Set("encoding", sc.Encoding)
	q.Set("sample_rate", strconv.Itoa(sc.SampleRate))
	q.Set("channels", strconv.Itoa(sc.Channels))
	q.Set("punctuate", strconv.FormatBool(d.cfg.Punctuate))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Recognize streams the audio messages, closes the stream and emits results
// until Deepgram closes the connection.
func (d *DeepgramRecognizer) Recognize(ctx context.Context, msgs []StreamMessage, emit func(Result)) error {
	sc, payloads, err := splitRequest(msgs)
	if err != nil {
		return err
	}
	endpoint, err := d.listenURL(sc)
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.cfg.APIKey)
	conn, _, err := d.dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		return fmt.Errorf("failed to connect to Deepgram: %w", err)
	}
	defer conn.Close()

	// Closing the connection unblocks ReadMessage when ctx ends first.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	for _, p := range payloads {
		if err := conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
			return fmt.Errorf("deepgram: write audio: %w", ctxErr(ctx, err))
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: close stream: %w", ctxErr(ctx, err))
	}

	_ = conn.SetReadDeadline(time.Now().Add(d.cfg.ReadTimeout))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("deepgram: read: %w", ctxErr(ctx, err))
		}

		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			d.logger.Printf("deepgram: failed to parse response: %v", err)
			continue
		}
		// Skip non-results messages
		if resp.Type != "Results" {
			continue
		}

		alts := make([]Alternative, 0, len(resp.Channel.Alternatives))
		for _, a := range resp.Channel.Alternatives {
			alts = append(alts, Alternative{Text: a.Transcript, Confidence: a.Confidence})
		}
		if r, ok := ResultFromAlternatives(alts, resp.IsFinal); ok {
			emit(r)
		}
	}
}

func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return errors.Join(cerr, err)
	}
	return err
}
