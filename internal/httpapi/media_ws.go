package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/lukasbauer/confrelay/internal/audio"
	"github.com/lukasbauer/confrelay/internal/costs"
	"github.com/lukasbauer/confrelay/internal/eventlog"
	"github.com/lukasbauer/confrelay/internal/metrics"
	"github.com/lukasbauer/confrelay/internal/realtime"
	"github.com/lukasbauer/confrelay/internal/stt"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	startTimeout = 10 * time.Second
	writeTimeout = 5 * time.Second
	flushTimeout = 5 * time.Second

	// transcriptLabel marks final transcripts sent back to the room.
	transcriptLabel = "volatile-message"
)

var errStreamStopped = errors.New("media stream stopped")

// Media gateway message types
type gatewayMessage struct {
	Event string        `json:"event"`
	Start *gatewayStart `json:"start,omitempty"`
	Media *gatewayMedia `json:"media,omitempty"`
}

type gatewayStart struct {
	RoomID      string `json:"roomId"`
	PeerID      string `json:"peerId"`
	MediaFormat struct {
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sampleRate"`
		Channels   int    `json:"channels"`
	} `json:"mediaFormat"`
}

type gatewayMedia struct {
	Payload   string `json:"payload"` // Base64 PCM
	Timestamp int64  `json:"timestamp"`
}

// outbound envelopes
type outboundMedia struct {
	Event string       `json:"event"`
	Media gatewayMedia `json:"media"`
}

type outboundMessage struct {
	Event   string `json:"event"`
	Message struct {
		Label   string `json:"label"`
		Payload any    `json:"payload"`
	} `json:"message"`
}

type outboundState struct {
	Event string `json:"event"`
	State struct {
		State string `json:"state"`
		Error string `json:"error,omitempty"`
	} `json:"state"`
}

type transcriptPayload struct {
	Message string `json:"message"`
	Name    string `json:"name"`
}

// formatFromGateway maps the gateway's mediaFormat to an audio.Format.
func formatFromGateway(s *gatewayStart) (audio.Format, error) {
	var f audio.Format
	switch strings.ToLower(s.MediaFormat.Encoding) {
	case "s16", "s16le", "linear16", "pcm16":
		f = audio.Format{BitDepth: 16, Signed: true}
	case "u8":
		f = audio.Format{BitDepth: 8}
	default:
		return audio.Format{}, fmt.Errorf("unsupported encoding %q", s.MediaFormat.Encoding)
	}
	f.Channels = s.MediaFormat.Channels
	f.SampleRate = s.MediaFormat.SampleRate
	if err := f.Validate(); err != nil {
		return audio.Format{}, err
	}
	return f, nil
}

// relaySession bridges one media gateway connection to a realtime session
// and the shared transcription pool.
type relaySession struct {
	id       string
	roomID   string
	peerID   string
	format   audio.Format
	req      *http.Request
	cfg      RouterConfig
	logger   *log.Logger
	eventLog *eventlog.Logger
	metrics  *metrics.Metrics

	conn     *websocket.Conn
	connMu   sync.Mutex
	closed   bool
	stateOut bool // a terminal state was already reported

	rt          *realtime.Session
	pacer       *audio.Pacer
	transcriber *stt.Transcriber
	toText      *audio.Resampler
	toVoice     *audio.Resampler

	// usage in bytes of 16-bit mono audio
	voiceIn  atomic.Int64
	voiceOut atomic.Int64
	textIn   atomic.Int64
}

// countingSink records how much bot audio reaches the pacer.
type countingSink struct {
	pacer *audio.Pacer
	n     *atomic.Int64
}

func (c countingSink) Enqueue(pcm []byte) {
	c.n.Add(int64(len(pcm)))
	c.pacer.Enqueue(pcm)
}

func (c countingSink) Flush() { c.pacer.Flush() }

func (s *relaySession) usage() (costs.SessionUsage, costs.SessionCosts) {
	u := costs.SessionUsage{
		RealtimeInputSeconds:  costs.PCMSeconds(s.voiceIn.Load(), s.cfg.RealtimeRate),
		RealtimeOutputSeconds: costs.PCMSeconds(s.voiceOut.Load(), realtime.SampleRate),
		TranscriptionSeconds:  costs.PCMSeconds(s.textIn.Load(), s.cfg.TranscriptionRate),
	}
	return u, costs.CalculateSessionCosts(u)
}

func (r *Router) handleMediaWS(w http.ResponseWriter, req *http.Request) {
	if !r.sessions.Add() {
		r.logger.Printf("media_ws: draining, rejecting session")
		http.Error(w, `{"error": "draining"}`, http.StatusServiceUnavailable)
		return
	}
	defer r.sessions.Done()

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("media_ws: upgrade failed: %v", err)
		return
	}

	s := &relaySession{
		req:      req,
		cfg:      r.cfg,
		logger:   r.logger,
		eventLog: r.eventLog,
		metrics:  r.metrics,
		conn:     conn,
		toText:   audio.NewResampler(r.cfg.TranscriptionRate),
		toVoice:  audio.NewResampler(r.cfg.RealtimeRate),
	}
	defer s.closeConn()

	r.logger.Printf("media_ws: connection established, waiting for start message")
	if err := s.awaitStart(mediaClaims(req.Context())); err != nil {
		r.logger.Printf("media_ws: start error: %v", err)
		s.sendState("errored", err)
		return
	}

	r.metrics.SessionStarted()
	final := s.run(req.Context(), r.dispatcher)
	r.metrics.SessionEnded(final.String())
}

// awaitStart reads messages until the start event and validates it.
func (s *relaySession) awaitStart(claims *MediaClaims) error {
	_ = s.conn.SetReadDeadline(time.Now().Add(startTimeout))
	defer s.conn.SetReadDeadline(time.Time{})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read start: %w", err)
		}
		var m gatewayMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			s.logger.Printf("media_ws: failed to parse message: %v", err)
			continue
		}
		switch m.Event {
		case "start":
		case "stop":
			return errStreamStopped
		default:
			s.logger.Printf("media_ws: ignoring %q before start", m.Event)
			continue
		}
		if m.Start == nil {
			return errors.New("nil start message")
		}
		format, err := formatFromGateway(m.Start)
		if err != nil {
			return err
		}
		if claims != nil && claims.RoomID != "" && claims.RoomID != m.Start.RoomID {
			return fmt.Errorf("token is not valid for room %q", m.Start.RoomID)
		}
		s.roomID = m.Start.RoomID
		s.peerID = m.Start.PeerID
		s.format = format
		s.logger.Printf("media_ws: stream started - room: %s, peer: %s, format: %d Hz x%d",
			s.roomID, s.peerID, format.SampleRate, format.Channels)
		return nil
	}
}

// run drives the relay until the gateway stops, the realtime session ends
// or ctx is cancelled. It returns the final realtime state.
func (s *relaySession) run(ctx context.Context, dispatcher *stt.Dispatcher) realtime.State {
	pacer, err := audio.NewPacer(audio.PacerConfig{
		Format:   audio.S16Mono(realtime.SampleRate),
		Observer: s.metrics,
	}, s.logger)
	if err != nil {
		s.sendState("errored", err)
		return realtime.StateErrored
	}
	s.pacer = pacer
	defer pacer.Stop()

	var opts []realtime.Option
	if s.cfg.RealtimeDialer != nil {
		opts = append(opts, realtime.WithDialer(s.cfg.RealtimeDialer))
	}
	opts = append(opts, realtime.WithHooks(realtime.Hooks{
		OnStateChange: func(st realtime.State) {
			s.metrics.RecordStateChange(st.String())
			s.eventLog.LogAsync(s.id, eventlog.EventStateChanged, map[string]any{"state": st.String()})
		},
		OnSpeechStarted: func() {
			s.metrics.RecordBargeIn()
			s.eventLog.LogAsync(s.id, eventlog.EventBargeIn, nil)
		},
		OnServerError: func(code, message string) {
			s.eventLog.LogAsync(s.id, eventlog.EventServerError, map[string]any{"code": code})
		},
	}))
	sink := countingSink{pacer: pacer, n: &s.voiceOut}
	rt, err := realtime.NewSession(s.cfg.Realtime, sink, s.logger, opts...)
	if err != nil {
		captureError(s.req, err, "media_ws: realtime configuration error", nil)
		s.sendState("errored", err)
		return realtime.StateErrored
	}
	s.rt = rt
	s.id = rt.ID()
	defer rt.Close()

	s.eventLog.LogAsync(s.id, eventlog.EventSessionStarted, map[string]any{
		"room_id":     s.roomID,
		"peer_id":     s.peerID,
		"sample_rate": s.format.SampleRate,
		"channels":    s.format.Channels,
	})
	defer func() {
		u, c := s.usage()
		s.logger.Printf("media_ws: session %s usage: %.1fs in, %.1fs out, %.1fs transcribed, %d cents",
			s.id, u.RealtimeInputSeconds, u.RealtimeOutputSeconds, u.TranscriptionSeconds, c.TotalCents)
		s.eventLog.LogAsync(s.id, eventlog.EventSessionEnded, map[string]any{
			"state":                   rt.State().String(),
			"realtime_input_seconds":  u.RealtimeInputSeconds,
			"realtime_output_seconds": u.RealtimeOutputSeconds,
			"transcription_seconds":   u.TranscriptionSeconds,
			"cost_cents":              c.TotalCents,
		})
		if rt.State() == realtime.StateErrored && s.cfg.Alerts != nil {
			s.cfg.Alerts.NotifySessionErrored(context.Background(), s.id, s.roomID, rt.Err())
		}
	}()

	if dispatcher != nil {
		s.transcriber = stt.NewTranscriber(dispatcher, s.cfg.STTChunkSize, s.onTranscript)
	}

	if err := rt.Connect(ctx); err != nil {
		s.logger.Printf("media_ws: realtime connect failed: %v", err)
		if realtime.IsFatal(err) {
			captureError(s.req, err, "media_ws: realtime connect failed", map[string]any{"session_id": s.id, "room_id": s.roomID})
		}
		s.sendState(rt.State().String(), err)
		return rt.State()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// Paced bot audio back to the room
	g.Go(func() error {
		defer cancel()
		err := pacer.Run(gctx, s.sendFrame)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Realtime session termination
	g.Go(func() error {
		defer cancel()
		select {
		case <-rt.Done():
			if err := rt.Err(); err != nil {
				captureError(s.req, err, "media_ws: realtime session failed", map[string]any{"session_id": s.id, "room_id": s.roomID})
			}
			s.sendState(rt.State().String(), rt.Err())
		case <-gctx.Done():
		}
		return nil
	})

	// Room audio in
	g.Go(func() error {
		defer cancel()
		return s.readLoop(gctx)
	})

	// Unblock the reader once anything above finishes
	g.Go(func() error {
		<-gctx.Done()
		s.connMu.Lock()
		_ = s.conn.SetReadDeadline(time.Now())
		s.connMu.Unlock()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errStreamStopped) {
		s.logger.Printf("media_ws: session %s ended: %v", s.id, err)
	}

	if s.transcriber != nil {
		fctx, fcancel := context.WithTimeout(context.Background(), flushTimeout)
		if err := s.transcriber.Flush(fctx); err != nil {
			s.logger.Printf("media_ws: transcription flush failed: %v", err)
		}
		fcancel()
	}

	_ = rt.Close()
	s.sendState(rt.State().String(), rt.Err())
	s.logger.Printf("media_ws: session %s cleaned up for room %s", s.id, s.roomID)
	return rt.State()
}

// readLoop forwards room audio until the gateway stops or ctx ends.
func (s *relaySession) readLoop(ctx context.Context) error {
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("media_ws: connection closed for room %s", s.roomID)
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var m gatewayMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			s.logger.Printf("media_ws: failed to parse message: %v", err)
			continue
		}

		switch m.Event {
		case "media":
			if err := s.handleMedia(ctx, m.Media); err != nil {
				s.logger.Printf("media_ws: media error: %v", err)
			}
		case "stop":
			s.logger.Printf("media_ws: stream stopped for room %s", s.roomID)
			return errStreamStopped
		case "start":
			s.logger.Printf("media_ws: ignoring repeated start")
		}
	}
}

// handleMedia resamples one room frame for both consumers. A failure on
// one path does not skip the other.
func (s *relaySession) handleMedia(ctx context.Context, m *gatewayMedia) error {
	if m == nil {
		return nil
	}
	s.metrics.MediaFramesIn.Inc()

	pcm, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return fmt.Errorf("failed to decode audio: %w", err)
	}
	frame, err := audio.NewFrame(s.format, m.Timestamp, pcm)
	if err != nil {
		return err
	}

	var errs []error
	if s.transcriber != nil {
		text := s.toText.Resample(frame)
		s.textIn.Add(int64(text.Len()))
		if err := s.transcriber.SendAudio(ctx, text.Payload()); err != nil {
			errs = append(errs, fmt.Errorf("transcription: %w", err))
		}
	}
	voice := s.toVoice.Resample(frame)
	if err := s.rt.SendAudio(ctx, voice.Payload()); err != nil {
		errs = append(errs, fmt.Errorf("realtime: %w", err))
	} else {
		s.voiceIn.Add(int64(voice.Len()))
	}
	return errors.Join(errs...)
}

func (s *relaySession) onTranscript(r stt.Result) {
	if !r.IsFinal {
		s.logger.Printf("media_ws: interim transcript (%.2f): %s", r.Confidence, r.Text)
		return
	}
	var out outboundMessage
	out.Event = "message"
	out.Message.Label = transcriptLabel
	out.Message.Payload = transcriptPayload{Message: r.Text, Name: s.cfg.BotName}
	if err := s.writeJSON(out); err != nil {
		s.logger.Printf("media_ws: failed to send transcript: %v", err)
	}
}

func (s *relaySession) sendFrame(f audio.Frame) error {
	out := outboundMedia{
		Event: "media",
		Media: gatewayMedia{
			Payload:   base64.StdEncoding.EncodeToString(f.Payload()),
			Timestamp: f.PTS(),
		},
	}
	if err := s.writeJSON(out); err != nil {
		return err
	}
	s.metrics.MediaFramesOut.Inc()
	return nil
}

// sendState reports a terminal state once.
func (s *relaySession) sendState(state string, cause error) {
	s.connMu.Lock()
	if s.stateOut {
		s.connMu.Unlock()
		return
	}
	s.stateOut = true
	s.connMu.Unlock()

	var out outboundState
	out.Event = "state"
	out.State.State = state
	if cause != nil {
		out.State.Error = cause.Error()
	}
	if err := s.writeJSON(out); err != nil {
		s.logger.Printf("media_ws: failed to send state: %v", err)
	}
}

func (s *relaySession) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func (s *relaySession) closeConn() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.conn.Close()
}
