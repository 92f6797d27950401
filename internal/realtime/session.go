// Package realtime drives one duplex websocket session with a realtime voice
// service: it sends the session parameters, forwards caller audio, and feeds
// synthesized audio into a playback sink.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateActive
	StateClosing
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateErrored
}

// AudioSink receives synthesized audio. *audio.Pacer satisfies it.
type AudioSink interface {
	Enqueue(pcm []byte)
	Flush()
}

// Hooks are optional callbacks invoked from the read loop, in envelope order.
// They must not block and must not call Close.
type Hooks struct {
	OnStateChange     func(State)
	OnTranscriptDelta func(delta string)
	OnSpeechStarted   func()
	OnServerError     func(code, message string)
}

// Dialer opens the transport connection.
type Dialer func(ctx context.Context, url string, header http.Header) (*websocket.Conn, error)

// Session is one realtime connection. It is created Disconnected, becomes
// Active only after the service acknowledges the session parameters, and
// never reconnects: callers observe Done and build a new Session.
type Session struct {
	id     string
	cfg    Config
	sink   AudioSink
	logger *log.Logger
	hooks  Hooks
	dial   Dialer

	mu    sync.Mutex
	state State
	err   error
	conn  *websocket.Conn

	writeMu sync.Mutex // serializes writes and sequence allocation
	seq     uint64

	acked   chan struct{}
	ackOnce sync.Once
	done    chan struct{}
	wg      sync.WaitGroup
}

// Option customizes a Session.
type Option func(*Session)

// WithHooks installs event callbacks.
func WithHooks(h Hooks) Option {
	return func(s *Session) { s.hooks = h }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(s *Session) { s.dial = d }
}

// WithID fixes the session id used in correlation ids.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// NewSession validates cfg and returns a Disconnected session that writes
// inbound audio to sink.
func NewSession(cfg Config, sink AudioSink, logger *log.Logger, opts ...Option) (*Session, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: audio sink is required", ErrConfig)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	s := &Session{
		id:     uuid.NewString(),
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		acked:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.dial = s.defaultDial
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Session) defaultDial(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.cfg.HandshakeTimeout,
	}
	conn, _, err := d.DialContext(ctx, url, header)
	return conn, err
}

// ID returns the session id embedded in every correlation id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session to StateErrored, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Connect dials the service, sends the session parameters and waits for the
// acknowledgement. It returns nil once the session is Active.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.transition(StateConnecting, StateDisconnected); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	endpoint, err := s.cfg.endpoint()
	if err != nil {
		return s.failed(fmt.Errorf("%w: %v", ErrConfig, err))
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, err := s.dial(ctx, endpoint, header)
	if err != nil {
		return s.failed(fmt.Errorf("%w: dial: %v", ErrTransport, err))
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	s.conn = conn
	s.mu.Unlock()
	if err := s.transition(StateHandshaking, StateConnecting); err != nil {
		return err
	}

	if err := s.sendSessionUpdate(ctx); err != nil {
		return s.failed(err)
	}
	s.logger.Printf("realtime: session %s parameters sent", s.id)

	s.wg.Add(1)
	go s.readLoop(conn)

	select {
	case <-s.acked:
		return nil
	case <-s.done:
		if err := s.Err(); err != nil {
			return err
		}
		return ErrClosed
	case <-ctx.Done():
		return s.failed(fmt.Errorf("%w: no session acknowledgement: %v", ErrTransport, ctx.Err()))
	}
}

func (s *Session) sendSessionUpdate(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeLocked(ctx, sessionUpdateEvent{
		EventID: "session_create_" + s.id,
		Type:    "session.update",
		Session: s.cfg.Params,
	})
}

// SendAudio forwards one chunk of pcm16 input audio. Chunks are sent in call
// order with strictly increasing sequence numbers.
func (s *Session) SendAudio(ctx context.Context, pcm []byte) error {
	switch st := s.State(); {
	case st == StateActive:
	case st >= StateClosing:
		return ErrClosed
	default:
		return ErrNotActive
	}
	if len(pcm) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.seq++
	err := s.writeLocked(ctx, audioAppendEvent{
		EventID: fmt.Sprintf("audio_chunk_%s_%d", s.id, s.seq),
		Type:    "input_audio_buffer.append",
		Audio:   base64.StdEncoding.EncodeToString(pcm),
	})
	if err != nil {
		return s.failed(err)
	}
	return nil
}

// writeLocked writes one envelope. Callers hold s.writeMu.
func (s *Session) writeLocked(ctx context.Context, v any) error {
	s.mu.Lock()
	conn := s.conn
	state := s.state
	s.mu.Unlock()
	if conn == nil || state.Terminal() || state == StateClosing {
		return ErrClosed
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: encode envelope: %w", err)
	}
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("%w: write: %v", ErrTransport, err)
	}
	return nil
}

// Close stops the session, terminates the read loop and releases the
// connection. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	switch {
	case s.state.Terminal():
		s.mu.Unlock()
		return nil
	case s.state == StateClosing:
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.state = StateClosing
	conn := s.conn
	s.mu.Unlock()
	s.notify(StateClosing)

	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		conn.Close()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	close(s.done)
	s.notify(StateClosed)
	s.logger.Printf("realtime: session %s closed", s.id)
	return nil
}

// transition moves from one of the allowed states to next.
func (s *Session) transition(next State, from ...State) error {
	s.mu.Lock()
	cur := s.state
	allowed := false
	for _, f := range from {
		if cur == f {
			allowed = true
			break
		}
	}
	if !allowed {
		s.mu.Unlock()
		if cur.Terminal() || cur == StateClosing {
			return ErrClosed
		}
		return fmt.Errorf("realtime: cannot move from %s to %s", cur, next)
	}
	s.state = next
	s.mu.Unlock()
	s.notify(next)
	return nil
}

// fail moves a live session to StateErrored and releases the connection.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state.Terminal() || s.state == StateClosing {
		s.mu.Unlock()
		return
	}
	s.state = StateErrored
	s.err = err
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	close(s.done)
	s.logger.Printf("realtime: session %s failed: %v", s.id, err)
	s.notify(StateErrored)
}

// failed records err via fail and returns the error the caller should see.
// When a concurrent Close already ended the session, fail is a no-op and the
// result is ErrClosed rather than nil.
func (s *Session) failed(err error) error {
	s.fail(err)
	if e := s.Err(); e != nil {
		return e
	}
	if errors.Is(err, ErrClosed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrClosed, err)
}

// remoteClosed handles an orderly close initiated by the service.
func (s *Session) remoteClosed() {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		s.fail(fmt.Errorf("%w: closed by remote before activation", ErrTransport))
		return
	}
	s.state = StateClosing
	conn := s.conn
	s.mu.Unlock()
	s.notify(StateClosing)

	conn.Close()
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	close(s.done)
	s.notify(StateClosed)
	s.logger.Printf("realtime: session %s closed by remote", s.id)
}

func (s *Session) notify(st State) {
	if s.hooks.OnStateChange != nil {
		s.hooks.OnStateChange(st)
	}
}

func (s *Session) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if st := s.State(); st == StateClosing || st.Terminal() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.remoteClosed()
				return
			}
			s.fail(fmt.Errorf("%w: read: %v", ErrTransport, err))
			return
		}
		if msgType != websocket.TextMessage {
			s.logger.Printf("realtime: %v: unexpected message type %d", ErrProtocol, msgType)
			continue
		}
		if err := s.dispatch(msg); err != nil {
			s.logger.Printf("realtime: %v", err)
		}
	}
}

// dispatch handles one envelope synchronously, so side effects such as a
// barge-in flush are visible before the next envelope is read.
func (s *Session) dispatch(msg []byte) error {
	var ev serverEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return fmt.Errorf("%w: decode envelope: %v", ErrProtocol, err)
	}

	switch kind := ParseEventType(ev.Type); kind {
	case EventSessionCreated:
		s.logger.Printf("realtime: session %s created remotely", s.id)

	case EventSessionUpdated:
		s.logger.Printf("realtime: session %s parameters acknowledged", s.id)
		if err := s.transition(StateActive, StateHandshaking); err == nil {
			s.ackOnce.Do(func() { close(s.acked) })
		}

	case EventResponseCreated:
		s.logger.Printf("realtime: response created: %s", responseID(ev))

	case EventResponseDone:
		status := ""
		if ev.Response != nil {
			status = ev.Response.Status
		}
		s.logger.Printf("realtime: response done: %s status=%s", responseID(ev), status)

	case EventResponseAudioDelta:
		if ev.Delta == "" {
			return nil
		}
		pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			return fmt.Errorf("%w: audio delta: %v", ErrProtocol, err)
		}
		s.sink.Enqueue(pcm)

	case EventResponseAudioDone:
		s.logger.Printf("realtime: response audio done: %s", ev.ItemID)

	case EventResponseAudioTranscriptDelta:
		if s.hooks.OnTranscriptDelta != nil {
			s.hooks.OnTranscriptDelta(ev.Delta)
		}

	case EventRateLimitUpdated:
		for _, rl := range ev.RateLimits {
			s.logger.Printf("realtime: rate limit %s: %d/%d, reset in %.1fs", rl.Name, rl.Remaining, rl.Limit, rl.ResetSeconds)
		}

	case EventSpeechStarted:
		s.logger.Printf("realtime: speech started at %dms, flushing playback", ev.AudioEndMs)
		s.sink.Flush()
		if s.hooks.OnSpeechStarted != nil {
			s.hooks.OnSpeechStarted()
		}

	case EventSpeechStopped:
		s.logger.Printf("realtime: speech stopped at %dms", ev.AudioEndMs)

	case EventError:
		code, message := "", ""
		if ev.Error != nil {
			code, message = ev.Error.Code, ev.Error.Message
		}
		s.logger.Printf("realtime: server error code=%s: %s", code, message)
		if s.hooks.OnServerError != nil {
			s.hooks.OnServerError(code, message)
		}

	case EventUnknown:
		s.logger.Printf("realtime: unhandled message type: %q", ev.Type)

	default:
		return fmt.Errorf("%w: no handler for %s", ErrProtocol, kind)
	}
	return nil
}

func responseID(ev serverEvent) string {
	if ev.Response != nil {
		return ev.Response.ID
	}
	return ""
}

// IsFatal reports whether err ended the session.
func IsFatal(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrConfig)
}
