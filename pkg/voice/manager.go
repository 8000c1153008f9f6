package voice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avocetlabs/voicewidget/pkg/audio"
	"github.com/avocetlabs/voicewidget/pkg/token"
	"github.com/avocetlabs/voicewidget/pkg/wire"
)

// Manager owns one voice conversation end to end: the upstream session
// socket, the capture and playback pipelines, and the event interpreter that
// drives the conversation state machine.
//
// A Manager survives incidental socket loss. The Session context persists
// across reconnects; only an explicit End (or exhausting the retry budget)
// tears the conversation down.
type Manager struct {
	cfg      *Config
	session  *Session
	sink     EventSink
	playback *audio.Playback
	capture  *audio.Capture
	tokens   *token.Manager
	executor *Executor
	logger   *slog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	connGen    int
	connecting bool
	retried    bool
	closed     bool

	// Pending function-call argument accumulators, keyed by call id.
	calls map[string]*callAccum

	sendMu sync.Mutex
	// sendFn writes one client event to the socket. Replaceable in tests.
	sendFn func(v any) error
}

type callAccum struct {
	name string
	args string
}

// NewManager creates a session manager. The sink receives UI events, the
// audio sink renders agent speech, tokens supplies the bearer credential,
// and the executor (optional) handles model-initiated function calls.
func NewManager(sink EventSink, audioSink audio.Sink, tokens *token.Manager, executor *Executor, opts ...Option) *Manager {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if sink == nil {
		sink = NopSink{}
	}

	session := NewSession()
	logger := cfg.Logger.With("component", "voice", "session_id", session.ID)

	m := &Manager{
		cfg:      cfg,
		session:  session,
		sink:     sink,
		playback: audio.NewPlayback(audioSink, logger),
		tokens:   tokens,
		executor: executor,
		logger:   logger,
		calls:    make(map[string]*callAccum),
	}
	m.capture = audio.NewCapture(cfg.InputSampleRate, m.sendFrame, m.audioGate, logger)
	m.sendFn = m.writeJSON
	return m
}

// SessionID returns the conversation's session id.
func (m *Manager) SessionID() string { return m.session.ID }

// State returns the current conversation state.
func (m *Manager) State() State { return m.session.State() }

// Connect dials the speech backend, configures the session, and starts the
// read loop. Fails with ErrAlreadyConnected while a socket is open and with
// ErrSessionEnded after End.
func (m *Manager) Connect(ctx context.Context) error {
	if m.session.Ended() {
		return ErrSessionEnded
	}

	m.mu.Lock()
	if m.conn != nil || m.connecting {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.connecting = true
	m.mu.Unlock()

	m.setState(StateConnecting)

	err := m.dial(ctx)

	m.mu.Lock()
	m.connecting = false
	m.mu.Unlock()

	if err != nil {
		m.setState(StateIdle)
		return err
	}
	return nil
}

func (m *Manager) dial(ctx context.Context) error {
	cred, err := m.tokens.Fetch(ctx)
	if err != nil {
		return &ConnectionError{Reason: "credential fetch", Cause: err}
	}

	endpoint := m.cfg.UpstreamURL
	if m.cfg.Model != "" {
		endpoint += "?model=" + url.QueryEscape(m.cfg.Model)
	}

	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.Token)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		reason := "websocket dial"
		if resp != nil {
			reason = fmt.Sprintf("websocket dial (status %d)", resp.StatusCode)
		}
		return &ConnectionError{Reason: reason, Cause: err}
	}

	m.mu.Lock()
	m.conn = conn
	m.connGen++
	gen := m.connGen
	m.mu.Unlock()

	m.logger.Info("session socket connected", "endpoint", m.cfg.UpstreamURL)
	go m.readLoop(conn, gen)
	return nil
}

// configure sends the session.update that sets instructions, audio formats,
// transcription, turn detection, and the advertised tools.
func (m *Manager) configure() {
	sc := wire.SessionConfig{
		Modalities:        []string{"audio", "text"},
		Instructions:      m.cfg.Instructions,
		Voice:             m.cfg.Voice,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     &m.cfg.TurnDetection,
	}
	if m.cfg.TranscriptionModel != "" {
		sc.Transcription = &wire.Transcription{Model: m.cfg.TranscriptionModel}
	}
	if m.executor != nil {
		if decls := m.executor.Declarations(); len(decls) > 0 {
			sc.Tools = decls
			sc.ToolChoice = "auto"
		}
	}
	if err := m.send(wire.SessionUpdate(sc)); err != nil {
		m.logger.Error("session configure failed", "error", err)
		return
	}

	// The greeting is a synthetic user turn so the agent opens the
	// exchange. Exactly once per conversation; reconnects skip it.
	if m.cfg.Greeting != "" {
		go func() {
			time.Sleep(m.cfg.SettleDelay)
			if !m.session.MarkGreeted() {
				return
			}
			m.trySend(wire.CreateTextItem("user", m.cfg.Greeting))
			m.trySend(wire.CreateResponse())
		}()
	}
}

func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(gen, err)
			return
		}
		ev, perr := wire.ParseServerEvent(data)
		if perr != nil {
			m.logger.Warn("unparseable server event", "error", perr)
			continue
		}
		m.handleEvent(ev)
	}
}

// handleDisconnect classifies a socket loss and decides between teardown,
// silent reconnect, and terminal failure.
func (m *Manager) handleDisconnect(gen int, err error) {
	m.mu.Lock()
	if gen != m.connGen {
		// A newer socket already replaced this one.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.mu.Unlock()

	if m.session.Ended() {
		return
	}

	// A normal closure is the server finishing the session.
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.logger.Info("session closed by server")
		m.teardown()
		return
	}

	// Abnormal close shortly after an interrupt, or mid-turn, is a known
	// upstream quirk: the socket drops as a side effect of cancellation.
	// Reconnect silently and keep the conversation context.
	sinceInterrupt := time.Since(m.session.LastInterrupt())
	if sinceInterrupt < m.cfg.InterruptWindow || m.session.Processing() {
		m.logger.Warn("socket lost mid-conversation, reconnecting",
			"error", err, "since_interrupt", sinceInterrupt.Round(time.Millisecond))
		m.reconnect()
		return
	}

	// Otherwise one automatic retry, then give up.
	m.mu.Lock()
	alreadyRetried := m.retried
	m.retried = true
	m.mu.Unlock()

	if !alreadyRetried {
		m.logger.Warn("socket lost, retrying once", "error", err)
		m.reconnect()
		return
	}

	m.logger.Error("socket lost after retry, giving up", "error", err)
	m.sink.Status("Voice connection lost. Tap the microphone to try again.")
	m.teardown()
}

// reconnect replaces the socket after a pause, keeping the session context.
// Concurrent calls collapse into one via the connecting flag.
func (m *Manager) reconnect() {
	m.mu.Lock()
	if m.connecting || m.conn != nil || m.closed {
		m.mu.Unlock()
		return
	}
	m.connecting = true
	m.mu.Unlock()

	go func() {
		time.Sleep(m.cfg.ReconnectDelay)

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout+5*time.Second)
		defer cancel()
		err := m.dial(ctx)

		m.mu.Lock()
		m.connecting = false
		m.mu.Unlock()

		if err != nil {
			m.logger.Error("reconnect failed", "error", err)
			m.sink.Status("Voice connection lost. Tap the microphone to try again.")
			m.teardown()
			return
		}
		m.session.ResetTurn()
	}()
}

// StartCapture activates the microphone pipeline.
func (m *Manager) StartCapture() error {
	if err := m.capture.Start(); err != nil {
		return err
	}
	m.session.SetCanSendAudio(true)
	return nil
}

// ReportCaptureError surfaces a widget-side microphone failure as a status
// line and stops the pipeline.
func (m *Manager) ReportCaptureError(err error) {
	m.logger.Warn("capture failed", "error", err)
	m.capture.Stop()
	m.sink.Status(audio.CaptureErrorText(err))
}

// PushAudio accepts one raw PCM16 microphone frame from the widget.
func (m *Manager) PushAudio(pcm []byte) error {
	return m.capture.Push(pcm)
}

// audioGate reports whether outbound audio may flow right now.
func (m *Manager) audioGate() bool {
	m.mu.Lock()
	open := m.conn != nil
	m.mu.Unlock()
	return open && m.session.CanSendAudio() && !m.session.Processing()
}

// sendFrame transmits one encoded audio frame upstream.
func (m *Manager) sendFrame(b64 string) error {
	return m.send(wire.AppendAudio(b64))
}

// send writes one client event to the socket.
func (m *Manager) send(v any) error {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	return m.sendFn(v)
}

// trySend writes one client event, logging instead of failing. Used on paths
// where a send failure must not abort the local state transition.
func (m *Manager) trySend(v any) {
	if err := m.send(v); err != nil {
		m.logger.Debug("send failed, continuing", "error", err)
	}
}

func (m *Manager) writeJSON(v any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteJSON(v)
}

// End terminates the conversation at the user's request: capture stops,
// playback is cut, the socket closes cleanly, and the session is marked
// ended so nothing reconnects.
func (m *Manager) End() {
	if m.session.Ended() {
		return
	}
	m.session.End()
	m.session.ResetTurn()
	m.capture.Stop()
	m.playback.Interrupt()

	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.connGen++
	m.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"), deadline)
		_ = conn.Close()
	}

	m.setState(StateIdle)
	m.logger.Info("session ended by user")
}

// Close releases the manager's resources. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.End()
	m.playback.Close()
}

// teardown is the non-user-initiated end: the socket is gone for good but the
// widget stays up so the user can retry.
func (m *Manager) teardown() {
	m.capture.Stop()
	m.playback.Interrupt()
	m.session.ResetTurn()
	m.setState(StateIdle)
}

func (m *Manager) setState(s State) {
	if m.session.State() == s {
		return
	}
	m.session.SetState(s)
	m.sink.StateChanged(s)
	m.logger.Debug("state changed", "state", s.String())
}
