package voice

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avocetlabs/voicewidget/pkg/audio"
	"github.com/avocetlabs/voicewidget/pkg/wire"
)

// recorderSink captures every UI event for assertions.
type recorderSink struct {
	mu       sync.Mutex
	messages []Message
	clears   int
	shows    int
	closes   int
	states   []State
	statuses []string
}

func (r *recorderSink) AddMessage(msg Message) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
}

func (r *recorderSink) ClearTyping() {
	r.mu.Lock()
	r.clears++
	r.mu.Unlock()
}

func (r *recorderSink) ShowChat() {
	r.mu.Lock()
	r.shows++
	r.mu.Unlock()
}

func (r *recorderSink) RequestClose() {
	r.mu.Lock()
	r.closes++
	r.mu.Unlock()
}

func (r *recorderSink) StateChanged(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorderSink) Status(text string) {
	r.mu.Lock()
	r.statuses = append(r.statuses, text)
	r.mu.Unlock()
}

func (r *recorderSink) lastState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return StateIdle
	}
	return r.states[len(r.states)-1]
}

func (r *recorderSink) messagesCopy() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// nopAudioSink discards rendered audio.
type nopAudioSink struct{}

func (nopAudioSink) Play([]byte) error { return nil }
func (nopAudioSink) Flush() error      { return nil }

// sentRecorder captures the client events the manager writes upstream,
// reduced to their wire type strings.
type sentRecorder struct {
	mu    sync.Mutex
	types []string
}

func (s *sentRecorder) record(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return err
	}
	s.mu.Lock()
	s.types = append(s.types, envelope.Type)
	s.mu.Unlock()
	return nil
}

func (s *sentRecorder) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.types...)
}

func (s *sentRecorder) count(eventType string) int {
	n := 0
	for _, t := range s.sent() {
		if t == eventType {
			n++
		}
	}
	return n
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *recorderSink, *sentRecorder) {
	t.Helper()
	sink := &recorderSink{}
	sent := &sentRecorder{}
	opts = append([]Option{
		WithInterruptDebounce(500 * time.Millisecond),
	}, opts...)
	m := NewManager(sink, nopAudioSink{}, nil, nil, opts...)
	m.cfg.SettleDelay = time.Millisecond
	m.cfg.TurnResetDelay = time.Millisecond
	m.sendFn = sent.record
	t.Cleanup(m.playback.Close)
	return m, sink, sent
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestInterruptReturnsToListening(t *testing.T) {
	m, sink, sent := newTestManager(t)

	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseCreated, Response: &wire.ResponseInfo{ID: "resp_1"}})
	m.handleEvent(&wire.ServerEvent{Type: wire.EventTextDelta, ResponseID: "resp_1", Delta: "I was saying"})
	m.playback.Enqueue(make([]byte, 48000)) // ~1s of speech
	clearsBefore := sent.count("input_audio_buffer.clear")

	if !m.Interrupt("test", true) {
		t.Fatal("interrupt should succeed while speaking")
	}

	if got := m.session.CurrentResponseID(); got != "" {
		t.Errorf("active response id should be cleared, got %q", got)
	}
	if m.State() != StateListening {
		t.Errorf("state = %v, want listening", m.State())
	}
	waitFor(t, time.Second, func() bool { return !m.playback.IsPlaying() },
		"playback queue should drain immediately on interrupt")

	if n := sent.count("response.cancel"); n != 1 {
		t.Errorf("expected 1 response.cancel, got %d", n)
	}
	if n := sent.count("input_audio_buffer.clear") - clearsBefore; n != 0 {
		t.Errorf("barge-in must keep the input buffer, got %d clears", n)
	}

	// The partial utterance lands in history exactly once, truncated.
	var truncated int
	for _, msg := range sink.messagesCopy() {
		if msg.Truncated {
			truncated++
			if msg.Text != "I was saying" {
				t.Errorf("truncated text = %q", msg.Text)
			}
		}
	}
	if truncated != 1 {
		t.Errorf("expected 1 truncated commit, got %d", truncated)
	}
}

func TestInterruptClearsBufferWhenAsked(t *testing.T) {
	m, _, sent := newTestManager(t)
	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseCreated, Response: &wire.ResponseInfo{ID: "resp_1"}})
	clearsBefore := sent.count("input_audio_buffer.clear")

	if !m.Interrupt("stop button", false) {
		t.Fatal("interrupt should succeed")
	}
	if n := sent.count("input_audio_buffer.clear") - clearsBefore; n != 1 {
		t.Errorf("explicit stop should clear the input buffer, got %d", n)
	}
}

func TestInterruptDebounced(t *testing.T) {
	m, _, sent := newTestManager(t)
	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseCreated, Response: &wire.ResponseInfo{ID: "resp_1"}})

	if !m.Interrupt("first", true) {
		t.Fatal("first interrupt should succeed")
	}
	m.session.SetProcessing(true) // pretend a new turn raced in
	if m.Interrupt("second", true) {
		t.Error("interrupt inside the debounce window should be rejected")
	}
	if n := sent.count("response.cancel"); n != 1 {
		t.Errorf("debounced interrupt must not send a second cancel, got %d", n)
	}
}

func TestInterruptNothingActive(t *testing.T) {
	m, _, _ := newTestManager(t)
	if m.Interrupt("idle", true) {
		t.Error("interrupt with nothing in flight should report false")
	}
}

func TestInterruptSendFailureStillResets(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseCreated, Response: &wire.ResponseInfo{ID: "resp_1"}})
	m.sendFn = func(any) error { return errors.New("socket gone") }

	if !m.Interrupt("broken socket", true) {
		t.Fatal("interrupt should succeed locally even when sends fail")
	}
	if m.State() != StateListening {
		t.Errorf("state = %v, want listening despite send failures", m.State())
	}
	if m.session.CurrentResponseID() != "" {
		t.Error("turn should be reset despite send failures")
	}
}

func TestSpeechStartedBargesIn(t *testing.T) {
	m, _, sent := newTestManager(t)
	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseCreated, Response: &wire.ResponseInfo{ID: "resp_1"}})
	m.handleEvent(&wire.ServerEvent{Type: wire.EventTextDelta, ResponseID: "resp_1", Delta: "blah"})
	clearsBefore := sent.count("input_audio_buffer.clear")

	m.handleEvent(&wire.ServerEvent{Type: wire.EventSpeechStarted})

	if m.State() != StateListening {
		t.Errorf("state = %v, want listening after barge-in", m.State())
	}
	if n := sent.count("response.cancel"); n != 1 {
		t.Errorf("barge-in should cancel the response, got %d", n)
	}
	if n := sent.count("input_audio_buffer.clear") - clearsBefore; n != 0 {
		t.Error("barge-in must preserve the user's buffered speech")
	}
}

func TestSpeechStartedWhileListeningIsNotAnInterrupt(t *testing.T) {
	m, _, sent := newTestManager(t)
	m.session.SetState(StateListening)

	m.handleEvent(&wire.ServerEvent{Type: wire.EventSpeechStarted})

	if n := sent.count("response.cancel"); n != 0 {
		t.Errorf("no cancel expected while listening, got %d", n)
	}
}

func TestStaleDeltasDropped(t *testing.T) {
	m, sink, _ := newTestManager(t)
	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseCreated, Response: &wire.ResponseInfo{ID: "resp_2"}})

	m.handleEvent(&wire.ServerEvent{Type: wire.EventTextDelta, ResponseID: "resp_1", Delta: "stale"})
	if text, _ := m.session.AgentText(); text != "" {
		t.Errorf("stale delta must not accumulate, got %q", text)
	}

	m.handleEvent(&wire.ServerEvent{Type: wire.EventAudioDelta, ResponseID: "resp_1", Delta: "AAAA"})
	if m.playback.QueueLen() != 0 {
		t.Error("stale audio must not be enqueued")
	}

	if len(sink.messagesCopy()) != 0 {
		t.Error("stale events must not reach the sink")
	}
}

func TestDeltaWithoutIDBelongsToActiveTurn(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseCreated, Response: &wire.ResponseInfo{ID: "resp_1"}})

	m.handleEvent(&wire.ServerEvent{Type: wire.EventTextDelta, Delta: "hi"})
	if text, _ := m.session.AgentText(); text != "hi" {
		t.Errorf("id-less delta should attach to the active turn, got %q", text)
	}
}

func TestResponseDoneCommitsOnce(t *testing.T) {
	m, sink, _ := newTestManager(t)
	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseCreated, Response: &wire.ResponseInfo{ID: "resp_1"}})
	m.handleEvent(&wire.ServerEvent{Type: wire.EventTextDelta, ResponseID: "resp_1", Delta: "hello "})
	m.handleEvent(&wire.ServerEvent{Type: wire.EventTextDelta, ResponseID: "resp_1", Delta: "there"})

	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseDone, Response: &wire.ResponseInfo{ID: "resp_1"}})
	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseDone, Response: &wire.ResponseInfo{ID: "resp_1"}})

	var finals int
	for _, msg := range sink.messagesCopy() {
		if msg.Role == "agent" && !msg.IsStreaming && !msg.IsTyping {
			finals++
			if msg.Text != "hello there" {
				t.Errorf("final text = %q", msg.Text)
			}
		}
	}
	if finals != 1 {
		t.Errorf("expected exactly 1 final commit, got %d", finals)
	}
}

func TestStrayResponseDoneAfterInterrupt(t *testing.T) {
	m, sink, _ := newTestManager(t)
	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseCreated, Response: &wire.ResponseInfo{ID: "resp_1"}})
	m.handleEvent(&wire.ServerEvent{Type: wire.EventTextDelta, ResponseID: "resp_1", Delta: "partial answer"})

	if !m.Interrupt("barge-in", true) {
		t.Fatal("interrupt should succeed")
	}

	// The canceled turn's done arrives late; it must not re-commit.
	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseDone, Response: &wire.ResponseInfo{ID: "resp_1"}})

	var agentCommits int
	for _, msg := range sink.messagesCopy() {
		if msg.Role == "agent" && !msg.IsStreaming && !msg.IsTyping {
			agentCommits++
			if !msg.Truncated {
				t.Error("the only commit should be the truncated one")
			}
		}
	}
	if agentCommits != 1 {
		t.Errorf("expected 1 commit (the truncated one), got %d", agentCommits)
	}
	if m.State() != StateListening {
		t.Errorf("state = %v, want listening", m.State())
	}
}

func TestUserTranscriptDeduped(t *testing.T) {
	m, sink, _ := newTestManager(t)

	ev := &wire.ServerEvent{Type: wire.EventInputTranscriptDone, ItemID: "item_1", Transcript: "hello?"}
	m.handleEvent(ev)
	m.handleEvent(ev)

	msgs := sink.messagesCopy()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 user message, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || !msgs[0].IsVoice || msgs[0].Text != "hello?" {
		t.Errorf("unexpected message: %+v", msgs[0])
	}
	if sink.shows != 1 {
		t.Errorf("chat should be shown exactly once, got %d", sink.shows)
	}
}

func TestEmptyTranscriptIgnored(t *testing.T) {
	m, sink, _ := newTestManager(t)
	m.handleEvent(&wire.ServerEvent{Type: wire.EventInputTranscriptDone, ItemID: "item_1", Transcript: "   "})
	if len(sink.messagesCopy()) != 0 {
		t.Error("blank transcript should not produce a message")
	}
}

func TestGreetingSentOncePerConversation(t *testing.T) {
	m, _, sent := newTestManager(t, WithGreeting("Hi there"))

	m.handleEvent(&wire.ServerEvent{Type: wire.EventSessionCreated})
	waitFor(t, time.Second, func() bool { return sent.count("conversation.item.create") == 1 },
		"greeting item should be sent after the settle delay")

	// Reconnect: a second session.created must not re-greet.
	m.handleEvent(&wire.ServerEvent{Type: wire.EventSessionCreated})
	time.Sleep(50 * time.Millisecond)

	if n := sent.count("conversation.item.create"); n != 1 {
		t.Errorf("expected 1 greeting across reconnects, got %d", n)
	}
	if n := sent.count("session.update"); n != 2 {
		t.Errorf("each connection should be configured, got %d session.updates", n)
	}
}

func TestBenignCancelErrorSwallowed(t *testing.T) {
	m, sink, _ := newTestManager(t)
	m.handleEvent(&wire.ServerEvent{
		Type:  wire.EventError,
		Error: &wire.ErrorInfo{Code: "response_cancel_not_active", Message: "Cancellation failed: no active response"},
	})
	if len(sink.statuses) != 0 {
		t.Errorf("benign cancel must not surface a status, got %v", sink.statuses)
	}
}

func TestRealServerErrorSurfaces(t *testing.T) {
	m, sink, _ := newTestManager(t)
	m.handleEvent(&wire.ServerEvent{
		Type:  wire.EventError,
		Error: &wire.ErrorInfo{Code: "rate_limit_exceeded", Message: "slow down"},
	})
	if len(sink.statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(sink.statuses))
	}
}

func TestServerErrorReconcilesTurn(t *testing.T) {
	m, sink, _ := newTestManager(t)
	m.session.SetState(StateListening)
	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseCreated, Response: &wire.ResponseInfo{ID: "resp_1"}})

	m.handleEvent(&wire.ServerEvent{
		Type:  wire.EventError,
		Error: &wire.ErrorInfo{Code: "server_error", Message: "internal failure"},
	})

	if m.State() != StateListening {
		t.Errorf("state = %v, want listening after a mid-turn error", m.State())
	}
	if m.session.CurrentResponseID() != "" {
		t.Error("the failed turn's id should be cleared")
	}
	if m.session.Processing() {
		t.Error("processing flag should be cleared")
	}
	if !m.session.CanSendAudio() {
		t.Error("outbound audio should be re-enabled")
	}
	if len(sink.statuses) != 1 {
		t.Errorf("expected 1 status, got %d", len(sink.statuses))
	}
}

func TestBenignCancelMidTurnReconcilesSilently(t *testing.T) {
	m, sink, _ := newTestManager(t)
	m.session.SetState(StateListening)
	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseCreated, Response: &wire.ResponseInfo{ID: "resp_1"}})

	m.handleEvent(&wire.ServerEvent{
		Type:  wire.EventError,
		Error: &wire.ErrorInfo{Code: "response_cancel_not_active", Message: "Cancellation failed: no active response"},
	})

	if m.State() != StateListening {
		t.Errorf("state = %v, want listening", m.State())
	}
	if !m.session.CanSendAudio() {
		t.Error("outbound audio should be re-enabled")
	}
	if len(sink.statuses) != 0 {
		t.Errorf("benign cancel must stay silent, got %v", sink.statuses)
	}
}

func TestEndDuringPlaybackDrainStaysIdle(t *testing.T) {
	m, sink, _ := newTestManager(t)
	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseCreated, Response: &wire.ResponseInfo{ID: "resp_1"}})
	m.playback.Enqueue(make([]byte, 48000)) // ~1s of speech
	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseDone, Response: &wire.ResponseInfo{ID: "resp_1"}})

	// The user hangs up while the post-turn drain is still waiting.
	m.End()

	time.Sleep(400 * time.Millisecond)
	if m.State() != StateIdle {
		t.Errorf("state = %v, want idle after End", m.State())
	}
	if sink.lastState() != StateIdle {
		t.Errorf("last reported state = %v, want idle", sink.lastState())
	}
}

func TestStaleSpeechStoppedWhileSpeakingIgnored(t *testing.T) {
	m, sink, _ := newTestManager(t)
	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseCreated, Response: &wire.ResponseInfo{ID: "resp_1"}})
	m.handleEvent(&wire.ServerEvent{Type: wire.EventTextDelta, ResponseID: "resp_1", Delta: "Well, "})
	before := len(sink.messagesCopy())

	m.handleEvent(&wire.ServerEvent{Type: wire.EventSpeechStopped})

	if m.State() != StateSpeaking {
		t.Errorf("state = %v, a leftover speech-stopped must not disturb the turn", m.State())
	}
	if got := len(sink.messagesCopy()); got != before {
		t.Errorf("no new messages expected, got %d extra", got-before)
	}
}

func TestTypingPlaceholderFollowsTranscript(t *testing.T) {
	m, sink, _ := newTestManager(t)
	m.session.SetState(StateListening)

	m.handleEvent(&wire.ServerEvent{Type: wire.EventSpeechStopped})
	if len(sink.messagesCopy()) != 0 {
		t.Fatal("speech-stopped alone must not raise the placeholder")
	}

	m.handleEvent(&wire.ServerEvent{Type: wire.EventInputTranscriptDone, ItemID: "item_1", Transcript: "hello"})
	msgs := sink.messagesCopy()
	if len(msgs) != 2 {
		t.Fatalf("expected user message plus placeholder, got %d messages", len(msgs))
	}
	if msgs[0].Role != "user" || !msgs[1].IsTyping {
		t.Errorf("unexpected sequence: %+v", msgs)
	}
}

func TestTypingPlaceholderSkippedOnceAgentSpeaks(t *testing.T) {
	m, sink, _ := newTestManager(t)
	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseCreated, Response: &wire.ResponseInfo{ID: "resp_1"}})
	m.handleEvent(&wire.ServerEvent{Type: wire.EventTextDelta, ResponseID: "resp_1", Delta: "Sure, "})

	// Transcription lagged the response stream; the placeholder would only
	// flicker under the streaming text.
	m.handleEvent(&wire.ServerEvent{Type: wire.EventInputTranscriptDone, ItemID: "item_1", Transcript: "hello"})

	for _, msg := range sink.messagesCopy() {
		if msg.IsTyping {
			t.Fatal("no placeholder expected once agent text is streaming")
		}
	}
}

func TestRetryBudgetResetsOnNewSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.retried = true

	m.handleEvent(&wire.ServerEvent{Type: wire.EventSessionCreated})

	m.mu.Lock()
	retried := m.retried
	m.mu.Unlock()
	if retried {
		t.Error("an established session should re-arm the automatic reconnect")
	}
}

func TestInterruptSkipsCancelAfterResponseDone(t *testing.T) {
	m, _, sent := newTestManager(t)
	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseCreated, Response: &wire.ResponseInfo{ID: "resp_1"}})
	m.handleEvent(&wire.ServerEvent{Type: wire.EventTextDelta, ResponseID: "resp_1", Delta: "All done."})
	m.playback.Enqueue(make([]byte, 48000)) // tail still playing
	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseDone, Response: &wire.ResponseInfo{ID: "resp_1"}})
	cancelsBefore := sent.count("response.cancel")

	if !m.Interrupt("late tap", true) {
		t.Fatal("interrupt should succeed while the tail is playing")
	}

	if n := sent.count("response.cancel") - cancelsBefore; n != 0 {
		t.Errorf("a finalized response must not be canceled, got %d cancels", n)
	}
	if text, _ := m.session.AgentText(); text != "" {
		t.Errorf("accumulator should be cleared, got %q", text)
	}
	if m.State() != StateListening {
		t.Errorf("state = %v, want listening", m.State())
	}
}

func TestResponseDoneClearsInputBuffer(t *testing.T) {
	m, _, sent := newTestManager(t)
	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseCreated, Response: &wire.ResponseInfo{ID: "resp_1"}})
	m.playback.Enqueue(make([]byte, 48000)) // ~1s of speech
	clearsBefore := sent.count("input_audio_buffer.clear")

	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseDone, Response: &wire.ResponseInfo{ID: "resp_1"}})

	if n := sent.count("input_audio_buffer.clear") - clearsBefore; n != 1 {
		t.Errorf("completion should clear the stale input buffer, got %d clears", n)
	}
	// Listening resumes only after the queued speech drains.
	if m.State() == StateListening {
		t.Error("must not return to listening while speech is still queued")
	}
}

func TestFullTurnSequence(t *testing.T) {
	m, sink, _ := newTestManager(t)

	m.handleEvent(&wire.ServerEvent{Type: wire.EventSessionCreated})
	m.handleEvent(&wire.ServerEvent{Type: wire.EventSpeechStarted})
	m.handleEvent(&wire.ServerEvent{Type: wire.EventSpeechStopped})
	m.handleEvent(&wire.ServerEvent{Type: wire.EventInputTranscriptDone, ItemID: "item_1", Transcript: "what time is it"})
	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseCreated, Response: &wire.ResponseInfo{ID: "resp_1"}})
	m.handleEvent(&wire.ServerEvent{Type: wire.EventTextDelta, ResponseID: "resp_1", Delta: "It is "})
	m.handleEvent(&wire.ServerEvent{Type: wire.EventTextDelta, ResponseID: "resp_1", Delta: "noon."})
	m.handleEvent(&wire.ServerEvent{Type: wire.EventAudioDelta, ResponseID: "resp_1", Delta: audio.EncodeFrame(make([]byte, 960))})
	m.handleEvent(&wire.ServerEvent{Type: wire.EventResponseDone, Response: &wire.ResponseInfo{ID: "resp_1"}})

	waitFor(t, 3*time.Second, func() bool { return sink.lastState() == StateListening },
		"session should return to listening after playback drains")

	msgs := sink.messagesCopy()
	var sawTyping, sawUser, sawStreaming, sawFinal bool
	for _, msg := range msgs {
		switch {
		case msg.IsTyping:
			sawTyping = true
		case msg.Role == "user":
			sawUser = true
		case msg.IsStreaming:
			sawStreaming = true
		case msg.Role == "agent" && msg.Text == "It is noon.":
			sawFinal = true
		}
	}
	if !sawTyping || !sawUser || !sawStreaming || !sawFinal {
		t.Errorf("incomplete message sequence: typing=%v user=%v streaming=%v final=%v",
			sawTyping, sawUser, sawStreaming, sawFinal)
	}
	if sink.clears == 0 {
		t.Error("typing placeholder should have been cleared")
	}
}

func TestDisconnectNormalClosureTearsDown(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.session.SetState(StateListening)

	m.handleDisconnect(m.connGen, &websocket.CloseError{Code: websocket.CloseNormalClosure})

	if m.State() != StateIdle {
		t.Errorf("state = %v, want idle after server close", m.State())
	}
}

func TestDisconnectStaleGenerationIgnored(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.session.SetState(StateListening)

	m.handleDisconnect(m.connGen-1, errors.New("old socket died"))

	if m.State() != StateListening {
		t.Error("a stale socket's disconnect must not disturb the session")
	}
}

func TestDisconnectTerminalAfterRetry(t *testing.T) {
	m, sink, _ := newTestManager(t)
	m.session.SetState(StateListening)
	m.retried = true

	m.handleDisconnect(m.connGen, errors.New("abnormal close"))

	if m.State() != StateIdle {
		t.Errorf("state = %v, want idle after retry budget exhausted", m.State())
	}
	if len(sink.statuses) != 1 {
		t.Errorf("terminal failure should surface one status, got %d", len(sink.statuses))
	}
}

func TestEndIsIdempotent(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.End()
	m.End()
	if !m.session.Ended() {
		t.Error("session should be marked ended")
	}
	if err := m.Connect(context.Background()); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("Connect after End = %v, want ErrSessionEnded", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	m, _, _ := newTestManager(t)

	r.Put(m)
	if r.Get(m.SessionID()) != m {
		t.Error("registered manager should be retrievable")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	r.Remove(m.SessionID())
	if r.Get(m.SessionID()) != nil {
		t.Error("removed manager should be gone")
	}
}
