package voice

import (
	"context"
	"strings"
	"time"

	"github.com/avocetlabs/voicewidget/pkg/audio"
	"github.com/avocetlabs/voicewidget/pkg/wire"
)

// handleEvent is the server-event interpreter: one switch that drives the
// conversation state machine. It runs on the read loop goroutine; anything
// slow (tool execution, silence waits) is handed off.
func (m *Manager) handleEvent(ev *wire.ServerEvent) {
	switch ev.Type {
	case wire.EventSessionCreated:
		m.configure()
		m.session.ResetTurn()
		// The retry budget is per connection: an established session
		// re-arms the single automatic reconnect.
		m.mu.Lock()
		m.retried = false
		m.mu.Unlock()
		if m.session.MarkChatShown() {
			m.sink.ShowChat()
		}
		m.setState(StateListening)

	case wire.EventSessionUpdated:
		m.logger.Debug("session configuration acknowledged")

	case wire.EventSpeechStarted:
		m.handleSpeechStarted()

	case wire.EventSpeechStopped:
		m.handleSpeechStopped()

	case wire.EventInputCommitted:
		m.logger.Debug("input buffer committed", "item_id", ev.ItemID)

	case wire.EventItemCreated:
		// History items surface via their transcription events.

	case wire.EventInputTranscriptDone:
		m.handleUserTranscript(ev)

	case wire.EventResponseCreated:
		m.handleResponseCreated(ev)

	case wire.EventTextDelta:
		m.handleTextDelta(ev)

	case wire.EventTextDone:
		m.handleTextDone(ev)

	case wire.EventAudioDelta:
		m.handleAudioDelta(ev)

	case wire.EventAudioDone:
		m.logger.Debug("audio stream complete", "response_id", ev.ResponseIdentity())

	case wire.EventFuncArgsDelta:
		m.handleFuncArgsDelta(ev)

	case wire.EventFuncArgsDone:
		m.handleFuncArgsDone(ev)

	case wire.EventResponseDone:
		m.handleResponseDone(ev)

	case wire.EventError:
		m.handleServerError(ev)

	default:
		m.logger.Debug("unhandled server event", "type", string(ev.Type))
	}
}

// handleSpeechStarted fires when server VAD detects the user talking. If the
// agent is mid-turn this is barge-in; otherwise it is just the start of a
// normal utterance.
func (m *Manager) handleSpeechStarted() {
	if m.session.State() == StateSpeaking || m.session.Processing() {
		m.Interrupt("user spoke", true)
		return
	}
	m.logger.Debug("user speech started")
}

// handleSpeechStopped marks the turn handoff: the user finished, the agent is
// about to think. A speech-stopped arriving while a response is already being
// generated is a stale leftover and must not disturb the turn.
func (m *Manager) handleSpeechStopped() {
	if m.session.Processing() {
		m.logger.Debug("stale speech-stopped ignored")
		return
	}
	m.session.SetProcessing(true)
	m.setState(StateProcessing)
}

// handleUserTranscript commits the user's transcribed utterance to history,
// deduplicating redelivered items, and raises the typing placeholder while
// the answer is still pending.
func (m *Manager) handleUserTranscript(ev *wire.ServerEvent) {
	text := strings.TrimSpace(ev.Transcript)
	if text == "" {
		return
	}
	if !m.session.MarkItemProcessed(ev.ItemID) {
		m.logger.Debug("duplicate transcript dropped", "item_id", ev.ItemID)
		return
	}
	if m.session.MarkChatShown() {
		m.sink.ShowChat()
	}
	m.sink.AddMessage(Message{Role: "user", Text: text, IsVoice: true})

	// Transcription often lags the response stream; the placeholder only
	// makes sense while nothing has been spoken yet.
	if agentText, _ := m.session.AgentText(); agentText == "" && m.session.State() == StateProcessing {
		m.sink.AddMessage(Message{Role: "agent", IsTyping: true})
	}
}

// handleResponseCreated opens a new agent turn. Duplicate ids (the active
// turn or the last finalized one redelivered) change nothing.
func (m *Manager) handleResponseCreated(ev *wire.ServerEvent) {
	id := ev.ResponseIdentity()
	if !m.session.BeginTurn(id) {
		m.logger.Debug("duplicate response.created dropped", "response_id", id)
		return
	}
	// The buffer that produced this response is consumed; anything left in
	// it is stale and must not leak into the next turn.
	m.trySend(wire.ClearInputBuffer())
	m.setState(StateProcessing)
}

// matchesActiveTurn accepts events for the current response. Events carrying
// a different id are stale leftovers from a canceled turn; events with no id
// at all are attributed to the active turn if one exists.
func (m *Manager) matchesActiveTurn(ev *wire.ServerEvent) bool {
	id := ev.ResponseIdentity()
	if id == "" {
		return m.session.CurrentResponseID() != ""
	}
	return m.session.MatchesTurn(id)
}

func (m *Manager) handleTextDelta(ev *wire.ServerEvent) {
	if !m.matchesActiveTurn(ev) {
		m.logger.Debug("stale text delta dropped", "response_id", ev.ResponseIdentity())
		return
	}
	full, first := m.session.AppendAgentText(ev.Delta)
	if first {
		m.sink.ClearTyping()
		m.setState(StateSpeaking)
		if m.session.MarkChatShown() {
			m.sink.ShowChat()
		}
	}
	m.sink.AddMessage(Message{Role: "agent", Text: full, IsVoice: true, IsStreaming: true})
}

// handleTextDone commits the finished utterance. The saved flag makes the
// commit race-free against both the interrupt path and response.done.
func (m *Manager) handleTextDone(ev *wire.ServerEvent) {
	if !m.matchesActiveTurn(ev) {
		m.logger.Debug("stale transcript completion dropped", "response_id", ev.ResponseIdentity())
		return
	}
	m.sink.ClearTyping()
	if text, saved := m.session.AgentText(); text != "" && !saved {
		if m.session.MarkAgentTextSaved() {
			m.sink.AddMessage(Message{Role: "agent", Text: text, IsVoice: true})
		}
	}
}

func (m *Manager) handleAudioDelta(ev *wire.ServerEvent) {
	if !m.matchesActiveTurn(ev) {
		m.logger.Debug("stale audio delta dropped", "response_id", ev.ResponseIdentity())
		return
	}
	chunk, err := audio.DecodeFrame(ev.Delta)
	if err != nil {
		m.logger.Warn("undecodable audio delta", "error", err)
		return
	}
	m.playback.Enqueue(chunk)
	if m.session.State() != StateSpeaking {
		m.setState(StateSpeaking)
	}
}

func (m *Manager) handleFuncArgsDelta(ev *wire.ServerEvent) {
	if ev.CallID == "" {
		return
	}
	acc, ok := m.calls[ev.CallID]
	if !ok {
		acc = &callAccum{}
		m.calls[ev.CallID] = acc
	}
	if ev.Name != "" {
		acc.name = ev.Name
	}
	acc.args += ev.Delta
}

// handleFuncArgsDone executes the completed function call off the read loop
// and feeds the output back so the agent can finish its answer.
func (m *Manager) handleFuncArgsDone(ev *wire.ServerEvent) {
	name, args := ev.Name, ev.Arguments
	if acc, ok := m.calls[ev.CallID]; ok {
		if name == "" {
			name = acc.name
		}
		if args == "" {
			args = acc.args
		}
		delete(m.calls, ev.CallID)
	}
	if m.executor == nil {
		m.logger.Warn("function call with no executor", "tool", name)
		return
	}

	callID := ev.CallID
	m.sink.Status("Looking that up...")
	go func() {
		result := m.executor.Execute(context.Background(), name, args)
		m.sink.Status("")
		m.trySend(wire.FunctionOutput(callID, result.Output()))
		m.trySend(wire.CreateResponse())
	}()
}

// handleResponseDone finalizes the active turn: the full utterance is
// committed to history (unless an interrupt already committed a truncated
// version) and, once playback drains, the session returns to listening.
func (m *Manager) handleResponseDone(ev *wire.ServerEvent) {
	id := ev.ResponseIdentity()
	if !m.session.FinishTurn(id) {
		m.logger.Debug("stale response.done dropped", "response_id", id)
		return
	}
	m.sink.ClearTyping()

	if text, saved := m.session.AgentText(); text != "" && !saved {
		if m.session.MarkAgentTextSaved() {
			m.sink.AddMessage(Message{Role: "agent", Text: text, IsVoice: true})
		}
	}

	// Anything still in the server buffer predates this answer.
	m.trySend(wire.ClearInputBuffer())

	// Listening resumes only after the queued speech has actually been
	// heard plus a short settle. An interrupt in the meantime wins (its
	// reset already ran), and a session the user has ended stays idle.
	settle := m.cfg.SettleDelay
	go func() {
		if err := m.playback.WaitUntilSilent(context.Background()); err != nil {
			return
		}
		time.Sleep(settle)
		if m.session.Ended() || !m.session.MatchesTurn(id) {
			return
		}
		m.session.ResetTurn()
		m.setState(StateListening)
	}()
}

// handleServerError separates the harmless cancel-after-done race from real
// protocol failures. Either way any in-flight turn is reconciled as if the
// response had completed: the bookkeeping is abandoned and outbound audio
// re-enabled, so an error can never leave the session wedged in processing.
// Only real errors surface to the user.
func (m *Manager) handleServerError(ev *wire.ServerEvent) {
	hadTurn := m.session.CurrentResponseID() != "" || m.session.Processing()
	m.session.ClearAgentText()
	m.session.ResetTurn()
	if hadTurn && !m.session.Ended() && m.session.State() != StateIdle {
		m.setState(StateListening)
	}

	if IsBenignCancel(ev.Error) {
		m.logger.Debug("benign cancel race", "code", errCode(ev.Error))
		return
	}
	perr := &ProtocolError{Code: errCode(ev.Error), Message: errMessage(ev.Error)}
	m.logger.Error("server error", "code", perr.Code, "message", perr.Message)
	m.sink.ClearTyping()
	m.sink.Status("Something went wrong. Still listening.")
}

func errCode(info *wire.ErrorInfo) string {
	if info == nil {
		return ""
	}
	return info.Code
}

func errMessage(info *wire.ErrorInfo) string {
	if info == nil {
		return ""
	}
	return info.Message
}
