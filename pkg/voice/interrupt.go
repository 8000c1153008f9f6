package voice

import (
	"time"

	"github.com/avocetlabs/voicewidget/pkg/wire"
)

// Interrupt cuts the agent off mid-utterance: local playback stops at once,
// the partial transcript is committed to history as truncated, and the
// upstream response is canceled best-effort. keepInputBuffer preserves the
// user's buffered speech, which is what barge-in wants; explicit UI stops
// clear it.
//
// Returns false when the call is debounced or there is nothing to interrupt.
// The local reset to listening is synchronous and unconditional on success;
// upstream send failures never leave the session wedged.
func (m *Manager) Interrupt(reason string, keepInputBuffer bool) bool {
	if !m.session.TryBeginInterrupt(time.Now(), m.cfg.InterruptDebounce) {
		return false
	}

	responseID := m.session.CurrentResponseID()
	m.logger.Info("interrupting agent", "reason", reason, "response_id", responseID)

	// Gate audio off first so no stale frames race the cancel.
	m.session.SetCanSendAudio(false)

	// Local silence is immediate and unconditional.
	m.playback.Interrupt()

	// Whatever the agent said so far goes to history exactly once, marked
	// truncated. A later response.done for this turn must not re-commit.
	if text, saved := m.session.AgentText(); text != "" && !saved {
		if m.session.MarkAgentTextSaved() {
			m.sink.AddMessage(Message{
				Role:      "agent",
				Text:      text,
				IsVoice:   true,
				Truncated: true,
			})
		}
	}
	m.sink.ClearTyping()

	// Upstream cancellation is best-effort and only for a response that is
	// still in flight; a finalized one has nothing left to cancel.
	if responseID != "" && !m.session.ResponseDone() {
		m.trySend(wire.CancelResponse(responseID))
	}
	if !keepInputBuffer {
		m.trySend(wire.ClearInputBuffer())
	}

	m.session.ClearAgentText()
	m.session.ResetTurn()
	m.setState(StateListening)

	// Re-arm server turn detection after the cancel settles so the next
	// utterance is segmented cleanly.
	td := m.cfg.TurnDetection
	delay := m.cfg.TurnResetDelay
	go func() {
		time.Sleep(delay)
		m.trySend(wire.UpdateTurnDetection(td))
	}()

	return true
}
