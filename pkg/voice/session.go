// Package voice implements the real-time voice session manager: the
// streaming connection to the speech backend, the server-driven conversation
// state machine, audio multiplexing, and barge-in.
package voice

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the conversation state visible to the widget.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateListening
	StateProcessing
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Session is the shared mutable state for one voice conversation. It is
// created when the user activates voice mode, survives incidental
// reconnects (the socket is replaced but flags like hasGreeted persist),
// and is discarded only when the user ends the session.
//
// Every mutation goes through an accessor holding the session mutex. The
// state field is only written by the event interpreter and the interrupt
// controller; other components read it.
type Session struct {
	ID string

	mu sync.Mutex

	state State

	// Identity of the in-flight agent turn, empty when none. Events
	// carrying any other response id are stale and must be dropped.
	currentResponseID string

	// High-water marks rejecting duplicate redelivery.
	lastResponseID string
	lastItemID     string

	// Accumulator for the agent's in-progress utterance, and the guard
	// against committing it to history twice (once by the interruption
	// path, once by normal completion).
	agentText      string
	agentTextSaved bool

	processing   bool
	responseDone bool
	canSendAudio bool

	hasGreeted bool
	chatShown  bool
	ended      bool

	lastInterrupt time.Time
}

// NewSession creates a fresh session context.
func NewSession() *Session {
	return &Session{
		ID:    uuid.NewString(),
		state: StateIdle,
	}
}

// State returns the current conversation state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the conversation state.
func (s *Session) SetState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// CurrentResponseID returns the active turn's response id, if any.
func (s *Session) CurrentResponseID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentResponseID
}

// BeginTurn records a new active response. Returns false when the id is a
// duplicate of the active or last finalized response, in which case nothing
// changes.
func (s *Session) BeginTurn(responseID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if responseID == "" || responseID == s.currentResponseID || responseID == s.lastResponseID {
		return false
	}
	s.currentResponseID = responseID
	s.processing = true
	s.responseDone = false
	s.agentText = ""
	s.agentTextSaved = false
	s.canSendAudio = false
	return true
}

// MatchesTurn reports whether an event's response id belongs to the active
// turn.
func (s *Session) MatchesTurn(responseID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return responseID != "" && responseID == s.currentResponseID
}

// FinishTurn marks the active response finalized and records it as the
// high-water mark. Returns false when the id does not match the active
// turn.
func (s *Session) FinishTurn(responseID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if responseID == "" || responseID != s.currentResponseID {
		return false
	}
	s.responseDone = true
	s.lastResponseID = responseID
	return true
}

// ResetTurn clears all per-turn bookkeeping and re-enables outbound audio.
// Used by the interrupt controller and by post-completion settling.
func (s *Session) ResetTurn() {
	s.mu.Lock()
	s.currentResponseID = ""
	s.processing = false
	s.responseDone = false
	s.canSendAudio = true
	s.mu.Unlock()
}

// ResponseDone reports whether the active response has been finalized.
func (s *Session) ResponseDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responseDone
}

// Processing reports whether a turn is being generated.
func (s *Session) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// SetProcessing sets the processing flag.
func (s *Session) SetProcessing(v bool) {
	s.mu.Lock()
	s.processing = v
	s.mu.Unlock()
}

// CanSendAudio reports whether outbound audio transmission is permitted.
func (s *Session) CanSendAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canSendAudio
}

// SetCanSendAudio sets the outbound audio gate.
func (s *Session) SetCanSendAudio(v bool) {
	s.mu.Lock()
	s.canSendAudio = v
	s.mu.Unlock()
}

// AppendAgentText appends a delta to the per-turn accumulator and returns
// the full text so far plus whether this was the first delta of the turn.
func (s *Session) AppendAgentText(delta string) (full string, first bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	first = s.agentText == ""
	s.agentText += delta
	return s.agentText, first
}

// AgentText returns the accumulated utterance and whether it has already
// been committed to history.
func (s *Session) AgentText() (text string, saved bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentText, s.agentTextSaved
}

// MarkAgentTextSaved flags the accumulated utterance as committed. Returns
// false if it was already saved, so callers never commit twice.
func (s *Session) MarkAgentTextSaved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agentTextSaved {
		return false
	}
	s.agentTextSaved = true
	return true
}

// ClearAgentText resets the per-turn accumulator.
func (s *Session) ClearAgentText() {
	s.mu.Lock()
	s.agentText = ""
	s.agentTextSaved = false
	s.mu.Unlock()
}

// MarkItemProcessed records a transcript item id. Returns false when the
// item was already processed (duplicate redelivery).
func (s *Session) MarkItemProcessed(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if itemID == "" || itemID == s.lastItemID {
		return false
	}
	s.lastItemID = itemID
	return true
}

// MarkGreeted records that the conversation's greeting went out. Returns
// false if it already had; a logical conversation greets at most once, and
// reconnects must not re-greet.
func (s *Session) MarkGreeted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasGreeted {
		return false
	}
	s.hasGreeted = true
	return true
}

// MarkChatShown records that the show-chat callback fired. Returns false if
// it already had.
func (s *Session) MarkChatShown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chatShown {
		return false
	}
	s.chatShown = true
	return true
}

// TryBeginInterrupt atomically checks the debounce window and the
// interruptible condition, recording the interrupt timestamp on success.
// Returns false when the call arrives within the debounce window of the
// previous successful interrupt, or when there is nothing to interrupt.
func (s *Session) TryBeginInterrupt(now time.Time, debounce time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastInterrupt) < debounce {
		return false
	}
	if s.state != StateSpeaking && !s.processing {
		return false
	}
	s.lastInterrupt = now
	return true
}

// LastInterrupt returns when the previous successful interrupt happened.
func (s *Session) LastInterrupt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInterrupt
}

// End marks the session as ended by the user.
func (s *Session) End() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
}

// Ended reports whether the user has ended the session.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}
