package voice

// Message is a chat entry emitted to the widget's message list.
type Message struct {
	// Role is "user" or "agent".
	Role string `json:"role"`

	Text string `json:"text"`

	// IsVoice marks messages that originated from speech.
	IsVoice bool `json:"isVoice"`

	// IsTyping marks the placeholder shown while the agent thinks.
	IsTyping bool `json:"isTyping"`

	// IsStreaming marks an in-progress utterance replacing the
	// placeholder; each update carries the full text so far.
	IsStreaming bool `json:"isStreaming"`

	// Truncated marks an utterance cut short by an interruption.
	Truncated bool `json:"truncated,omitempty"`
}

// EventSink receives UI events for the excluded chat-display layer. The
// widget bridge implements this over its socket; tests use a recorder.
//
// Implementations must be idempotent where noted: the session layer signals
// conditions, it does not manage render timing.
type EventSink interface {
	// AddMessage appends or replaces a chat entry.
	AddMessage(msg Message)

	// ClearTyping retracts the typing placeholder. Idempotent.
	ClearTyping()

	// ShowChat opens the chat panel. Fired at most once per session.
	ShowChat()

	// RequestClose asks the shell to close the widget.
	RequestClose()

	// StateChanged publishes a conversation state transition.
	StateChanged(s State)

	// Status shows a short status string in place of the normal
	// listening/speaking indicator; empty clears it.
	Status(text string)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) AddMessage(Message) {}
func (NopSink) ClearTyping()       {}
func (NopSink) ShowChat()          {}
func (NopSink) RequestClose()      {}
func (NopSink) StateChanged(State) {}
func (NopSink) Status(string)      {}

var _ EventSink = NopSink{}
