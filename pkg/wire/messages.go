package wire

// Client events sent over the session socket. Each constructor returns a
// value ready for WriteJSON.

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// ToolDecl declares a callable function to the backend.
type ToolDecl struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Transcription selects the model used to transcribe user speech.
type Transcription struct {
	Model string `json:"model"`
}

// SessionConfig is the session.update payload.
type SessionConfig struct {
	Modalities        []string       `json:"modalities"`
	Instructions      string         `json:"instructions"`
	Voice             string         `json:"voice,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format"`
	OutputAudioFormat string         `json:"output_audio_format"`
	Transcription     *Transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection     *TurnDetection `json:"turn_detection,omitempty"`
	Tools             []ToolDecl     `json:"tools,omitempty"`
	ToolChoice        string         `json:"tool_choice,omitempty"`
}

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// SessionUpdate builds the configure-session message.
func SessionUpdate(cfg SessionConfig) any {
	return sessionUpdate{Type: "session.update", Session: cfg}
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// AppendAudio builds an input-audio frame message. The payload must already
// be base64-encoded PCM16.
func AppendAudio(b64 string) any {
	return audioAppend{Type: "input_audio_buffer.append", Audio: b64}
}

type bare struct {
	Type string `json:"type"`
}

// ClearInputBuffer builds the clear-input-buffer message.
func ClearInputBuffer() any {
	return bare{Type: "input_audio_buffer.clear"}
}

// CreateResponse asks the backend to start generating a response.
func CreateResponse() any {
	return bare{Type: "response.create"}
}

type responseCancel struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
}

// CancelResponse builds the cancel message for an in-flight response.
func CancelResponse(responseID string) any {
	return responseCancel{Type: "response.cancel", ResponseID: responseID}
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []contentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

type itemCreate struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

// CreateTextItem builds a conversation item carrying plain text.
// Role is "user" or "system".
func CreateTextItem(role, text string) any {
	partType := "input_text"
	return itemCreate{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    role,
			Content: []contentPart{{Type: partType, Text: text}},
		},
	}
}

// FunctionOutput builds the function-call result item.
func FunctionOutput(callID, output string) any {
	return itemCreate{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}
}

type turnDetectionUpdate struct {
	Type    string `json:"type"`
	Session struct {
		TurnDetection *TurnDetection `json:"turn_detection"`
	} `json:"session"`
}

// UpdateTurnDetection builds a session.update that only resets the
// turn-detection parameters. Sent after a cancel so new speech is detected
// cleanly.
func UpdateTurnDetection(td TurnDetection) any {
	msg := turnDetectionUpdate{Type: "session.update"}
	msg.Session.TurnDetection = &td
	return msg
}
