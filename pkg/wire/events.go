// Package wire defines the streaming protocol spoken with the speech backend:
// the client events sent over the session socket and the server events
// received on it. Shapes follow the realtime speech-to-speech API.
package wire

import (
	"encoding/json"
	"fmt"
)

// EventType identifies an inbound server event.
type EventType string

const (
	// Session lifecycle
	EventSessionCreated EventType = "session.created"
	EventSessionUpdated EventType = "session.updated"

	// Input buffer / voice activity
	EventSpeechStarted  EventType = "input_audio_buffer.speech_started"
	EventSpeechStopped  EventType = "input_audio_buffer.speech_stopped"
	EventInputCommitted EventType = "input_audio_buffer.committed"

	// Conversation items
	EventItemCreated         EventType = "conversation.item.created"
	EventInputTranscriptDone EventType = "conversation.item.input_audio_transcription.completed"

	// Response streaming
	EventResponseCreated EventType = "response.created"
	EventTextDelta       EventType = "response.audio_transcript.delta"
	EventTextDone        EventType = "response.audio_transcript.done"
	EventAudioDelta      EventType = "response.audio.delta"
	EventAudioDone       EventType = "response.audio.done"
	EventFuncArgsDelta   EventType = "response.function_call_arguments.delta"
	EventFuncArgsDone    EventType = "response.function_call_arguments.done"
	EventResponseDone    EventType = "response.done"

	EventError EventType = "error"
)

// ServerEvent is the decoded form of one inbound message. Fields are a union
// across event types; only those relevant to the Type are populated.
type ServerEvent struct {
	Type    EventType `json:"type"`
	EventID string    `json:"event_id,omitempty"`

	// Identity of the item/response the event belongs to.
	ItemID     string `json:"item_id,omitempty"`
	ResponseID string `json:"response_id,omitempty"`

	// Streaming payloads.
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`

	// Function call fields (function_call_arguments.*).
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// Envelope for response.created / response.done.
	Response *ResponseInfo `json:"response,omitempty"`

	// Envelope for error events.
	Error *ErrorInfo `json:"error,omitempty"`
}

// ResponseInfo carries the response identity and terminal status.
type ResponseInfo struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

// ErrorInfo is a server-reported error.
type ErrorInfo struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ParseServerEvent decodes one inbound message.
func ParseServerEvent(data []byte) (*ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("wire: parse server event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("wire: server event missing type")
	}
	return &ev, nil
}

// ResponseIdentity returns the response id the event refers to, whether it
// was delivered flat or inside the response envelope. Empty when the event
// carries no response identity.
func (e *ServerEvent) ResponseIdentity() string {
	if e.ResponseID != "" {
		return e.ResponseID
	}
	if e.Response != nil {
		return e.Response.ID
	}
	return ""
}
