package voice

import (
	"errors"
	"fmt"
	"strings"

	"github.com/avocetlabs/voicewidget/pkg/wire"
)

// Sentinel errors for the voice package.
var (
	// ErrNotConnected indicates the session socket is not open.
	ErrNotConnected = errors.New("voice: not connected")

	// ErrAlreadyConnected indicates a connect attempt while open.
	ErrAlreadyConnected = errors.New("voice: already connected")

	// ErrSessionEnded indicates the user has ended the session.
	ErrSessionEnded = errors.New("voice: session ended")
)

// ConnectionError represents a handshake or transport failure.
type ConnectionError struct {
	// Reason describes what failed.
	Reason string

	// Cause is the underlying error.
	Cause error

	// Terminal indicates the automatic retry budget is exhausted and the
	// user must explicitly reset.
	Terminal bool
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("voice: connection error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("voice: connection error: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error { return e.Cause }

// ProtocolError is a genuine server-reported error.
type ProtocolError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("voice: protocol error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("voice: protocol error: %s", e.Message)
}

// IsBenignCancel reports whether a server error event is the harmless
// cancel-after-done race: canceling a response that already completed, or
// clearing a buffer with nothing in it. These are reconciled silently and
// never shown to the user.
//
// The upstream protocol only gives free-text messages for some of these, so
// the string matching is isolated here rather than scattered across
// handlers.
func IsBenignCancel(info *wire.ErrorInfo) bool {
	if info == nil {
		return false
	}
	switch info.Code {
	case "response_cancel_not_active", "item_truncate_not_active", "input_audio_buffer_commit_empty":
		return true
	}
	msg := strings.ToLower(info.Message)
	for _, phrase := range []string{
		"no active response",
		"cancellation failed",
		"already completed",
		"not active",
		"buffer is empty",
	} {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
