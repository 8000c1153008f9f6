package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/gofiber/websocket/v2"

	"github.com/avocetlabs/voicewidget/pkg/audio"
	"github.com/avocetlabs/voicewidget/pkg/hub"
	"github.com/avocetlabs/voicewidget/pkg/voice"
)

// envelope is the JSON frame sent down the widget socket. Agent speech
// travels separately as binary PCM16 frames.
type envelope struct {
	Type    string         `json:"type"`
	Message *voice.Message `json:"message,omitempty"`
	State   string         `json:"state,omitempty"`
	Text    string         `json:"text,omitempty"`
	Bars    []int          `json:"bars,omitempty"`
}

// control is the JSON frame the widget sends up.
type control struct {
	// Type is start, stop, end, or mic_error.
	Type string `json:"type"`

	// Code qualifies mic_error: permission or no_device.
	Code string `json:"code,omitempty"`
}

// sessionBridge adapts one voice session to the widget socket: it is the
// session's EventSink and audio Sink on the way down, and the hub's Inbound
// handler on the way up.
type sessionBridge struct {
	hub     *hub.Hub
	manager *voice.Manager
	logger  *slog.Logger

	mu     sync.Mutex
	levels [audio.LevelBands]float64
}

// attach binds a widget connection and blocks until it closes.
func (b *sessionBridge) attach(c *websocket.Conn) {
	// New views need the current state to render the right indicator.
	b.publish(envelope{Type: "state", State: b.manager.State().String()})
	client := hub.NewClient(b.hub, c, b)
	client.Run()
}

func (b *sessionBridge) close() {
	b.manager.Close()
	b.hub.Stop()
}

func (b *sessionBridge) publish(env envelope) {
	if err := b.hub.BroadcastJSON(env); err != nil {
		b.logger.Warn("envelope encode failed", "error", err)
	}
}

// OnBinary receives one microphone frame: it feeds the session and drives
// the level animation.
func (b *sessionBridge) OnBinary(pcm []byte) {
	if err := b.manager.PushAudio(pcm); err != nil {
		b.logger.Debug("audio push failed", "error", err)
	}

	listening := b.manager.State() == voice.StateListening
	samples := audio.BytesToSamples(pcm)

	b.mu.Lock()
	b.levels = audio.Levels(samples, b.levels, listening)
	bars := make([]int, audio.LevelBands)
	for i, v := range b.levels {
		bars[i] = int(v + 0.5)
	}
	b.mu.Unlock()

	b.publish(envelope{Type: "levels", Bars: bars})
}

// OnText receives one control frame.
func (b *sessionBridge) OnText(data []byte) {
	var ctl control
	if err := json.Unmarshal(data, &ctl); err != nil {
		b.logger.Warn("malformed control frame", "error", err)
		return
	}

	switch ctl.Type {
	case "start":
		go b.startVoice()
	case "stop":
		// The stop button discards buffered speech; nothing the user
		// said before stopping should produce a reply.
		b.manager.Interrupt("stop button", false)
	case "end":
		b.manager.End()
	case "mic_error":
		b.manager.ReportCaptureError(captureError(ctl.Code))
	default:
		b.logger.Debug("unknown control frame", "type", ctl.Type)
	}
}

func (b *sessionBridge) startVoice() {
	if err := b.manager.Connect(context.Background()); err != nil {
		if errors.Is(err, voice.ErrAlreadyConnected) {
			return
		}
		b.logger.Error("voice connect failed", "error", err)
		b.Status("Could not start voice. Try again in a moment.")
		return
	}
	if err := b.manager.StartCapture(); err != nil && !errors.Is(err, audio.ErrAlreadyStarted) {
		b.manager.ReportCaptureError(err)
	}
}

func captureError(code string) error {
	switch code {
	case "permission":
		return audio.ErrPermissionDenied
	case "no_device":
		return audio.ErrNoDevice
	default:
		return errors.New("audio: capture failed")
	}
}

// EventSink implementation: session events fan out to every attached view.

func (b *sessionBridge) AddMessage(msg voice.Message) {
	b.publish(envelope{Type: "message", Message: &msg})
}

func (b *sessionBridge) ClearTyping() {
	b.publish(envelope{Type: "clear_typing"})
}

func (b *sessionBridge) ShowChat() {
	b.publish(envelope{Type: "show_chat"})
}

func (b *sessionBridge) RequestClose() {
	b.publish(envelope{Type: "request_close"})
}

func (b *sessionBridge) StateChanged(s voice.State) {
	b.publish(envelope{Type: "state", State: s.String()})
}

func (b *sessionBridge) Status(text string) {
	b.publish(envelope{Type: "status", Text: text})
}

// audio.Sink implementation: agent speech goes down as binary frames.

func (b *sessionBridge) Play(chunk []byte) error {
	b.hub.BroadcastBinary(chunk)
	return nil
}

func (b *sessionBridge) Flush() error {
	b.publish(envelope{Type: "flush_audio"})
	return nil
}

var (
	_ voice.EventSink = (*sessionBridge)(nil)
	_ audio.Sink      = (*sessionBridge)(nil)
	_ hub.Inbound     = (*sessionBridge)(nil)
)
