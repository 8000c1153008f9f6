package voice

import (
	"log/slog"
	"time"

	"github.com/avocetlabs/voicewidget/pkg/wire"
)

// Tuning defaults. The turn-detection values are empirical for the upstream
// speech model; they are configuration, not invariants.
const (
	DefaultVADThreshold      = 0.6
	DefaultPrefixPaddingMs   = 300
	DefaultSilenceDurationMs = 600

	DefaultInterruptDebounce = 500 * time.Millisecond
	DefaultSettleDelay       = 300 * time.Millisecond
	DefaultTurnResetDelay    = 250 * time.Millisecond
	DefaultReconnectDelay    = 1500 * time.Millisecond
	DefaultInterruptWindow   = 3 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second

	// DefaultInputSampleRate matches the wire format; widgets running at
	// other rates are resampled on ingest.
	DefaultInputSampleRate = 24000
)

// Config holds all tunable parameters for a voice session.
type Config struct {
	// UpstreamURL is the speech backend WebSocket endpoint.
	UpstreamURL string

	// Model is the speech-to-speech model to request.
	Model string

	// Instructions is the agent's system instruction.
	Instructions string

	// Voice is the synthesis voice name.
	Voice string

	// Greeting is the synthetic user turn injected once per conversation
	// so the agent speaks first. Reconnects never re-greet.
	Greeting string

	// TranscriptionModel transcribes user speech for the chat history.
	TranscriptionModel string

	// InputSampleRate is the widget microphone rate in Hz.
	InputSampleRate int

	// TurnDetection configures server-side voice activity detection.
	TurnDetection wire.TurnDetection

	// InterruptDebounce is the minimum gap between accepted interrupts.
	InterruptDebounce time.Duration

	// SettleDelay spaces protocol sends that must sequence after one
	// another, like the greeting after session configuration.
	SettleDelay time.Duration

	// TurnResetDelay is the pause between a cancel and the turn-detection
	// reset that re-arms the server VAD.
	TurnResetDelay time.Duration

	// ReconnectDelay is the pause before the automatic reconnect.
	ReconnectDelay time.Duration

	// InterruptWindow is how long after an interrupt an abnormal socket
	// close is still attributed to the cancellation and handled silently.
	InterruptWindow time.Duration

	// HandshakeTimeout bounds the WebSocket dial.
	HandshakeTimeout time.Duration

	// Logger is the structured logger for the session.
	Logger *slog.Logger
}

// DefaultConfig returns a Config populated with production defaults.
func DefaultConfig() *Config {
	return &Config{
		TranscriptionModel: "whisper-1",
		Greeting:           "Hello!",
		InputSampleRate:    DefaultInputSampleRate,
		TurnDetection: wire.TurnDetection{
			Type:              "server_vad",
			Threshold:         DefaultVADThreshold,
			PrefixPaddingMs:   DefaultPrefixPaddingMs,
			SilenceDurationMs: DefaultSilenceDurationMs,
		},
		InterruptDebounce: DefaultInterruptDebounce,
		SettleDelay:       DefaultSettleDelay,
		TurnResetDelay:    DefaultTurnResetDelay,
		ReconnectDelay:    DefaultReconnectDelay,
		InterruptWindow:   DefaultInterruptWindow,
		HandshakeTimeout:  DefaultHandshakeTimeout,
		Logger:            slog.Default(),
	}
}

// Option is a functional option for configuring a session manager.
type Option func(*Config)

// WithUpstream sets the speech backend endpoint and model.
func WithUpstream(url, model string) Option {
	return func(c *Config) {
		c.UpstreamURL = url
		c.Model = model
	}
}

// WithInstructions sets the agent's system instruction.
func WithInstructions(s string) Option {
	return func(c *Config) { c.Instructions = s }
}

// WithVoice sets the synthesis voice.
func WithVoice(v string) Option {
	return func(c *Config) { c.Voice = v }
}

// WithGreeting sets the once-per-conversation greeting trigger.
func WithGreeting(g string) Option {
	return func(c *Config) { c.Greeting = g }
}

// WithTurnDetection overrides the voice activity detection tuning.
func WithTurnDetection(td wire.TurnDetection) Option {
	return func(c *Config) { c.TurnDetection = td }
}

// WithInputSampleRate sets the widget microphone sample rate.
func WithInputSampleRate(hz int) Option {
	return func(c *Config) { c.InputSampleRate = hz }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithReconnectDelay sets the automatic reconnect pause.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Config) { c.ReconnectDelay = d }
}

// WithInterruptDebounce sets the minimum gap between accepted interrupts.
func WithInterruptDebounce(d time.Duration) Option {
	return func(c *Config) { c.InterruptDebounce = d }
}
