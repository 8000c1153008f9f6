// voicewidgetd: gateway daemon for the embedded voice widget. Bridges
// browser widgets to the realtime speech backend and the chat backend's
// token and knowledge endpoints.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avocetlabs/voicewidget/internal/config"
	"github.com/avocetlabs/voicewidget/internal/log"
	"github.com/avocetlabs/voicewidget/pkg/audio"
	"github.com/avocetlabs/voicewidget/pkg/knowledge"
	"github.com/avocetlabs/voicewidget/pkg/token"
	"github.com/avocetlabs/voicewidget/pkg/voice"
	"github.com/avocetlabs/voicewidget/pkg/web"
	"github.com/avocetlabs/voicewidget/pkg/wire"
)

var version = "1.0.0"

func main() {
	addr := flag.String("addr", config.ListenAddr(), "listen address")
	flag.Parse()

	log.Init(config.LogLevel())
	logger := log.Component("daemon")
	logger.Info("voicewidgetd starting", "version", version, "addr", *addr)

	backend := config.BackendBase()
	tokens := token.NewManager(backend+config.Env("TOKEN_PATH", config.DefaultTokenPath),
		token.WithLogger(log.L()))
	defer tokens.Close()

	knowledgeClient := knowledge.NewClient(backend+config.Env("KNOWLEDGE_PATH", config.DefaultKnowledgePath),
		knowledge.WithLogger(log.L()))

	turnDetection := wire.TurnDetection{
		Type:              "server_vad",
		Threshold:         config.EnvFloat("VAD_THRESHOLD", config.DefaultVADThreshold),
		PrefixPaddingMs:   int(config.EnvDuration("VAD_PREFIX_PADDING", config.DefaultPrefixPadding) / time.Millisecond),
		SilenceDurationMs: int(config.EnvDuration("VAD_SILENCE_TIMEOUT", config.DefaultSilenceTimeout) / time.Millisecond),
	}

	instructions := config.Env("AGENT_INSTRUCTIONS",
		"You are a friendly voice assistant for this website. Keep answers short and conversational. "+
			"Use search_knowledge for factual questions about the business.")

	factory := func(sink voice.EventSink, audioSink audio.Sink) *voice.Manager {
		executor := voice.NewExecutor(log.L(), voice.KnowledgeSearchTool(knowledgeClient))
		return voice.NewManager(sink, audioSink, tokens, executor,
			voice.WithUpstream(config.UpstreamURL(), config.UpstreamModel()),
			voice.WithInstructions(instructions),
			voice.WithVoice(config.Env("AGENT_VOICE", "alloy")),
			voice.WithGreeting(config.Env("AGENT_GREETING", "Greet the user briefly and offer to help.")),
			voice.WithTurnDetection(turnDetection),
			voice.WithLogger(log.L()),
		)
	}

	server := web.NewServer(*addr, factory, log.L())

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	if err := server.Shutdown(); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
