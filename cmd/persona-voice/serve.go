package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-persona/internal/config"
	"github.com/teslashibe/go-persona/internal/log"
	"github.com/teslashibe/go-persona/pkg/api"
	"github.com/teslashibe/go-persona/pkg/bot"
	"github.com/teslashibe/go-persona/pkg/completion"
	"github.com/teslashibe/go-persona/pkg/hub"
	"github.com/teslashibe/go-persona/pkg/memory"
	"github.com/teslashibe/go-persona/pkg/persona"
	"github.com/teslashibe/go-persona/pkg/prompt"
	"github.com/teslashibe/go-persona/pkg/room"
	"github.com/teslashibe/go-persona/pkg/session"
	"github.com/teslashibe/go-persona/pkg/stt"
	"github.com/teslashibe/go-persona/pkg/tts"
	"github.com/teslashibe/go-persona/pkg/voice"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and persona bots",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log.Init(cfg.LogLevel)
		return serve(cmd.Context(), cfg, log.L())
	},
}

func init() {
	flags := serveCmd.Flags()
	flags.String("addr", config.DefaultAddr, "HTTP listen address")
	flags.String("mode", "dev", "dev or prod")
	flags.String("public-url", "", "public base URL for audio clip links; empty sends data URIs")
	flags.Int("chat-rate", config.DefaultChatRatePerMin, "chat requests per minute per client, 0 disables")

	for key, name := range map[string]string{
		"addr":              "addr",
		"mode":              "mode",
		"public_url":        "public-url",
		"chat_rate_per_min": "chat-rate",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func serve(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := persona.Load(cfg.PersonaDir, cfg.Voices)
	if err != nil {
		return err
	}

	prompts := prompt.NewBuilder(memory.New())
	completer := completion.New(
		completion.WithAPIKey(cfg.OpenAIAPIKey),
		completion.WithBaseURL(cfg.OpenAIBaseURL),
		completion.WithModel(cfg.OpenAIModel),
		completion.WithLogger(logger),
	)
	if completer.Stubbed() {
		logger.Warn("OPENAI_API_KEY not set, replies are test stubs")
	}

	speech, provider := buildSpeech(ctx, cfg, logger)
	if provider != nil {
		defer provider.Close()
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	monitor := hub.New("rooms", hub.WithLogger(logger))
	go monitor.Run(hubCtx)

	clips := room.NewClipStore(cfg.PublicURL, 0, 0)
	metrics := voice.NewCollector()

	var gateway *room.Gateway
	if cfg.LiveKitURL != "" && cfg.LiveKitAPIKey != "" && cfg.LiveKitAPISecret != "" {
		gateway, err = room.NewLiveKit(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret,
			room.WithClipStore(clips),
			room.WithMirror(monitor),
			room.WithLogger(logger),
		)
		if err != nil {
			return err
		}
	}

	var listener stt.Listener
	if cfg.DeepgramAPIKey != "" {
		dg, err := stt.NewDeepgram(
			stt.WithAPIKey(cfg.DeepgramAPIKey),
			stt.WithModel(cfg.DeepgramModel),
			stt.WithLogger(logger),
		)
		if err != nil {
			return err
		}
		listener = dg
	}

	opts := []session.Option{
		session.WithLogger(logger),
		session.WithPreflight(cfg.VoiceReady),
	}
	if gateway != nil && listener != nil && speech != nil {
		deps := bot.Deps{
			Room:       gateway,
			Listener:   listener,
			Prompts:    prompts,
			Completion: completer,
			Speech:     speech,
			Metrics:    metrics,
		}
		opts = append(opts, session.WithBotFactory(func(roomName string, p *persona.Config) (session.Bot, error) {
			return bot.New(roomName, p, deps,
				bot.WithUtteranceTimeout(cfg.UtteranceTimeout),
				bot.WithRefreshInterval(cfg.RefreshInterval),
				bot.WithConnectTimeout(cfg.ConnectTimeout),
				bot.WithQueueSize(cfg.QueueSize),
				bot.WithLogger(logger),
			)
		}))
	} else if err := cfg.VoiceReady(); err != nil {
		logger.Warn("voice sessions disabled", "reason", err)
	}
	manager := session.NewManager(registry, opts...)

	apiDeps := api.Deps{
		Sessions:   manager,
		Prompts:    prompts,
		Completion: completer,
		Clips:      clips,
		Hub:        monitor,
		Metrics:    metrics,
	}
	if gateway != nil {
		apiDeps.Tokens = gateway
	}
	if speech != nil {
		apiDeps.Speech = speech
	}

	server, err := api.New(apiDeps,
		api.WithAddr(cfg.Addr),
		api.WithVersion(version),
		api.WithChatRate(cfg.ChatRatePerMin),
		api.WithDebug(cfg.IsDev()),
		api.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	logger.Info("persona voice started",
		"addr", cfg.Addr,
		"version", version,
		"personas", registry.Names(),
		"voice", gateway != nil && listener != nil && speech != nil,
	)

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	// The server stops first so no bot starts after the manager drains.
	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelHTTP()
	if err := server.Shutdown(httpCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("http shutdown", "error", err)
	}

	sessionCtx, cancelSessions := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelSessions()
	if err := manager.Shutdown(sessionCtx); err != nil {
		logger.Warn("session shutdown", "error", err)
	}
	return nil
}

// buildSpeech assembles the TTS provider chain: ElevenLabs first, then the
// optional OpenAI and Google fallbacks. It returns nils when no provider is
// configured.
func buildSpeech(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*tts.Synthesizer, tts.Provider) {
	var providers []tts.Provider

	if cfg.ElevenLabsAPIKey != "" {
		el, err := tts.NewElevenLabs(
			tts.WithAPIKey(cfg.ElevenLabsAPIKey),
			tts.WithModel(cfg.ElevenLabsModel),
			tts.WithLogger(logger),
		)
		if err != nil {
			logger.Warn("elevenlabs disabled", "error", err)
		} else {
			providers = append(providers, el)
		}
	}

	if cfg.OpenAITTSFallback && cfg.OpenAIAPIKey != "" {
		oa, err := tts.NewOpenAI(
			tts.WithAPIKey(cfg.OpenAIAPIKey),
			tts.WithLogger(logger),
		)
		if err != nil {
			logger.Warn("openai speech disabled", "error", err)
		} else {
			providers = append(providers, oa)
		}
	}

	if cfg.GoogleCredentialsFile != "" {
		creds, err := tts.GoogleCredentialsFile(ctx, cfg.GoogleCredentialsFile)
		if err == nil {
			var g *tts.Google
			g, err = tts.NewGoogle(ctx, creds, tts.WithLogger(logger))
			if err == nil {
				providers = append(providers, g)
			}
		}
		if err != nil {
			logger.Warn("google speech disabled", "error", err)
		}
	}

	var provider tts.Provider
	switch len(providers) {
	case 0:
		return nil, nil
	case 1:
		provider = providers[0]
	default:
		chain, err := tts.NewChainWithLogger(logger, providers...)
		if err != nil {
			logger.Warn("speech chain disabled", "error", err)
			return nil, nil
		}
		provider = chain
	}

	logger.Info("speech ready", "provider", provider.Name(), "providers", len(providers))
	return tts.NewSynthesizer(provider,
		tts.WithVoices(cfg.Voices),
		tts.WithSynthesizerLogger(logger),
	), provider
}
