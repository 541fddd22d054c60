package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"concierge/internal/config"
	"concierge/internal/dialog"
	"concierge/internal/logging"
	"concierge/internal/orchestrate"
	"concierge/internal/voice"
)

func newVoiceCommand() *cobra.Command {
	var console bool
	cmd := &cobra.Command{
		Use:   "voice",
		Short: "Run an interactive voice session",
		Long:  "Starts a local voice session: speech is transcribed, answered by the conversation engine, and spoken back. Say \"stop\" to end the session.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if console {
				cfg.Voice.Console = true
			}
			return runVoice(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().BoolVar(&console, "console", false, "type and read instead of using the microphone")
	return cmd
}

func runVoice(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	store, err := newSessionStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer store.Close()

	client, err := orchestrate.NewClient(orchestrate.Config{
		BaseURL:       cfg.Orchestrate.BaseURL,
		InstanceID:    cfg.Orchestrate.InstanceID,
		AgentID:       cfg.Orchestrate.AgentID,
		APIToken:      cfg.Orchestrate.APIToken,
		Timeout:       cfg.Orchestrate.Timeout,
		MaxIterations: cfg.Orchestrate.MaxIterations,
	})
	if err != nil {
		return fmt.Errorf("reasoning backend: %w", err)
	}

	controller := dialog.NewController(store, client, dialog.Config{
		Timeout: cfg.Orchestrate.Timeout,
	}, logger)

	sessionID := fmt.Sprintf("voice-%d", os.Getpid())
	respond := func(ctx context.Context, utterance string) (string, error) {
		reply := controller.HandleTurn(ctx, sessionID, utterance)
		return reply.Message, nil
	}

	transcriber, speaker, cleanup, err := buildVoiceIO(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	coordinator := voice.NewCoordinator(transcriber, speaker, respond, func(status string) {
		fmt.Printf("%s %s\n", gray("status:"), cyan(status))
	}, voice.Options{}, logger)

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("%s %s\n", cyan("concierge"), gray("voice session (say \"stop\" to end)"))
	if err := coordinator.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	// Ctrl-C surfaces as context.Canceled and is a clean shutdown.
	return nil
}

// buildVoiceIO wires either the console fallback or the live speech
// stack, depending on configuration.
func buildVoiceIO(cfg *config.Config, logger *logging.Logger) (voice.Transcriber, voice.Speaker, func(), error) {
	if cfg.Voice.Console || cfg.Voice.DeepgramAPIKey == "" {
		if cfg.Voice.DeepgramAPIKey == "" && !cfg.Voice.Console {
			logger.Warn("no speech credentials configured, falling back to console mode")
		}
		return voice.NewConsoleTranscriber(os.Stdin), voice.NewConsoleSpeaker(os.Stdout), func() {}, nil
	}

	dgCfg := voice.DeepgramConfig{
		APIKey:        cfg.Voice.DeepgramAPIKey,
		ListenModel:   cfg.Voice.ListenModel,
		SpeakModel:    cfg.Voice.SpeakModel,
		Language:      cfg.Voice.Language,
		EndpointingMS: cfg.Voice.EndpointingMS,
	}

	mic, err := voice.NewMicCapture()
	if err != nil {
		return nil, nil, nil, err
	}
	player, err := voice.NewPCMPlayer()
	if err != nil {
		_ = mic.Close()
		return nil, nil, nil, err
	}

	transcriber, err := voice.NewLiveTranscriber(dgCfg, mic, logger)
	if err != nil {
		_ = mic.Close()
		_ = player.Close()
		return nil, nil, nil, err
	}
	speaker, err := voice.NewStreamSpeaker(dgCfg, player, logger)
	if err != nil {
		_ = mic.Close()
		_ = player.Close()
		return nil, nil, nil, err
	}

	cleanup := func() {
		_ = mic.Close()
		_ = player.Close()
	}
	return transcriber, speaker, cleanup, nil
}
