package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/room4-2/kolokwa/chat"
	"github.com/room4-2/kolokwa/config"
	"github.com/room4-2/kolokwa/gemini"
	"github.com/room4-2/kolokwa/logging"
	"github.com/room4-2/kolokwa/relay"
	"github.com/room4-2/kolokwa/server"
	"github.com/room4-2/kolokwa/session"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Setup("info")
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logging.Setup(cfg.LogLevel)

	if cfg.GeminiAPIKey == "" {
		log.Warn().Msg("⚠️ GEMINI_API_KEY is not set; text and live requests will report a configuration error")
	}
	if cfg.OpenAIAPIKey == "" {
		log.Warn().Msg("⚠️ OPENAI_API_KEY is not set; /api/chat will report a configuration error")
	}

	opts := gemini.Options{APIKey: cfg.GeminiAPIKey}
	sessionManager := session.NewManager(cfg, gemini.NewLiveDialer(opts, cfg.LiveModel, cfg.VoiceName))
	chatClient := chat.NewClient(gemini.NewTextBackend(opts, cfg.TextModel))
	relayHandler := relay.NewOpenAIHandler(cfg.OpenAIAPIKey, relay.WithModel(cfg.RelayModel))

	srv := server.New(cfg, sessionManager, chatClient, relayHandler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		sessionManager.StartCleanupRoutine(gctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Received shutdown signal...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
	log.Info().Msg("Server stopped")
}
