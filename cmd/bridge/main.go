package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/handoff-bridge/internal/auth"
	"github.com/p-blackswan/handoff-bridge/internal/brand"
	"github.com/p-blackswan/handoff-bridge/internal/bridge"
	"github.com/p-blackswan/handoff-bridge/internal/config"
	"github.com/p-blackswan/handoff-bridge/internal/health"
	"github.com/p-blackswan/handoff-bridge/internal/livechat"
	"github.com/p-blackswan/handoff-bridge/internal/messages"
	"github.com/p-blackswan/handoff-bridge/internal/metrics"
	"github.com/p-blackswan/handoff-bridge/internal/server"
	"github.com/p-blackswan/handoff-bridge/internal/session"
	"github.com/p-blackswan/handoff-bridge/internal/sobject"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Bool("sobject_enabled", cfg.SObjectEnabled()).
		Msg("starting handoff bridge")

	// Context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Message and brand catalogs
	msgs, err := messages.Load(cfg.MessagesFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load message catalog")
	}
	brands, err := brand.Load(cfg.BrandsFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load brand catalog")
	}

	// Session store
	store, err := session.NewRedisStore(session.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to session store")
	}
	defer store.Close()

	// Health checker
	checker := health.NewChecker(logger)
	checker.Register("redis", health.PingCheck(store))

	// Metrics
	mets := metrics.New()

	// Live-chat backend client
	chat := livechat.NewClient(livechat.Config{
		BaseURL:          cfg.LiveAgentURL,
		OrganizationID:   cfg.OrganizationID,
		DeploymentID:     cfg.DeploymentID,
		ButtonID:         cfg.ButtonID,
		APIVersion:       cfg.APIVersion,
		ScreenResolution: cfg.ScreenResolution,
		UserAgent:        cfg.UserAgent,
		Language:         cfg.Language,
	}, logger)

	// WaitGroup for in-flight work
	var wg sync.WaitGroup

	// Credential cache and business-object client (optional)
	var records server.Records
	if cfg.OAuthEnabled() && cfg.SObjectEnabled() {
		fetch := auth.NewPasswordGrantFetcher(auth.OAuthConfig{
			TokenURL:     cfg.TokenURL,
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			Username:     cfg.OAuthUsername,
			Password:     cfg.OAuthPassword,
			RedirectURI:  cfg.OAuthRedirectURI,
		})
		tokens := auth.NewCache(fetch, cfg.TokenRefresh, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens.Run(ctx)
		}()

		records = sobject.NewClient(cfg.APIBaseURL, tokens, logger)
		logger.Info().Msg("business-object API client initialized")
	} else {
		logger.Info().Msg("business-object API not configured, case updates disabled")
	}

	// Bot platform client
	bot := bridge.NewBotClient(cfg.BotAPIURL, cfg.BotAPIToken, logger)

	// The bridge itself
	br := bridge.New(bridge.Settings{
		SessionTTL:     cfg.SessionTTL,
		PollInterval:   cfg.PollInterval,
		ForwardStagger: cfg.ForwardStagger,
		TranscriptWait: cfg.TranscriptWait,
		IdleTimeout:    cfg.IdleTimeout,
		HistoryLimit:   cfg.HistoryLimit,
	}, chat, store, bot, msgs, mets, logger)

	// Resume polling for sessions that survived a restart
	if err := br.Resume(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to resume persisted sessions")
	}

	// Webhook server
	handlers := server.NewHandlers(br, records, brands, cfg.Environment == "production", logger)
	srv := server.NewServer(server.Config{
		ListenAddr: cfg.ListenAddr,
		APIKey:     cfg.WebhookAPIKey,
	}, handlers, checker, mets, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("webhook server error")
		}
	}()

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	cancel()

	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("webhook server shutdown error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := br.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("bridge shutdown timed out")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("handoff bridge stopped")
}
