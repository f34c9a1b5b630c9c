package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/voxlate/voxlate/internal/api"
	"github.com/voxlate/voxlate/internal/auth"
	"github.com/voxlate/voxlate/internal/config"
	"github.com/voxlate/voxlate/internal/credit"
	"github.com/voxlate/voxlate/internal/database"
	"github.com/voxlate/voxlate/internal/entitlement"
	mw "github.com/voxlate/voxlate/internal/middleware"
	inats "github.com/voxlate/voxlate/internal/nats"
	"github.com/voxlate/voxlate/internal/orchestrator"
	"github.com/voxlate/voxlate/internal/provider"
	"github.com/voxlate/voxlate/internal/provider/gcloud"
	"github.com/voxlate/voxlate/internal/provider/gemini"
	"github.com/voxlate/voxlate/internal/provider/gtts"
	"github.com/voxlate/voxlate/internal/ratelimit"
	iredis "github.com/voxlate/voxlate/internal/redis"
	"github.com/voxlate/voxlate/internal/relay"
	"github.com/voxlate/voxlate/internal/secrets"
	"github.com/voxlate/voxlate/internal/server"
	"github.com/voxlate/voxlate/internal/translate"
	"github.com/voxlate/voxlate/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	ctx := context.Background()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DB.DSN(), "migrations"); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS (device relay transport)
	var natsClient *inats.Client
	if cfg.NATS.Enabled {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to nats", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
	}

	// Secret resolution: mounted file first when configured, environment as
	// the fallback, with rotation-aware caching on top.
	var stores []secrets.Store
	if cfg.Secrets.File != "" {
		stores = append(stores, secrets.FileStore{Path: cfg.Secrets.File})
	}
	stores = append(stores, secrets.EnvStore{})
	secretStore := secrets.NewRotating(secrets.NewChain(stores...), cfg.Secrets.RotationInterval)

	// Providers and fallback chains
	geminiKey := secrets.SourceFor(secretStore, cfg.Providers.Gemini.KeySecret)
	gcloudKey := secrets.SourceFor(secretStore, cfg.Providers.GCloudTTS.KeySecret)

	translator := gemini.New(geminiKey, gemini.WithBaseURL(cfg.Providers.Gemini.BaseURL))
	translateChain := provider.NewChain("translate",
		provider.TranslateStep(translator, cfg.Providers.Gemini.Timeout),
	)

	recognizer := gcloud.NewRecognizer(gcloudKey, cfg.Providers.GCloudSTT.BaseURL)
	sttChain := provider.NewChain("speech_to_text",
		provider.RecognizeStep(recognizer, cfg.Providers.GCloudSTT.Timeout),
	)

	ttsSteps := []provider.Step[provider.SynthesizeInput, provider.Audio]{
		provider.SynthesizeStep(gemini.NewSynthesizer(geminiKey, gemini.WithBaseURL(cfg.Providers.Gemini.BaseURL)), cfg.Providers.Gemini.Timeout),
		provider.SynthesizeStep(gcloud.NewSynthesizer(gcloudKey, cfg.Providers.GCloudTTS.BaseURL), cfg.Providers.GCloudTTS.Timeout),
	}
	if cfg.Providers.GTTSEnabled {
		ttsSteps = append(ttsSteps, provider.SynthesizeStep(gtts.New(cfg.Providers.GTTS.BaseURL), cfg.Providers.GTTS.Timeout))
	}
	ttsChain := provider.NewChain("text_to_speech", ttsSteps...)

	orch := orchestrator.New(orchestrator.Chains{
		STT:       sttChain,
		Translate: translateChain,
		TTS:       ttsChain,
	}, orchestrator.DefaultBudget)

	// Credit ledger and entitlement gate
	ledger := credit.NewLedger(credit.NewPostgresStore(pool), cfg.Credit.WeeklyAllowanceSeconds)

	var verifier *entitlement.PurchaseVerifier
	if cfg.Credit.PurchaseRootKey != "" {
		verifier, err = entitlement.NewPurchaseVerifier(cfg.Credit.PurchaseRootKey)
		if err != nil {
			slog.Error("parsing purchase root key", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("purchase root key not configured, purchases disabled")
	}
	gate := entitlement.NewGate(ledger, cfg.Credit.MaxSessionSeconds, cfg.Credit.Products, verifier)

	// Auth
	jwtManager := auth.NewJWTManager(
		cfg.JWT.AccessSecret,
		cfg.JWT.RefreshSecret,
		cfg.JWT.AccessExpiry,
		cfg.JWT.RefreshExpiry,
	)
	authSvc := auth.NewService(jwtManager, redisClient)
	userRepo := users.NewRepository(pool)
	userSvc := users.NewService(userRepo)
	authHandler := auth.NewHandler(authSvc, userSvc, ledger, cfg.Credit.DeviceSalt)

	// Translation handlers
	translateHandler := translate.NewHandler(orch, gate, cfg.Credit.DeviceSalt)
	creditHandler := entitlement.NewHandler(ledger, gate, cfg.Credit.DeviceSalt)

	// Device relay: only wired when NATS is configured. The relay both
	// forwards requests from thin clients and serves them on this instance.
	var relayHandler *translate.RelayHandler
	if natsClient != nil {
		rly := relay.New(relay.NewNATSTransport(natsClient, "api"), relay.Options{
			ResponseTimeout: cfg.Relay.ResponseTimeout,
			ChunkSize:       cfg.Relay.ChunkSize,
		})
		if err := rly.Start(ctx); err != nil {
			slog.Error("starting relay", "error", err)
			os.Exit(1)
		}
		responder := translate.NewResponder(orch, gate, cfg.Credit.DeviceSalt)
		go func() {
			if err := rly.Serve(ctx, responder.Handle); err != nil && ctx.Err() == nil {
				slog.Error("relay serve stopped", "error", err)
			}
		}()
		relayHandler = translate.NewRelayHandler(rly)
	}

	// Rate limiters share Redis so the windows hold across instances.
	translationLimiter := ratelimit.New(redisClient, "translation", cfg.Limits.Translation.Max, cfg.Limits.Translation.Window)
	authLimiter := ratelimit.New(redisClient, "auth", cfg.Limits.Auth.Max, cfg.Limits.Auth.Window)
	defaultLimiter := ratelimit.New(redisClient, "default", cfg.Limits.Default.Max, cfg.Limits.Default.Window)

	handlers := api.HandlerSet{
		Register: authHandler.Register,
		Login:    authHandler.Login,
		Refresh:  authHandler.Refresh,
		Logout:   authHandler.Logout,

		TranslateAudio: translateHandler.TranslateAudio,
		Translate:      translateHandler.Translate,
		SpeechToText:   translateHandler.SpeechToText,
		TextToSpeech:   translateHandler.TextToSpeech,
		Languages:      translateHandler.Languages,

		CreditBalance: creditHandler.Balance,
		Purchase:      creditHandler.Purchase,

		AuthMiddleware:         auth.Middleware(authSvc),
		OptionalAuthMiddleware: auth.OptionalMiddleware(authSvc),
	}
	if relayHandler != nil {
		handlers.TranslateViaRelay = relayHandler.TranslateViaRelay
	}

	router := api.NewRouter(pool, natsClient, api.RouterConfig{
		CORSAllowedOrigins:     cfg.CORS.AllowedOrigins,
		TranslationRateLimiter: mw.RateLimit(translationLimiter, auth.RateLimitKey),
		AuthRateLimiter:        mw.RateLimit(authLimiter, mw.DefaultClientKey),
		DefaultRateLimiter:     mw.RateLimit(defaultLimiter, auth.RateLimitKey),
	}, handlers)

	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
