// Command server is the dice arena realtime backbone: the Edge Router
// fronting the GameRoom and GlobalLobby actors. It mirrors the teacher's
// cmd/v1/session/main.go shape — load .env, validate configuration, wire
// dependencies, gin.Engine, graceful shutdown on SIGINT/SIGTERM — widened
// to the two actor kinds and the Redis-backed storage/rate-limit/tracing
// stack this domain needs.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/dicearena/backend/internal/auth"
	"github.com/dicearena/backend/internal/config"
	"github.com/dicearena/backend/internal/gameroom"
	"github.com/dicearena/backend/internal/health"
	"github.com/dicearena/backend/internal/hub"
	"github.com/dicearena/backend/internal/lobby"
	"github.com/dicearena/backend/internal/logging"
	"github.com/dicearena/backend/internal/ratelimit"
	"github.com/dicearena/backend/internal/router"
	"github.com/dicearena/backend/internal/scoring"
	"github.com/dicearena/backend/internal/storage"
	"github.com/dicearena/backend/internal/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.ValidateEnv()
	if err != nil {
		// logging.Initialize has not run yet; this is the one place
		// that still talks to stderr directly.
		println("configuration error: " + err.Error())
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode, cfg.LogLevel); err != nil {
		println("failed to initialize logging: " + err.Error())
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	ctx := context.Background()

	var tracerProvider *sdktrace.TracerProvider
	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, cfg.ServiceName, cfg.OtelCollectorAddr)
		if err != nil {
			logging.Warn(ctx, "tracing disabled: failed to initialize", zap.Error(err))
		} else {
			tracerProvider = tp
		}
	}

	var store *storage.Service
	if cfg.RedisEnabled {
		s, err := storage.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Fatal(ctx, "failed to connect to redis", zap.Error(err))
		}
		store = s
		logging.Info(ctx, "redis storage enabled", zap.String("addr", cfg.RedisAddr))
	} else {
		logging.Warn(ctx, "redis disabled; running with in-memory-only persistence")
	}

	rateLimiter, err := ratelimit.NewRateLimiter(cfg, store.Client())
	if err != nil {
		logging.Fatal(ctx, "failed to initialize rate limiter", zap.Error(err))
	}

	validator := buildValidator(ctx, cfg)

	roomCfg := gameroom.DefaultConfig()
	roomCfg.AfkWarning = time.Duration(cfg.AfkWarningSec) * time.Second
	roomCfg.AfkTimeout = time.Duration(cfg.AfkTimeoutSec) * time.Second
	roomCfg.StartingCountdown = time.Duration(cfg.StartingCountdownSec) * time.Second
	roomCfg.RoomCleanupGrace = time.Duration(cfg.RoomIdleGraceSec) * time.Second
	roomCfg.MaxPlayers = cfg.MaxPlayers
	roomCfg.MinPlayers = cfg.MinPlayers

	engine := scoring.NewStandard()

	// Hub and Lobby each need the other's address at construction — the
	// cyclic-reference pattern the design notes call out. The hub is
	// built first with no lobby, then wired in once the lobby exists.
	roomHub := hub.New(roomCfg, engine, store, nil)
	lobbyActor := lobby.New(store, roomHub)
	roomHub.SetLobby(lobbyActor)

	healthHandler := health.NewHandler(store)

	ginEngine := router.New(router.Deps{
		Config:      cfg,
		Validator:   validator,
		RateLimiter: rateLimiter,
		Health:      healthHandler,
		Hub:         roomHub,
		Lobby:       lobbyActor,
		RoomConfig:  roomCfg,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: ginEngine,
	}

	go func() {
		logging.Info(ctx, "dice arena server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "server forced to shutdown", zap.Error(err))
	}

	if tracerProvider != nil {
		_ = tracerProvider.Shutdown(shutdownCtx)
	}

	logging.Info(ctx, "server exited")
}

// buildValidator assembles the token validator chain: JWKS-backed
// asymmetric verification preferred, shared-secret HS256 fallback if
// configured, matching the spec's auth precedence. SKIP_AUTH trades both
// out for a development-only MockValidator.
func buildValidator(ctx context.Context, cfg *config.Config) auth.TokenValidator {
	if cfg.SkipAuth {
		logging.Warn(ctx, "authentication DISABLED via SKIP_AUTH; do not use in production")
		return &auth.MockValidator{}
	}

	var validators []auth.TokenValidator
	if cfg.JWKSUrl != "" {
		v, err := auth.NewValidatorFromJWKSURL(ctx, cfg.JWKSUrl, cfg.JWTIssuer, cfg.JWTAudience)
		if err != nil {
			logging.Error(ctx, "failed to initialize JWKS validator", zap.Error(err))
		} else {
			validators = append(validators, v)
		}
	}
	if cfg.JWTSecret != "" {
		validators = append(validators, auth.NewSymmetricValidator(cfg.JWTSecret, cfg.JWTIssuer))
	}
	if len(validators) == 0 {
		logging.Fatal(ctx, "no usable token validator configured")
	}
	return auth.NewChainValidator(validators...)
}
