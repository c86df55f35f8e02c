package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chatserver/api"
	"chatserver/auth"
	"chatserver/config"
	"chatserver/events"
	"chatserver/models"
	"chatserver/presence"
	"chatserver/store"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(cfg.SQLitePath)
	if err != nil {
		logger.Fatal("store open failed", zap.Error(err), zap.String("path", cfg.SQLitePath))
	}
	defer st.Close()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
	}

	var limiter auth.LoginRateLimiter
	tracker := presence.NewMemoryTracker(presence.DefaultTTL)
	if redisClient != nil {
		limiter = auth.NewRedisLoginLimiter(redisClient, time.Minute, 10)
		tracker = presence.NewRedisTracker(redisClient, presence.DefaultTTL)
	}

	authSvc := auth.NewService(cfg.JWTSecret, st, limiter)

	var verifier api.TokenVerifier = authSvc
	if cfg.OIDCIssuerURL != "" {
		v, err := auth.NewOIDCVerifier(ctx, logger, cfg.OIDCIssuerURL, cfg.OIDCClientID, cfg.OIDCAudience)
		if err != nil {
			logger.Fatal("oidc init failed", zap.Error(err))
		}
		verifier = v
	}

	broadcast := make(chan models.Event, 64)
	var bus events.Bus
	var readyCheck func(ctx context.Context) error
	if cfg.KafkaBroker != "" {
		kb := events.NewKafkaBus(cfg.KafkaBroker, cfg.KafkaTopic, cfg.KafkaDLQ, logger)
		defer kb.Close()
		go events.Reader(ctx, cfg.KafkaBroker, cfg.KafkaTopic, broadcast, logger)
		readyCheck = func(ctx context.Context) error {
			return events.CheckLag(ctx, cfg.KafkaBroker, cfg.KafkaTopic)
		}
		bus = kb
	} else {
		bus = events.NewLocalBus(broadcast)
	}

	server := api.NewServer(api.Options{
		Logger:     logger,
		Store:      st,
		Auth:       authSvc,
		Verifier:   verifier,
		Bus:        bus,
		Presence:   tracker,
		Validator:  api.NewMessageValidator(cfg.MessageSchemaPath),
		MaxMsgLen:  cfg.MessageMaxLength,
		Broadcast:  broadcast,
		ReadyCheck: readyCheck,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("http server listening", zap.String("port", cfg.HTTPPort))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server error", zap.Error(err))
	}
}
