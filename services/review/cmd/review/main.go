package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"dessincoach/internal/ratelimit"
	"dessincoach/internal/servicetoken"
	"dessincoach/internal/usertoken"
	"dessincoach/internal/util"
	"dessincoach/pkg/promotion"
	"dessincoach/pkg/queue"
	"dessincoach/pkg/storage"
	"dessincoach/pkg/store"
	"dessincoach/services/review/internal/app"
	"dessincoach/services/review/internal/config"
	"dessincoach/services/review/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.InitLogger(cfg.LogLevel)

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	jobQueue, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.QueueStream,
		Group:    cfg.QueueGroup,
	})
	if err != nil {
		log.Fatalf("failed to init queue: %v", err)
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey,
			cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioPublicURL, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init object store: %v", err)
		}
		objects = minioStore
	}

	core, err := app.New(app.Config{
		Store:        dataStore,
		Queue:        jobQueue,
		Promotion:    promotion.New(dataStore, nil, nil),
		Objects:      objects,
		AllowedHosts: cfg.AllowedImageHosts,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:  cfg.AuthJWKSURL,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	var internalVerify *servicetoken.Verifier
	if cfg.InternalJWTPublicKeyPath != "" {
		internalVerify, err = servicetoken.NewVerifier(servicetoken.VerifierOptions{
			PublicKeyPath:  cfg.InternalJWTPublicKeyPath,
			KeyID:          cfg.InternalJWTKeyID,
			Audience:       cfg.InternalAudience,
			AllowedIssuers: cfg.InternalIssuers,
		})
		if err != nil {
			log.Fatalf("failed to init internal token verifier: %v", err)
		}
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()
	submitLimiter, err := ratelimit.NewFixedWindowLimiter(redisClient, "dessin:ratelimit:submit",
		cfg.SubmitLimit, cfg.SubmitLimitWindow())
	if err != nil {
		log.Fatalf("failed to init rate limiter: %v", err)
	}

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	srv, err := server.New(server.Config{
		App:            core,
		TokenVerifier:  tokenVerifier,
		InternalVerify: internalVerify,
		SubmitLimiter:  submitLimiter,
		TrustedProxies: trustedProxies,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("review api listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down review api")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
}
