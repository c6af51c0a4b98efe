package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dessincoach/internal/servicetoken"
	"dessincoach/internal/util"
	"dessincoach/pkg/ai"
	"dessincoach/pkg/notify"
	"dessincoach/pkg/promotion"
	"dessincoach/pkg/queue"
	"dessincoach/pkg/store"
	"dessincoach/services/worker/internal/app"
	"dessincoach/services/worker/internal/config"
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
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.QueueStream,
		Group:      cfg.QueueGroup,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		log.Fatalf("failed to init queue: %v", err)
	}

	gemini, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
	if err != nil {
		log.Fatalf("failed to init gemini client: %v", err)
	}
	analyzer := ai.NewGeminiAnalyzer(gemini, cfg.GeminiModel)
	embedder := buildEmbedder(cfg, gemini)

	var publisher notify.Publisher
	if cfg.AmqpURL != "" {
		amqpPublisher, err := notify.NewAmqpPublisher(cfg.AmqpURL, cfg.AmqpExchange)
		if err != nil {
			log.Fatalf("failed to init amqp publisher: %v", err)
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
	}
	promo := promotion.New(dataStore, nil, publisher)

	var annotator app.Annotator
	var exampler app.ExampleDispatcher
	if cfg.AnnotationURL != "" || cfg.ExampleURL != "" {
		signer, err := servicetoken.NewSigner(servicetoken.SignerOptions{
			PrivateKeyPath: cfg.InternalJWTPrivateKeyPath,
			KeyID:          cfg.InternalJWTKeyID,
			Issuer:         cfg.ServiceIssuer,
		})
		if err != nil {
			log.Fatalf("failed to init service token signer: %v", err)
		}
		if cfg.AnnotationURL != "" {
			if annotator, err = app.NewAnnotationClient(cfg.AnnotationURL, signer); err != nil {
				log.Fatalf("failed to init annotation client: %v", err)
			}
		}
		if cfg.ExampleURL != "" {
			if exampler, err = app.NewExampleClient(cfg.ExampleURL, cfg.ExampleCallbackURL, signer); err != nil {
				log.Fatalf("failed to init example client: %v", err)
			}
		}
	}

	pipeline, err := app.New(app.Config{
		Store:     dataStore,
		Promotion: promo,
		Analyzer:  analyzer,
		Memories:  app.NewMemoryRecorder(dataStore, embedder, cfg.MemoryRecallLimit),
		Annotator: annotator,
		Exampler:  exampler,
	})
	if err != nil {
		log.Fatalf("failed to init pipeline: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobQueue.Start(ctx, cfg.Concurrency, pipeline.ProcessReview)
	slog.Info("review worker consuming", "stream", cfg.QueueStream, "concurrency", cfg.Concurrency)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server error", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down review worker")
	jobQueue.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildEmbedder(cfg config.FileConfig, gemini *ai.GeminiClient) ai.Embedder {
	switch strings.ToLower(cfg.EmbeddingProvider) {
	case "gemini":
		return ai.NewGeminiEmbedder(gemini, cfg.EmbeddingModel)
	case "ollama":
		return ai.NewOllamaEmbedder(ai.NewOllamaClient(cfg.OllamaBaseURL), cfg.EmbeddingModel, cfg.EmbeddingDim)
	default:
		return nil
	}
}
