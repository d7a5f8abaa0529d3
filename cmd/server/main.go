package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mfifer/docchat/internal/chat"
	"github.com/mfifer/docchat/internal/config"
	"github.com/mfifer/docchat/internal/embedding"
	"github.com/mfifer/docchat/internal/httpapi"
	"github.com/mfifer/docchat/internal/httpapi/handlers"
	"github.com/mfifer/docchat/internal/llm"
	"github.com/mfifer/docchat/internal/logging"
	"github.com/mfifer/docchat/internal/rag"
	"github.com/mfifer/docchat/internal/retrieval"
	"github.com/mfifer/docchat/internal/store/rabbitmq"
	"github.com/mfifer/docchat/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatal("redis ping failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	cancel()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatal("postgres open failed", zap.Error(err))
	}
	// The documents table is owned by the ingestion tooling; only job rows
	// are migrated here.
	if err := db.AutoMigrate(&chat.Job{}); err != nil {
		log.Fatal("automigrate failed", zap.Error(err))
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		log.Fatal("llm provider setup failed", zap.Error(err))
	}

	embedder := embedding.NewOllamaEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingModel)
	retriever := retrieval.NewRetriever(embedder, retrieval.NewPGCorpus(db))
	engine := rag.NewQueryEngine(provider)
	pipeline := rag.NewPipeline(engine, retriever, provider, cfg.RAGTopK, cfg.SimilarityThreshold, log)

	history := chat.NewHistory(rdb, time.Duration(cfg.SessionTTLSeconds)*time.Second)
	svc := chat.NewService(history, pipeline, cfg.ChatHistoryLimit, log)

	rabbit, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal("rabbit setup failed", zap.Error(err))
	}
	defer func() { _ = rabbit.Close() }()

	h := handlers.NewHandler(svc, chat.NewJobRepo(db), rabbit, log)
	wsHandler := ws.NewHandler(ws.NewRegistry(), svc, pipeline, log)
	router := httpapi.NewRouter(h, wsHandler)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
}

func buildProvider(cfg config.Config) (llm.Provider, error) {
	reg := llm.NewRegistry()
	reg.Register("ollama", func(_ context.Context, model string) (llm.Provider, error) {
		if model == "" {
			model = cfg.OllamaModel
		}
		return llm.NewOllamaProvider(cfg.OllamaBaseURL, model), nil
	})
	reg.Register("openai", func(_ context.Context, model string) (llm.Provider, error) {
		if model == "" {
			model = cfg.OpenAIModel
		}
		return llm.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, model), nil
	})
	return reg.Get(context.Background(), cfg.LLMProvider, "")
}
