package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mfifer/docchat/internal/chat"
	"github.com/mfifer/docchat/internal/config"
	"github.com/mfifer/docchat/internal/embedding"
	"github.com/mfifer/docchat/internal/llm"
	"github.com/mfifer/docchat/internal/logging"
	"github.com/mfifer/docchat/internal/rag"
	"github.com/mfifer/docchat/internal/retrieval"
	"github.com/mfifer/docchat/internal/store/rabbitmq"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

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

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatal("postgres open failed", zap.Error(err))
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		log.Fatal("llm provider setup failed", zap.Error(err))
	}

	embedder := embedding.NewOllamaEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingModel)
	retriever := retrieval.NewRetriever(embedder, retrieval.NewPGCorpus(db))
	pipeline := rag.NewPipeline(rag.NewQueryEngine(provider), retriever, provider, cfg.RAGTopK, cfg.SimilarityThreshold, log)

	history := chat.NewHistory(rdb, time.Duration(cfg.SessionTTLSeconds)*time.Second)
	svc := chat.NewService(history, pipeline, cfg.ChatHistoryLimit, log)
	jobs := chat.NewJobRepo(db)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal("rabbit dial failed", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("rabbit channel failed", zap.Error(err))
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatal("queue declare failed", zap.Error(err))
	}

	concurrency := workerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal("qos failed", zap.Error(err))
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal("consume failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started", zap.String("queue", cfg.RabbitQueue), zap.Int("concurrency", concurrency))

	deliveries := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range deliveries {
				var m rabbitmq.JobMessage
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					log.Warn("bad queue message", zap.Int("worker", workerID), zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleJob(ctx, svc, jobs, m.JobID); err != nil {
					log.Error("job failed",
						zap.Int("worker", workerID),
						zap.String("job_id", m.JobID),
						zap.Duration("cost", time.Since(start)),
						zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Warn("ack failed", zap.Int("worker", workerID), zap.String("job_id", m.JobID), zap.Error(err))
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(deliveries)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			deliveries <- d
		}
	}
}

func handleJob(ctx context.Context, svc *chat.Service, jobs *chat.JobRepo, jobID string) error {
	_ = jobs.MarkRunning(ctx, jobID)

	j, err := jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	result, err := svc.ProcessMessage(ctx, j.SessionID, j.Question)
	if err != nil {
		_ = jobs.MarkFailed(ctx, jobID, err.Error())
		return err
	}

	return jobs.MarkSucceeded(ctx, jobID, result.Answer, result.SearchQuery)
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
