package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/speechmesh/gateway/internal/config"
	"github.com/speechmesh/gateway/internal/logging"
	"github.com/speechmesh/gateway/pkg/bus"
	"github.com/speechmesh/gateway/pkg/providers/translate"
)

func main() {
	config.LoadDotenv()

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		workerID = "translation-" + uuid.New().String()[:8]
	}
	cfg := config.LoadTranslationWorker(workerID)
	logger := logging.New("translation-worker", "worker_id", workerID)

	translator, providerName := selectTranslator()
	logger.Info("configured provider", "provider", providerName)

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis: parse REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opts)

	transcriptionStream := bus.NewRedisStream(rdb, cfg.InputStream)
	resultBus := bus.NewRedisResultBus(rdb, cfg.ResultsChannel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := transcriptionStream.EnsureGroup(ctx, cfg.ConsumerGroup); err != nil {
		log.Fatalf("translation worker: ensure consumer group: %v", err)
	}

	go serveHealth(cfg.HealthPort, logger)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("translation worker started", "input_stream", cfg.InputStream)
	runLoop(ctx, transcriptionStream, resultBus, cfg.ConsumerGroup, cfg.ConsumerID, translator, logger)
}

func runLoop(ctx context.Context, transcriptionStream bus.Stream, resultBus bus.ResultBus, group, consumer string, translator translate.Translator, logger logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entries, err := transcriptionStream.Read(ctx, group, consumer, 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("stream read failed", "error", err)
			continue
		}

		var acked []string
		for _, entry := range entries {
			processJob(ctx, entry, resultBus, translator, logger)
			acked = append(acked, entry.ID)
		}
		if len(acked) > 0 {
			if err := transcriptionStream.Ack(ctx, group, acked...); err != nil {
				logger.Error("ack failed", "error", err)
			}
		}
	}
}

func processJob(ctx context.Context, entry bus.Entry, resultBus bus.ResultBus, translator translate.Translator, logger logging.Logger) {
	job, err := bus.DecodeTranscription(entry.Fields)
	if err != nil {
		logger.Error("decode transcription failed", "error", err)
		return
	}

	text := strings.TrimSpace(job.Text)
	if text == "" {
		logger.Warn("empty text in transcription, skipping", "job_id", job.JobID)
		return
	}

	logger.Info("processing translation job", "job_id", job.JobID, "client_id", job.ClientID)

	start := time.Now()
	translation, err := translator.Translate(ctx, text, job.SourceLang, job.TargetLang)

	result := bus.Result{
		Status:             "ok",
		JobID:              job.JobID,
		ClientID:           job.ClientID,
		SegmentID:          job.SegmentID,
		Text:               text,
		Translation:        translation,
		SourceLang:         job.SourceLang,
		TargetLang:         job.TargetLang,
		TranslationEnabled: true,
		IsFinal:            job.IsFinal,
		ProcessingTime:     time.Since(start).Seconds(),
		AudioDuration:      job.AudioDuration,
		WorkerID:           translator.Name(),
		Timestamp:          float64(time.Now().UnixNano()) / 1e9,
	}
	if err != nil {
		logger.Error("translate failed", "job_id", job.JobID, "error", err)
		result.Status = "error"
		result.Translation = ""
	}

	if err := resultBus.Publish(ctx, job.ClientID, result); err != nil {
		logger.Error("publish result failed", "job_id", job.JobID, "error", err)
	}
}

func selectTranslator() (translate.Translator, string) {
	providerName := os.Getenv("LLM_PROVIDER")
	if providerName == "" {
		providerName = "groq"
	}

	switch providerName {
	case "openai":
		key := requireEnv("OPENAI_API_KEY", "openai LLM")
		return translate.NewOpenAILLM(key, "gpt-4o"), providerName
	case "anthropic":
		key := requireEnv("ANTHROPIC_API_KEY", "anthropic LLM")
		return translate.NewAnthropicLLM(key, "claude-3-5-sonnet-20241022"), providerName
	case "google":
		key := requireEnv("GOOGLE_API_KEY", "google LLM")
		return translate.NewGoogleLLM(key, "gemini-1.5-flash"), providerName
	case "groq":
		fallthrough
	default:
		key := requireEnv("GROQ_API_KEY", "groq LLM")
		return translate.NewGroqLLM(key, "llama-3.3-70b-versatile"), "groq"
	}
}

func requireEnv(key, purpose string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("%s must be set for %s", key, purpose)
	}
	return v
}

func serveHealth(port int, logger logging.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if err := http.ListenAndServe(":"+strconv.Itoa(port), mux); err != nil {
		logger.Warn("health server stopped", "error", err)
	}
}
