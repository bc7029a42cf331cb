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
	"github.com/speechmesh/gateway/pkg/providers/stt"
)

func main() {
	config.LoadDotenv()

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		workerID = "stt-" + uuid.New().String()[:8]
	}
	cfg := config.LoadSTTWorker(workerID)
	logger := logging.New("stt-worker", "worker_id", workerID)

	transcriber, providerName := selectTranscriber()
	logger.Info("configured provider", "provider", providerName)

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis: parse REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opts)

	jobStream := bus.NewRedisStream(rdb, cfg.InputStream)
	transcriptionStream := bus.NewRedisStream(rdb, cfg.OutputStream)
	resultBus := bus.NewRedisResultBus(rdb, cfg.ResultsChannel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := jobStream.EnsureGroup(ctx, cfg.ConsumerGroup); err != nil {
		log.Fatalf("stt worker: ensure consumer group: %v", err)
	}

	go serveHealth(cfg.HealthPort, logger)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("stt worker started", "input_stream", cfg.InputStream)
	runLoop(ctx, jobStream, transcriptionStream, resultBus, cfg.ConsumerGroup, cfg.ConsumerID, transcriber, logger)
}

func runLoop(ctx context.Context, jobStream bus.Stream, transcriptionStream bus.Stream, resultBus bus.ResultBus, group, consumer string, transcriber stt.Transcriber, logger logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entries, err := jobStream.Read(ctx, group, consumer, 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("stream read failed", "error", err)
			continue
		}

		var acked []string
		for _, entry := range entries {
			processJob(ctx, entry, transcriptionStream, resultBus, transcriber, logger)
			acked = append(acked, entry.ID)
		}
		if len(acked) > 0 {
			if err := jobStream.Ack(ctx, group, acked...); err != nil {
				logger.Error("ack failed", "error", err)
			}
		}
	}
}

func processJob(ctx context.Context, entry bus.Entry, transcriptionStream bus.Stream, resultBus bus.ResultBus, transcriber stt.Transcriber, logger logging.Logger) {
	job, err := bus.DecodeJob(entry.Fields)
	if err != nil {
		logger.Error("decode job failed", "error", err)
		return
	}

	logger.Info("processing job", "job_id", job.JobID, "client_id", job.ClientID)

	start := time.Now()
	text, err := transcriber.Transcribe(ctx, job.AudioBytes, job.SourceLang)
	audioDuration := float64(len(job.AudioBytes)) / float64(job.SampleRate*2)

	result := bus.Result{
		Status:             "ok",
		JobID:              job.JobID,
		ClientID:           job.ClientID,
		SegmentID:          job.SegmentID,
		Text:               text,
		SourceLang:         job.SourceLang,
		TargetLang:         job.TargetLang,
		TranslationEnabled: job.TranslationEnabled,
		IsFinal:            job.IsFinal,
		ProcessingTime:     time.Since(start).Seconds(),
		AudioDuration:      audioDuration,
		WorkerID:           transcriber.Name() + "-" + job.GatewayInstance,
		Timestamp:          float64(time.Now().UnixNano()) / 1e9,
	}
	if err != nil {
		logger.Error("transcribe failed", "job_id", job.JobID, "error", err)
		result.Status = "error"
		result.Text = ""
	}

	// Per the gateway/worker topology, the STT result itself is only ever
	// the terminal message to the client when translation is disabled, the
	// transcription failed, or there is no text to hand a translator. In
	// two-stage mode with usable text, only the translation worker's result
	// reaches results:<client_id>; publishing here too would clear the
	// router's in_flight flag before translation completes.
	if result.Status == "error" || !job.TranslationEnabled || strings.TrimSpace(result.Text) == "" {
		if err := resultBus.Publish(ctx, job.ClientID, result); err != nil {
			logger.Error("publish result failed", "job_id", job.JobID, "error", err)
		}
		return
	}

	transcription := bus.Transcription{
		JobID:         job.JobID,
		ClientID:      job.ClientID,
		SegmentID:     job.SegmentID,
		Text:          result.Text,
		SourceLang:    job.SourceLang,
		TargetLang:    job.TargetLang,
		IsFinal:       job.IsFinal,
		Timestamp:     result.Timestamp,
		AudioDuration: audioDuration,
	}
	if ok, err := transcriptionStream.Append(ctx, transcription.Encode(), 1<<62); err != nil || !ok {
		logger.Error("publish transcription failed", "job_id", job.JobID, "error", err)
		// Nothing downstream will ever terminate this job; fall back to
		// publishing the STT result directly so the router can still
		// unlock in_flight instead of stalling the client's pipeline.
		if err := resultBus.Publish(ctx, job.ClientID, result); err != nil {
			logger.Error("publish fallback result failed", "job_id", job.JobID, "error", err)
		}
	}
}

func selectTranscriber() (stt.Transcriber, string) {
	providerName := os.Getenv("STT_PROVIDER")
	if providerName == "" {
		providerName = "groq"
	}

	switch providerName {
	case "openai":
		key := requireEnv("OPENAI_API_KEY", "openai STT")
		return stt.NewOpenAISTT(key, "whisper-1"), providerName
	case "deepgram":
		key := requireEnv("DEEPGRAM_API_KEY", "deepgram STT")
		return stt.NewDeepgramSTT(key), providerName
	case "assemblyai":
		key := requireEnv("ASSEMBLYAI_API_KEY", "assemblyai STT")
		return stt.NewAssemblyAISTT(key), providerName
	case "groq":
		fallthrough
	default:
		key := requireEnv("GROQ_API_KEY", "groq STT")
		model := os.Getenv("GROQ_STT_MODEL")
		if model == "" {
			model = "whisper-large-v3-turbo"
		}
		return stt.NewGroqSTT(key, model), "groq"
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
