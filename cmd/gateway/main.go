package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/speechmesh/gateway/internal/config"
	"github.com/speechmesh/gateway/internal/logging"
	"github.com/speechmesh/gateway/pkg/bus"
	"github.com/speechmesh/gateway/pkg/dispatch"
	"github.com/speechmesh/gateway/pkg/engine"
	"github.com/speechmesh/gateway/pkg/flow"
	"github.com/speechmesh/gateway/pkg/gateway"
	"github.com/speechmesh/gateway/pkg/router"
	"github.com/speechmesh/gateway/pkg/session"
	"github.com/speechmesh/gateway/pkg/vad"
)

func main() {
	config.LoadDotenv()

	cfg, err := config.LoadGateway()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	instanceID := os.Getenv("GATEWAY_INSTANCE_ID")
	if instanceID == "" {
		instanceID = "gw-" + uuid.New().String()[:8]
	}

	logger := logging.New("gateway", "instance_id", instanceID)

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis: parse REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opts)

	store := session.NewCachingStore(
		session.NewRedisStore(rdb, cfg.SessionKeyPrefix, time.Duration(cfg.SessionExpirationSeconds)*time.Second, cfg.DefaultSourceLanguage, cfg.DefaultTargetLanguage),
		30*time.Second,
	)

	coarse, err := vad.NewEnergyCoarseDetector(cfg.WebRTCSensitivity)
	if err != nil {
		log.Fatalf("vad: %v", err)
	}
	detector := vad.NewDual(coarse, vad.NewEnergyPreciseDetector(), cfg.SileroSensitivity)

	jobStream := bus.NewRedisStream(rdb, cfg.AudioJobsStream)
	resultBus := bus.NewRedisResultBus(rdb, cfg.ResultsChannelPrefix)
	flowReg := flow.NewRegistry()

	dispatcher := dispatch.New(jobStream, flowReg, dispatch.Config{
		SampleRate:             cfg.SampleRate,
		MinimumNewAudioSeconds: cfg.MinimumNewAudioSeconds,
		MaxQueueDepth:          int64(cfg.MaxQueueDepth),
		GatewayInstanceID:      instanceID,
	}, logger.With("component", "dispatch"))

	eng := engine.New(detector, dispatcher, store, flowReg, engine.Config{
		SampleRate:              cfg.SampleRate,
		PreSpeechBufferSeconds:  cfg.PreSpeechBufferSeconds,
		MaxAudioBufferSeconds:   cfg.MaxAudioBufferSeconds,
		SilenceThresholdSeconds: cfg.SilenceThresholdSeconds,
		SendFinalJobOnMaxBuffer: cfg.SendFinalJobOnMaxBuffer,
	}, logger.With("component", "engine"))

	rtr := router.New(resultBus, dispatcher, store, flowReg, logger.With("component", "router"))

	srv := gateway.NewServer(eng, rtr, store, flowReg, logger.With("component", "server"))

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.GatewayPort),
		Handler: srv,
	}

	go func() {
		logger.Info("gateway listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("gateway serve failed", "error", err)
		}
	}()

	go serveHealth(cfg.HealthPort, logger)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
	_ = httpServer.Close()
}

func serveHealth(port int, logger logging.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	addr := fmt.Sprintf(":%d", port)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("health server stopped", "error", err)
	}
}
