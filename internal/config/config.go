// Package config loads the tunables shared by the gateway and the worker
// binaries from the environment, following the .env-then-os.Getenv pattern
// the rest of this module's ancestry uses.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadDotenv loads a .env file if present. A missing file is not an error;
// system environment variables are the fallback, exactly as the original
// agent entrypoint treats it.
func LoadDotenv() {
	if err := godotenv.Load(); err != nil {
		log.Println("note: no .env file found, using system environment variables")
	}
}

// Gateway holds every environment-configurable tunable the gateway process
// reads at startup (SILENCE_THRESHOLD_SECONDS, SAMPLE_RATE, ...).
type Gateway struct {
	RedisURL string

	GatewayPort int
	HealthPort  int

	SampleRate int

	WebRTCSensitivity int
	SileroSensitivity float64

	PreSpeechBufferSeconds   float64
	MinimumNewAudioSeconds   float64
	MaxAudioBufferSeconds    float64
	SilenceThresholdSeconds  float64
	SendFinalJobOnMaxBuffer  bool
	SessionExpirationSeconds int

	MaxQueueDepth int

	DefaultSourceLanguage string
	DefaultTargetLanguage string

	AudioJobsStream      string
	TranscriptionsStream string
	ResultsChannelPrefix string
	SessionKeyPrefix     string
}

// LoadGateway reads Gateway config from the environment, applying sensible
// production defaults for anything left unset.
func LoadGateway() (*Gateway, error) {
	cfg := &Gateway{
		RedisURL:                 getenv("REDIS_URL", "redis://localhost:6379/0"),
		GatewayPort:              getenvInt("GATEWAY_PORT", 8765),
		HealthPort:               getenvInt("HEALTH_PORT", 8080),
		SampleRate:               getenvInt("SAMPLE_RATE", 16000),
		WebRTCSensitivity:        getenvInt("WEBRTC_SENSITIVITY", 3),
		SileroSensitivity:        getenvFloat("SILERO_SENSITIVITY", 0.7),
		PreSpeechBufferSeconds:   getenvFloat("PRE_SPEECH_BUFFER_SECONDS", 2.0),
		MinimumNewAudioSeconds:   getenvFloat("MINIMUM_NEW_AUDIO_SECONDS", 1.0),
		MaxAudioBufferSeconds:    getenvFloat("MAX_AUDIO_BUFFER_SECONDS", 10.0),
		SilenceThresholdSeconds:  getenvFloat("SILENCE_THRESHOLD_SECONDS", 1.0),
		SendFinalJobOnMaxBuffer:  getenvBool("SEND_FINAL_JOB_ON_MAX_BUFFER", true),
		SessionExpirationSeconds: getenvInt("SESSION_EXPIRATION_SECONDS", 900),
		MaxQueueDepth:            getenvInt("MAX_QUEUE_DEPTH", 100),
		DefaultSourceLanguage:    getenv("DEFAULT_SOURCE_LANGUAGE", "en"),
		DefaultTargetLanguage:    getenv("DEFAULT_TARGET_LANGUAGE", "en"),
		AudioJobsStream:          getenv("AUDIO_JOBS_STREAM", "audio_jobs"),
		TranscriptionsStream:     getenv("TRANSCRIPTIONS_STREAM", "transcriptions"),
		ResultsChannelPrefix:     getenv("RESULTS_CHANNEL_PREFIX", "results:"),
		SessionKeyPrefix:         getenv("SESSION_KEY_PREFIX", "session:"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on configuration that would make the gateway's
// invariants impossible to hold.
func (c *Gateway) Validate() error {
	if c.SampleRate != 16000 {
		return fmt.Errorf("config: SAMPLE_RATE must be 16000, got %d", c.SampleRate)
	}
	if c.WebRTCSensitivity < 0 || c.WebRTCSensitivity > 3 {
		return fmt.Errorf("config: WEBRTC_SENSITIVITY must be 0-3, got %d", c.WebRTCSensitivity)
	}
	if c.SileroSensitivity < 0 || c.SileroSensitivity > 1 {
		return fmt.Errorf("config: SILERO_SENSITIVITY must be 0.0-1.0, got %f", c.SileroSensitivity)
	}
	if c.MinimumNewAudioSeconds <= 0 {
		return fmt.Errorf("config: MINIMUM_NEW_AUDIO_SECONDS must be positive, got %f", c.MinimumNewAudioSeconds)
	}
	if c.MaxAudioBufferSeconds <= 0 {
		return fmt.Errorf("config: MAX_AUDIO_BUFFER_SECONDS must be positive, got %f", c.MaxAudioBufferSeconds)
	}
	if c.MaxQueueDepth <= 0 {
		return fmt.Errorf("config: MAX_QUEUE_DEPTH must be positive, got %d", c.MaxQueueDepth)
	}
	return nil
}

// Worker holds the tunables shared by the STT and translation worker
// binaries.
type Worker struct {
	RedisURL       string
	ConsumerGroup  string
	ConsumerID     string
	HealthPort     int
	InputStream    string
	OutputStream   string // TRANSCRIPTIONS_STREAM for the STT worker, unused by the translation worker
	ResultsChannel string
}

// LoadSTTWorker reads config for cmd/sttworker.
func LoadSTTWorker(workerID string) *Worker {
	return &Worker{
		RedisURL:       getenv("REDIS_URL", "redis://localhost:6379/0"),
		ConsumerGroup:  getenv("CONSUMER_GROUP", "stt_workers"),
		ConsumerID:     workerID,
		HealthPort:     getenvInt("HEALTH_PORT", 8081),
		InputStream:    getenv("AUDIO_JOBS_STREAM", "audio_jobs"),
		OutputStream:   getenv("TRANSCRIPTIONS_STREAM", "transcriptions"),
		ResultsChannel: getenv("RESULTS_CHANNEL_PREFIX", "results:"),
	}
}

// LoadTranslationWorker reads config for cmd/translationworker.
func LoadTranslationWorker(workerID string) *Worker {
	return &Worker{
		RedisURL:       getenv("REDIS_URL", "redis://localhost:6379/0"),
		ConsumerGroup:  getenv("CONSUMER_GROUP", "translation_workers"),
		ConsumerID:     workerID,
		HealthPort:     getenvInt("HEALTH_PORT", 8082),
		InputStream:    getenv("TRANSCRIPTIONS_STREAM", "transcriptions"),
		ResultsChannel: getenv("RESULTS_CHANNEL_PREFIX", "results:"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
