// Package engine implements the per-client speech-session state machine
// (C3): pre-speech buffering, the INACTIVE/ACTIVE/SILENCE transitions, and
// the silence-timeout and max-buffer-overflow forced finalizations that
// hand off to the job dispatcher.
package engine

import (
	"context"
	"fmt"

	"github.com/speechmesh/gateway/internal/logging"
	"github.com/speechmesh/gateway/pkg/dispatch"
	"github.com/speechmesh/gateway/pkg/flow"
	"github.com/speechmesh/gateway/pkg/session"
	"github.com/speechmesh/gateway/pkg/vad"
)

// Config holds the tunables the engine needs per chunk processed.
type Config struct {
	SampleRate              int
	PreSpeechBufferSeconds  float64
	MaxAudioBufferSeconds   float64
	SilenceThresholdSeconds float64
	SendFinalJobOnMaxBuffer bool
}

// Engine drives one gateway instance's speech-session state machines. It is
// safe for concurrent use across different client ids; callers must not
// call ProcessChunk concurrently for the same client id (the gateway layer
// serializes per-connection reads, which already guarantees this).
type Engine struct {
	detector   vad.Detector
	dispatcher *dispatch.Dispatcher
	store      session.Store
	flowReg    *flow.Registry
	logger     logging.Logger

	sampleRate       int
	preSpeechBytes   int
	maxBufferBytes   int
	silenceThreshold float64
	sendFinalOnMax   bool
}

func New(detector vad.Detector, dispatcher *dispatch.Dispatcher, store session.Store, flowReg *flow.Registry, cfg Config, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	bytesPerSecond := cfg.SampleRate * 2
	return &Engine{
		detector:         detector,
		dispatcher:       dispatcher,
		store:            store,
		flowReg:          flowReg,
		logger:           logger,
		sampleRate:       cfg.SampleRate,
		preSpeechBytes:   int(cfg.PreSpeechBufferSeconds * float64(bytesPerSecond)),
		maxBufferBytes:   int(cfg.MaxAudioBufferSeconds * float64(bytesPerSecond)),
		silenceThreshold: cfg.SilenceThresholdSeconds,
		sendFinalOnMax:   cfg.SendFinalJobOnMaxBuffer,
	}
}

// ProcessChunk feeds one raw PCM chunk through the state machine for
// clientID, publishing jobs through the dispatcher as the eligibility
// predicate and forced-finalization rules dictate, and persists the
// resulting session.
func (e *Engine) ProcessChunk(ctx context.Context, clientID string, chunk []byte, now float64) error {
	s, err := e.store.Load(ctx, clientID)
	if err != nil {
		return fmt.Errorf("engine: load session for %s: %w", clientID, err)
	}

	e.rollPreSpeechBuffer(s, chunk)

	hasSpeech, err := e.detector.DetectSpeech(ctx, chunk)
	if err != nil {
		return fmt.Errorf("engine: detect speech for %s: %w", clientID, err)
	}

	switch s.State {
	case session.StateInactive:
		e.handleInactive(ctx, s, chunk, hasSpeech)
	case session.StateActive:
		e.handleActive(ctx, s, chunk, hasSpeech, now)
	case session.StateSilence:
		if err := e.handleSilence(ctx, s, chunk, hasSpeech, now); err != nil {
			return err
		}
	}

	// Rolled after the transition so that, on speech onset, the pre-speech
	// bytes moved ahead of chunk do not already contain chunk itself.
	e.rollPreSpeechBuffer(s, chunk)

	if err := e.handleOverflow(ctx, s); err != nil {
		return err
	}

	if err := e.store.Save(ctx, s); err != nil {
		return fmt.Errorf("engine: save session for %s: %w", clientID, err)
	}
	return nil
}

func (e *Engine) rollPreSpeechBuffer(s *session.Session, chunk []byte) {
	s.PreSpeechBuffer = append(s.PreSpeechBuffer, chunk...)
	if e.preSpeechBytes > 0 && len(s.PreSpeechBuffer) > e.preSpeechBytes {
		s.PreSpeechBuffer = append([]byte(nil), s.PreSpeechBuffer[len(s.PreSpeechBuffer)-e.preSpeechBytes:]...)
	}
}

func (e *Engine) handleInactive(ctx context.Context, s *session.Session, chunk []byte, hasSpeech bool) {
	if !hasSpeech {
		return
	}
	// rollPreSpeechBuffer has already appended chunk to the pre-speech
	// buffer; carry forward only the bytes that precede it.
	prior := s.PreSpeechBuffer
	if len(prior) >= len(chunk) {
		prior = prior[:len(prior)-len(chunk)]
	} else {
		prior = nil
	}
	s.AudioBuffer = append(append([]byte(nil), prior...), chunk...)
	s.StartSpeech()
	if _, err := e.dispatcher.PublishIfNeeded(ctx, s, false, false); err != nil {
		e.logger.Error("publish failed on speech onset", "client_id", s.ClientID, "error", err)
	}
}

func (e *Engine) handleActive(ctx context.Context, s *session.Session, chunk []byte, hasSpeech bool, now float64) {
	s.AudioBuffer = append(s.AudioBuffer, chunk...)
	if hasSpeech {
		if _, err := e.dispatcher.PublishIfNeeded(ctx, s, false, false); err != nil {
			e.logger.Error("publish failed mid-utterance", "client_id", s.ClientID, "error", err)
		}
		return
	}
	s.State = session.StateSilence
	start := now
	s.SilenceStartTime = &start
	s.SilenceBufferStartLen = len(s.AudioBuffer) - len(chunk)
}

func (e *Engine) handleSilence(ctx context.Context, s *session.Session, chunk []byte, hasSpeech bool, now float64) error {
	s.AudioBuffer = append(s.AudioBuffer, chunk...)
	if hasSpeech {
		s.State = session.StateActive
		s.SilenceStartTime = nil
		s.SilenceBufferStartLen = len(s.AudioBuffer) - len(chunk)
		if _, err := e.dispatcher.PublishIfNeeded(ctx, s, false, false); err != nil {
			e.logger.Error("publish failed resuming from silence", "client_id", s.ClientID, "error", err)
		}
		return nil
	}

	if s.SilenceStartTime == nil {
		return nil // defensive: silence entered without a marker, wait for the next chunk
	}
	if now-*s.SilenceStartTime < e.silenceThreshold {
		return nil
	}

	if _, err := e.dispatcher.PublishIfNeeded(ctx, s, true, true); err != nil {
		return fmt.Errorf("engine: finalize utterance for %s: %w", s.ClientID, err)
	}
	s.EndSpeechSession()
	return nil
}

// handleOverflow enforces the max-buffer cap while a session is speaking:
// finalize the utterance if configured to, otherwise drop the oldest bytes
// and shift the markers that index into the buffer by the same amount.
func (e *Engine) handleOverflow(ctx context.Context, s *session.Session) error {
	if s.State == session.StateInactive || e.maxBufferBytes <= 0 || len(s.AudioBuffer) < e.maxBufferBytes {
		return nil
	}

	if e.sendFinalOnMax {
		if _, err := e.dispatcher.PublishIfNeeded(ctx, s, true, true); err != nil {
			return fmt.Errorf("engine: finalize utterance on buffer overflow for %s: %w", s.ClientID, err)
		}
		s.EndSpeechSession()
		return nil
	}

	overflow := len(s.AudioBuffer) - e.maxBufferBytes
	s.AudioBuffer = append([]byte(nil), s.AudioBuffer[overflow:]...)
	s.LastPublishedLen = shiftMarker(s.LastPublishedLen, overflow)
	s.SilenceBufferStartLen = shiftMarker(s.SilenceBufferStartLen, overflow)
	e.logger.Warn("audio buffer overflow, dropping oldest bytes", "client_id", s.ClientID, "dropped_bytes", overflow)
	return nil
}

func shiftMarker(marker, overflow int) int {
	marker -= overflow
	if marker < 0 {
		return 0
	}
	return marker
}

// StartOver handles the start_over control message: it discards the
// current utterance without dispatching a final job, clears the flow
// registry's in-flight and latest-segment-sent bookkeeping, and persists
// the reset session.
func (e *Engine) StartOver(ctx context.Context, clientID string) error {
	s, err := e.store.Load(ctx, clientID)
	if err != nil {
		return fmt.Errorf("engine: load session for %s: %w", clientID, err)
	}
	s.EndSpeechSession()
	e.flowReg.ResetForStartOver(clientID)
	if err := e.store.Save(ctx, s); err != nil {
		return fmt.Errorf("engine: save session for %s: %w", clientID, err)
	}
	return nil
}

// SetLanguages updates a client's source/target language pair. Per the
// language-change-mid-utterance resolution, this only takes effect on the
// next job the dispatcher builds; any job already appended to the stream
// keeps the language pair it was built with.
func (e *Engine) SetLanguages(ctx context.Context, clientID, sourceLang, targetLang string) error {
	s, err := e.store.Load(ctx, clientID)
	if err != nil {
		return fmt.Errorf("engine: load session for %s: %w", clientID, err)
	}
	s.SourceLang = sourceLang
	s.TargetLang = targetLang
	if err := e.store.Save(ctx, s); err != nil {
		return fmt.Errorf("engine: save session for %s: %w", clientID, err)
	}
	return nil
}

// Status returns the current session snapshot for a get_status request.
func (e *Engine) Status(ctx context.Context, clientID string) (*session.Session, error) {
	s, err := e.store.Load(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("engine: load session for %s: %w", clientID, err)
	}
	return s, nil
}
