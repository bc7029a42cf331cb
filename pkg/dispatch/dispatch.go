// Package dispatch implements the Job Dispatcher (C4): the eligibility
// predicate and forced-publish path that decides when to append an audio
// segment to the AUDIO_JOBS stream.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/speechmesh/gateway/internal/logging"
	"github.com/speechmesh/gateway/pkg/bus"
	"github.com/speechmesh/gateway/pkg/flow"
	"github.com/speechmesh/gateway/pkg/session"
)

// Dispatcher publishes audio jobs for a stream of sessions, tracking the
// at-most-one-in-flight invariant (I5) via a shared flow.Registry.
type Dispatcher struct {
	stream          bus.Stream
	flowReg         *flow.Registry
	sampleRate      int
	minNewAudioSecs float64
	maxQueueDepth   int64
	instanceID      string
	logger          logging.Logger
}

// Config configures a Dispatcher at construction.
type Config struct {
	SampleRate             int
	MinimumNewAudioSeconds float64
	MaxQueueDepth          int64
	GatewayInstanceID      string
}

func New(stream bus.Stream, flowReg *flow.Registry, cfg Config, logger logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Dispatcher{
		stream:          stream,
		flowReg:         flowReg,
		sampleRate:      cfg.SampleRate,
		minNewAudioSecs: cfg.MinimumNewAudioSeconds,
		maxQueueDepth:   cfg.MaxQueueDepth,
		instanceID:      cfg.GatewayInstanceID,
		logger:          logger,
	}
}

// newSpeechSeconds computes the "new speech" window: audio after a
// silence marker counts, trailing silence before it does not.
func (d *Dispatcher) newSpeechSeconds(s *session.Session) float64 {
	var newSpeechBytes int
	if s.SilenceBufferStartLen > s.LastPublishedLen {
		newSpeechBytes = len(s.AudioBuffer) - s.SilenceBufferStartLen
		if newSpeechBytes < 0 {
			newSpeechBytes = 0
		}
	} else {
		newSpeechBytes = len(s.AudioBuffer) - s.LastPublishedLen
	}
	return float64(newSpeechBytes) / float64(d.sampleRate*2)
}

// inSilencePeriod reports whether the session is currently sitting inside a
// silence window that has not yet resolved into either resumed speech or a
// timeout (condition 4 of the eligibility predicate).
func inSilencePeriod(s *session.Session) bool {
	return s.SilenceStartTime != nil && s.SilenceBufferStartLen > 0 && len(s.AudioBuffer) > s.SilenceBufferStartLen
}

// PublishIfNeeded implements the eligibility predicate and forced-publish
// override. It mutates s's markers and the shared flow registry in place;
// callers are responsible for persisting s afterward. Returns true iff a
// job was actually appended to the stream.
func (d *Dispatcher) PublishIfNeeded(ctx context.Context, s *session.Session, isFinal, forcePublish bool) (bool, error) {
	bufferHasNewData := len(s.AudioBuffer) > s.LastPublishedLen
	if !bufferHasNewData {
		d.logger.Debug("job skip: no new audio data", "client_id", s.ClientID)
		return false, nil
	}

	newSpeechSecs := d.newSpeechSeconds(s)
	meetsMinimum := newSpeechSecs >= d.minNewAudioSecs
	inSilence := inSilencePeriod(s)

	// Every connected client has two goroutines that can reach this point
	// concurrently: the ingest path (gateway read loop -> engine ->
	// PublishIfNeeded) and the result-forward path (router's catch-up
	// publish). Both may observe the eligibility predicate true at once, so
	// the in_flight slot has to be claimed with a single atomic
	// compare-and-set rather than a separate read-then-later-write; a
	// forced publish bypasses in_flight entirely, per the eligibility
	// predicate, and does not claim the slot.
	reserved := false
	if !forcePublish {
		if inSilence {
			d.logger.Debug("job skip: in silence period", "client_id", s.ClientID)
			return false, nil
		}
		if !meetsMinimum {
			d.logger.Debug("job wait: below minimum new speech threshold", "client_id", s.ClientID, "new_speech_seconds", newSpeechSecs)
			return false, nil
		}
		if !d.flowReg.TryReserve(s.ClientID) {
			d.logger.Debug("job wait: previous job still in flight", "client_id", s.ClientID)
			return false, nil
		}
		reserved = true
	}

	ok, err := d.stream.Append(ctx, bus.Job{
		JobID:              fmt.Sprintf("%s_%s", s.ClientID, uuid.New().String()[:8]),
		ClientID:           s.ClientID,
		SegmentID:          time.Now().UnixMilli(),
		AudioBytes:         append([]byte(nil), s.AudioBuffer...), // full buffer per the resolved Open Question
		SampleRate:         d.sampleRate,
		SourceLang:         s.SourceLang,
		TargetLang:         s.TargetLang,
		TranslationEnabled: s.TranslationEnabled(),
		IsFinal:            isFinal,
		Timestamp:          float64(time.Now().UnixNano()) / 1e9,
		GatewayInstance:    d.instanceID,
	}.Encode(), d.maxQueueDepth)
	if err != nil {
		if reserved {
			d.flowReg.Release(s.ClientID)
		}
		return false, fmt.Errorf("dispatch: publish job for %s: %w", s.ClientID, err)
	}
	if !ok {
		if reserved {
			d.flowReg.Release(s.ClientID)
		}
		d.logger.Warn("job publish dropped: queue depth exceeds threshold", "client_id", s.ClientID)
		return false, nil
	}

	s.LastPublishedLen = len(s.AudioBuffer)
	s.SilenceBufferStartLen = 0
	if isFinal {
		// A forced final publish must not leave in_flight set, so its
		// terminal result is never blocked behind a flag nothing will
		// clear.
		d.flowReg.SetInFlight(s.ClientID, false)
	}

	d.logger.Info("job published", "client_id", s.ClientID, "is_final", isFinal, "new_speech_seconds", newSpeechSecs)
	return true, nil
}
