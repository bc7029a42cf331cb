package engine

import (
	"context"
	"testing"

	"github.com/speechmesh/gateway/pkg/bus"
	"github.com/speechmesh/gateway/pkg/dispatch"
	"github.com/speechmesh/gateway/pkg/flow"
	"github.com/speechmesh/gateway/pkg/session"
)

// scriptedDetector replays a fixed sequence of speech/no-speech answers,
// one per ProcessChunk call, so tests can drive the state machine through
// an exact transition sequence without a real VAD model.
type scriptedDetector struct {
	answers []bool
	i       int
}

func (d *scriptedDetector) DetectSpeech(_ context.Context, _ []byte) (bool, error) {
	if d.i >= len(d.answers) {
		return false, nil
	}
	v := d.answers[d.i]
	d.i++
	return v, nil
}

func newTestEngine(t *testing.T, detector *scriptedDetector, cfg Config) (*Engine, session.Store, *bus.MemoryStream) {
	t.Helper()
	store := session.NewMemoryStore("en", "en")
	stream := bus.NewMemoryStream()
	flowReg := flow.NewRegistry()
	d := dispatch.New(stream, flowReg, dispatch.Config{
		SampleRate:             16000,
		MinimumNewAudioSeconds: 0.01,
		MaxQueueDepth:          1000,
		GatewayInstanceID:      "gw-test",
	}, nil)
	e := New(detector, d, store, flowReg, cfg, nil)
	return e, store, stream
}

func chunk(seconds float64, sampleRate int) []byte {
	return make([]byte, int(seconds*float64(sampleRate)*2))
}

func TestInactiveStaysInactiveWithoutSpeech(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newTestEngine(t, &scriptedDetector{answers: []bool{false, false}}, Config{
		SampleRate:              16000,
		PreSpeechBufferSeconds:  0.5,
		MaxAudioBufferSeconds:   30,
		SilenceThresholdSeconds: 1,
	})

	if err := e.ProcessChunk(ctx, "c1", chunk(0.1, 16000), 0); err != nil {
		t.Fatalf("process: %v", err)
	}
	s, _ := store.Load(ctx, "c1")
	if s.State != session.StateInactive {
		t.Errorf("state = %s, want inactive", s.State)
	}
	if len(s.PreSpeechBuffer) == 0 {
		t.Error("expected pre-speech buffer to accumulate even while inactive")
	}
}

func TestSpeechOnsetTransfersPreSpeechBufferAndPublishes(t *testing.T) {
	ctx := context.Background()
	e, store, stream := newTestEngine(t, &scriptedDetector{answers: []bool{false, true}}, Config{
		SampleRate:              16000,
		PreSpeechBufferSeconds:  0.5,
		MaxAudioBufferSeconds:   30,
		SilenceThresholdSeconds: 1,
	})

	if err := e.ProcessChunk(ctx, "c1", chunk(0.1, 16000), 0); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := e.ProcessChunk(ctx, "c1", chunk(0.1, 16000), 0.1); err != nil {
		t.Fatalf("process: %v", err)
	}

	s, _ := store.Load(ctx, "c1")
	if s.State != session.StateActive {
		t.Fatalf("state = %s, want active", s.State)
	}
	wantBufferBytes := int(0.2 * 16000 * 2) // pre-speech chunk + speech chunk
	if len(s.AudioBuffer) != wantBufferBytes {
		t.Errorf("audio buffer = %d bytes, want %d (pre-speech buffer carried forward)", len(s.AudioBuffer), wantBufferBytes)
	}

	depth, _ := stream.Len(ctx)
	if depth != 1 {
		t.Errorf("expected one job published on speech onset, got depth %d", depth)
	}
}

func TestSilenceTimeoutFinalizesAndReturnsToInactive(t *testing.T) {
	ctx := context.Background()
	e, store, stream := newTestEngine(t, &scriptedDetector{answers: []bool{true, false, false}}, Config{
		SampleRate:              16000,
		PreSpeechBufferSeconds:  0.5,
		MaxAudioBufferSeconds:   30,
		SilenceThresholdSeconds: 0.5,
	})

	if err := e.ProcessChunk(ctx, "c1", chunk(0.2, 16000), 0); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := e.ProcessChunk(ctx, "c1", chunk(0.1, 16000), 0.2); err != nil { // silence starts at t=0.2
		t.Fatalf("process: %v", err)
	}
	if err := e.ProcessChunk(ctx, "c1", chunk(0.1, 16000), 0.8); err != nil { // 0.6s of silence elapsed, past the 0.5s threshold
		t.Fatalf("process: %v", err)
	}

	s, _ := store.Load(ctx, "c1")
	if s.State != session.StateInactive {
		t.Fatalf("state = %s, want inactive after silence timeout", s.State)
	}
	if len(s.AudioBuffer) != 0 {
		t.Errorf("expected audio buffer cleared after finalization, got %d bytes", len(s.AudioBuffer))
	}

	depth, _ := stream.Len(ctx)
	if depth != 2 { // the onset job plus the forced final job
		t.Errorf("expected 2 jobs published, got depth %d", depth)
	}
}

func TestResumeFromSilenceReturnsToActive(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newTestEngine(t, &scriptedDetector{answers: []bool{true, false, true}}, Config{
		SampleRate:              16000,
		PreSpeechBufferSeconds:  0.5,
		MaxAudioBufferSeconds:   30,
		SilenceThresholdSeconds: 5,
	})

	if err := e.ProcessChunk(ctx, "c1", chunk(0.2, 16000), 0); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := e.ProcessChunk(ctx, "c1", chunk(0.1, 16000), 0.2); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := e.ProcessChunk(ctx, "c1", chunk(0.1, 16000), 0.3); err != nil {
		t.Fatalf("process: %v", err)
	}

	s, _ := store.Load(ctx, "c1")
	if s.State != session.StateActive {
		t.Fatalf("state = %s, want active after resuming from silence", s.State)
	}
	if s.SilenceStartTime != nil {
		t.Error("expected silence marker cleared on resume")
	}
}

func TestOverflowDropsOldestBytesWhenNotFinalizing(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newTestEngine(t, &scriptedDetector{answers: []bool{true, true}}, Config{
		SampleRate:              16000,
		PreSpeechBufferSeconds:  0.1,
		MaxAudioBufferSeconds:   0.15,
		SilenceThresholdSeconds: 5,
		SendFinalJobOnMaxBuffer: false,
	})

	if err := e.ProcessChunk(ctx, "c1", chunk(0.1, 16000), 0); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := e.ProcessChunk(ctx, "c1", chunk(0.1, 16000), 0.1); err != nil {
		t.Fatalf("process: %v", err)
	}

	s, _ := store.Load(ctx, "c1")
	maxBytes := int(0.15 * 16000 * 2)
	if len(s.AudioBuffer) > maxBytes {
		t.Errorf("audio buffer = %d bytes, should be capped at %d", len(s.AudioBuffer), maxBytes)
	}
	if s.State != session.StateActive {
		t.Errorf("state = %s, want active (overflow without forced finalize keeps speaking)", s.State)
	}
}

func TestOverflowFinalizesWhenConfigured(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newTestEngine(t, &scriptedDetector{answers: []bool{true, true}}, Config{
		SampleRate:              16000,
		PreSpeechBufferSeconds:  0.1,
		MaxAudioBufferSeconds:   0.15,
		SilenceThresholdSeconds: 5,
		SendFinalJobOnMaxBuffer: true,
	})

	if err := e.ProcessChunk(ctx, "c1", chunk(0.1, 16000), 0); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := e.ProcessChunk(ctx, "c1", chunk(0.1, 16000), 0.1); err != nil {
		t.Fatalf("process: %v", err)
	}

	s, _ := store.Load(ctx, "c1")
	if s.State != session.StateInactive {
		t.Errorf("state = %s, want inactive after forced finalize on overflow", s.State)
	}
}

func TestStartOverClearsSessionAndFlowState(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newTestEngine(t, &scriptedDetector{answers: []bool{true}}, Config{
		SampleRate:              16000,
		PreSpeechBufferSeconds:  0.1,
		MaxAudioBufferSeconds:   30,
		SilenceThresholdSeconds: 5,
	})

	if err := e.ProcessChunk(ctx, "c1", chunk(0.1, 16000), 0); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := e.StartOver(ctx, "c1"); err != nil {
		t.Fatalf("start over: %v", err)
	}

	s, _ := store.Load(ctx, "c1")
	if s.State != session.StateInactive || len(s.AudioBuffer) != 0 {
		t.Errorf("expected session reset after start_over, got state=%s buffer=%d", s.State, len(s.AudioBuffer))
	}
	if e.flowReg.InFlight("c1") || e.flowReg.LatestSegmentIDSent("c1") != -1 {
		t.Errorf("expected flow state reset after start_over, got in_flight=%v latest_segment_id_sent=%d", e.flowReg.InFlight("c1"), e.flowReg.LatestSegmentIDSent("c1"))
	}
}

func TestSetLanguagesUpdatesSession(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newTestEngine(t, &scriptedDetector{}, Config{
		SampleRate:              16000,
		PreSpeechBufferSeconds:  0.1,
		MaxAudioBufferSeconds:   30,
		SilenceThresholdSeconds: 5,
	})

	if err := e.SetLanguages(ctx, "c1", "en", "vi"); err != nil {
		t.Fatalf("set languages: %v", err)
	}
	s, _ := store.Load(ctx, "c1")
	if s.SourceLang != "en" || s.TargetLang != "vi" {
		t.Errorf("languages = %s/%s, want en/vi", s.SourceLang, s.TargetLang)
	}
	if !s.TranslationEnabled() {
		t.Error("expected translation enabled once source and target differ")
	}
}
