package bus

import (
	"context"
	"testing"
	"time"
)

func TestJobEncodeDecodeRoundTrip(t *testing.T) {
	j := Job{
		JobID:              "client-1_abcd1234",
		ClientID:           "client-1",
		SegmentID:          1700000000123,
		AudioBytes:         []byte{0, 1, 2, 3, 255, 254},
		SampleRate:         16000,
		SourceLang:         "en",
		TargetLang:         "vi",
		TranslationEnabled: true,
		IsFinal:            true,
		Timestamp:          1700000000.5,
		GatewayInstance:    "gw-1",
	}

	encoded := j.Encode()
	asStringMap := make(map[string]interface{}, len(encoded))
	for k, v := range encoded {
		asStringMap[k] = v
	}

	decoded, err := DecodeJob(asStringMap)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.JobID != j.JobID || decoded.ClientID != j.ClientID || decoded.SegmentID != j.SegmentID {
		t.Errorf("identity fields mismatch: %+v", decoded)
	}
	if string(decoded.AudioBytes) != string(j.AudioBytes) {
		t.Errorf("audio bytes mismatch: got %v want %v", decoded.AudioBytes, j.AudioBytes)
	}
	if decoded.TranslationEnabled != true || decoded.IsFinal != true {
		t.Errorf("bool decode mismatch: %+v", decoded)
	}
}

func TestDecodeBoolAcceptsPermissiveForms(t *testing.T) {
	cases := map[string]bool{"true": true, "True": true, "1": true, "yes": true, "on": true, "false": false, "": false, "0": false}
	for in, want := range cases {
		if got := decodeBool(in); got != want {
			t.Errorf("decodeBool(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestResultIsTranslationResult(t *testing.T) {
	r := Result{Translation: "  "}
	if r.IsTranslationResult() {
		t.Error("whitespace-only translation should not count as a translation result")
	}
	r.Translation = "xin chao"
	if !r.IsTranslationResult() {
		t.Error("non-empty translation should count as a translation result")
	}
}

func TestMemoryStreamBackpressure(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStream()
	s.SeedDepth(101)

	ok, err := s.Append(ctx, map[string]interface{}{"x": "1"}, 100)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if ok {
		t.Error("expected append to be rejected once depth exceeds MAX_QUEUE_DEPTH")
	}

	depth, _ := s.Len(ctx)
	if depth != 101 {
		t.Errorf("depth = %d, want 101", depth)
	}
}

func TestMemoryStreamConsumerGroupReadAck(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStream()
	if err := s.EnsureGroup(ctx, "workers"); err != nil {
		t.Fatalf("ensure group: %v", err)
	}

	ok, err := s.Append(ctx, map[string]interface{}{"job_id": "j1"}, 100)
	if err != nil || !ok {
		t.Fatalf("append: ok=%v err=%v", ok, err)
	}

	entries, err := s.Read(ctx, "workers", "consumer-1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	if err := s.Ack(ctx, "workers", entries[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}

	more, err := s.Read(ctx, "workers", "consumer-1", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(more) != 0 {
		t.Errorf("expected no further entries, got %d", len(more))
	}
}

func TestMemoryResultBusTopicIsolation(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryResultBus()

	chA, cancelA, err := b.Subscribe(ctx, "client-a")
	if err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	defer cancelA()

	chB, cancelB, err := b.Subscribe(ctx, "client-b")
	if err != nil {
		t.Fatalf("subscribe b: %v", err)
	}
	defer cancelB()

	if err := b.Publish(ctx, "client-a", Result{ClientID: "client-a", Text: "hello"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case r := <-chA:
		if r.Text != "hello" {
			t.Errorf("unexpected payload: %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for client-a result")
	}

	select {
	case r := <-chB:
		t.Errorf("client-b should not receive client-a's result, got %+v", r)
	case <-time.After(20 * time.Millisecond):
	}
}
