package gateway

import (
	"testing"

	"github.com/speechmesh/gateway/pkg/bus"
	"github.com/speechmesh/gateway/pkg/router"
)

func TestAudioFrameRoundTrip(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6}
	meta := AudioFrameMetadata{SampleRate: 16000, Sequence: 7}

	frame, err := BuildAudioFrame(meta, pcm)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	gotMeta, gotPCM, err := ParseAudioFrame(frame)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if gotMeta != meta {
		t.Errorf("metadata = %+v, want %+v", gotMeta, meta)
	}
	if string(gotPCM) != string(pcm) {
		t.Errorf("pcm = %v, want %v", gotPCM, pcm)
	}
}

func TestParseAudioFrameRejectsTruncatedHeader(t *testing.T) {
	if _, _, err := ParseAudioFrame([]byte{1, 2}); err == nil {
		t.Error("expected an error for a frame shorter than the length header")
	}
}

func TestParseAudioFrameRejectsOversizedMetadataLength(t *testing.T) {
	frame := []byte{0xFF, 0xFF, 0xFF, 0x7F} // claims ~2GB of metadata, frame has none
	if _, _, err := ParseAudioFrame(frame); err == nil {
		t.Error("expected an error when metadata length exceeds the frame size")
	}
}

func TestParseAudioFrameAllowsEmptyMetadata(t *testing.T) {
	frame, err := BuildAudioFrame(AudioFrameMetadata{}, []byte{9, 9})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	_, pcm, err := ParseAudioFrame(frame)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if string(pcm) != string([]byte{9, 9}) {
		t.Errorf("pcm = %v, want [9 9]", pcm)
	}
}

func TestToWireMessageMarksErrorKind(t *testing.T) {
	out := router.Outbound{Kind: router.KindError, Result: bus.Result{Text: "boom"}}
	msg := toWireMessage("c1", out)
	if msg.Type != string(router.KindError) {
		t.Errorf("type = %q, want %q", msg.Type, router.KindError)
	}
	if msg.Message != "boom" {
		t.Errorf("message field = %q, want %q", msg.Message, "boom")
	}
}

func TestToWireMessageRealtimeCarriesTranslation(t *testing.T) {
	out := router.Outbound{Kind: router.KindRealtime, Result: bus.Result{Text: "hi", Translation: "xin chao", TranslationEnabled: true}}
	msg := toWireMessage("c1", out)
	if msg.Translation != "xin chao" || msg.Message != "" {
		t.Errorf("unexpected wire message: %+v", msg)
	}
}

func TestToWireMessageUtteranceEndCarriesClientID(t *testing.T) {
	out := router.Outbound{Kind: router.KindUtteranceEnd}
	msg := toWireMessage("c1", out)
	if msg.Type != string(router.KindUtteranceEnd) || msg.ClientID != "c1" {
		t.Errorf("unexpected wire message: %+v", msg)
	}
}
