package gateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/speechmesh/gateway/pkg/bus"
	"github.com/speechmesh/gateway/pkg/dispatch"
	"github.com/speechmesh/gateway/pkg/engine"
	"github.com/speechmesh/gateway/pkg/flow"
	"github.com/speechmesh/gateway/pkg/router"
	"github.com/speechmesh/gateway/pkg/session"
	"github.com/speechmesh/gateway/pkg/vad"
)

// alwaysSpeechDetector reports every chunk as speech, so a single audio
// frame is enough to drive the engine into ACTIVE and publish a job.
type alwaysSpeechDetector struct{}

func (alwaysSpeechDetector) DetectSpeech(context.Context, []byte) (bool, error) { return true, nil }

func newTestServer(t *testing.T) (*httptest.Server, *bus.MemoryResultBus) {
	t.Helper()
	store := session.NewMemoryStore("en", "en")
	stream := bus.NewMemoryStream()
	resultBus := bus.NewMemoryResultBus()
	flowReg := flow.NewRegistry()

	d := dispatch.New(stream, flowReg, dispatch.Config{
		SampleRate:             16000,
		MinimumNewAudioSeconds: 0.01,
		MaxQueueDepth:          1000,
		GatewayInstanceID:      "gw-test",
	}, nil)
	eng := engine.New(alwaysSpeechDetector{}, d, store, flowReg, engine.Config{
		SampleRate:              16000,
		PreSpeechBufferSeconds:  0.1,
		MaxAudioBufferSeconds:   30,
		SilenceThresholdSeconds: 5,
	}, nil)
	rtr := router.New(resultBus, d, store, flowReg, nil)
	srv := NewServer(eng, rtr, store, flowReg, nil)

	return httptest.NewServer(srv), resultBus
}

func dialTestServer(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestServerForwardsRealtimeResultToClient(t *testing.T) {
	srv, resultBus := newTestServer(t)
	defer srv.Close()

	conn := dialTestServer(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// The gateway sends a status frame immediately on connect, carrying the
	// server-assigned client id.
	var status map[string]interface{}
	if err := wsjson.Read(ctx, conn, &status); err != nil {
		t.Fatalf("read status: %v", err)
	}
	clientID, _ := status["client_id"].(string)
	if clientID == "" {
		t.Fatal("expected a non-empty client_id in the connect status message")
	}

	// The server subscribes to the result bus only after writing the connect
	// status frame; give that Subscribe call a moment to register before a
	// worker publishes a result.
	time.Sleep(20 * time.Millisecond)

	if err := resultBus.Publish(ctx, clientID, bus.Result{
		ClientID: clientID,
		Text:     "hello world",
		Status:   "ok",
	}); err != nil {
		t.Fatalf("publish result: %v", err)
	}

	var realtime map[string]interface{}
	if err := wsjson.Read(ctx, conn, &realtime); err != nil {
		t.Fatalf("read realtime message: %v", err)
	}
	if realtime["type"] != "realtime" || realtime["text"] != "hello world" {
		t.Errorf("expected a realtime message carrying the result text, got %+v", realtime)
	}
}

func TestServerAnswersGetStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	conn := dialTestServer(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var connectStatus map[string]interface{}
	if err := wsjson.Read(ctx, conn, &connectStatus); err != nil {
		t.Fatalf("read connect status: %v", err)
	}

	if err := wsjson.Write(ctx, conn, map[string]string{"type": "get_status"}); err != nil {
		t.Fatalf("write control message: %v", err)
	}

	var status map[string]interface{}
	if err := wsjson.Read(ctx, conn, &status); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status["type"] != "status" {
		t.Errorf("expected a status message, got %+v", status)
	}
	if status["state"] != "inactive" {
		t.Errorf("expected a fresh session to report inactive, got %+v", status)
	}
}

func TestServerSetLangsThenStatusReflectsChange(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	conn := dialTestServer(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var connectStatus map[string]interface{}
	if err := wsjson.Read(ctx, conn, &connectStatus); err != nil {
		t.Fatalf("read connect status: %v", err)
	}

	if err := wsjson.Write(ctx, conn, map[string]string{"type": "set_langs", "source_language": "en", "target_language": "vi"}); err != nil {
		t.Fatalf("write set_langs: %v", err)
	}

	// set_langs triggers its own status echo before any reply to a
	// subsequent get_status.
	var afterSetLangs map[string]interface{}
	if err := wsjson.Read(ctx, conn, &afterSetLangs); err != nil {
		t.Fatalf("read status after set_langs: %v", err)
	}
	if afterSetLangs["target_language"] != "vi" {
		t.Errorf("expected target_language vi in the status echoed after set_langs, got %+v", afterSetLangs)
	}

	if err := wsjson.Write(ctx, conn, map[string]string{"type": "get_status"}); err != nil {
		t.Fatalf("write get_status: %v", err)
	}

	var status map[string]interface{}
	if err := wsjson.Read(ctx, conn, &status); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status["target_language"] != "vi" {
		t.Errorf("expected target_language vi after set_langs, got %+v", status)
	}
}
