// Package gateway implements the client-facing WebSocket transport: binary
// audio ingest, JSON control messages, and the per-client result-forwarding
// loop that turns router.Outbound values into wire messages.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/speechmesh/gateway/internal/logging"
	"github.com/speechmesh/gateway/pkg/bus"
	"github.com/speechmesh/gateway/pkg/engine"
	"github.com/speechmesh/gateway/pkg/flow"
	"github.com/speechmesh/gateway/pkg/router"
	"github.com/speechmesh/gateway/pkg/session"
)

// Server accepts client WebSocket connections and drives each one through
// the speech-session engine and the result router.
type Server struct {
	engine  *engine.Engine
	router  *router.Router
	store   session.Store
	flowReg *flow.Registry
	logger  logging.Logger
}

func NewServer(eng *engine.Engine, rtr *router.Router, store session.Store, flowReg *flow.Registry, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Server{engine: eng, router: rtr, store: store, flowReg: flowReg, logger: logger}
}

// ServeHTTP upgrades the connection and runs the client session until it
// disconnects or the request context is canceled.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	clientID := uuid.New().String()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s.logger.Info("client connected", "client_id", clientID)
	s.sendStatus(ctx, clientID, conn)
	s.runClient(ctx, clientID, conn)

	conn.Close(websocket.StatusNormalClosure, "")
	s.cleanupClient(clientID)
	s.logger.Info("client disconnected", "client_id", clientID)
}

// runClient blocks until the connection's read loop ends (disconnect,
// protocol error, or context cancellation), while a second goroutine
// forwards routed results to the client in parallel.
func (s *Server) runClient(ctx context.Context, clientID string, conn *websocket.Conn) {
	resultsCtx, stopResults := context.WithCancel(ctx)
	defer stopResults()

	resultCh, unsubscribe, err := s.router.Subscribe(resultsCtx, clientID)
	if err != nil {
		s.logger.Error("result subscribe failed", "client_id", clientID, "error", err)
		return
	}
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.forwardResults(resultsCtx, clientID, conn, resultCh)
	}()

	s.readLoop(ctx, clientID, conn)
	<-done
}

func (s *Server) readLoop(ctx context.Context, clientID string, conn *websocket.Conn) {
	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			return
		}

		switch messageType {
		case websocket.MessageBinary:
			s.handleAudioFrame(ctx, clientID, payload)
		case websocket.MessageText:
			s.handleControlMessage(ctx, clientID, conn, payload)
		}
	}
}

func (s *Server) handleAudioFrame(ctx context.Context, clientID string, frame []byte) {
	_, pcm, err := ParseAudioFrame(frame)
	if err != nil {
		s.logger.Warn("dropping malformed audio frame", "client_id", clientID, "error", err)
		return
	}
	if err := s.engine.ProcessChunk(ctx, clientID, pcm, float64(time.Now().UnixNano())/1e9); err != nil {
		s.logger.Error("process audio chunk failed", "client_id", clientID, "error", err)
	}
}

func (s *Server) handleControlMessage(ctx context.Context, clientID string, conn *websocket.Conn, payload []byte) {
	var msg controlMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.Warn("dropping malformed control message", "client_id", clientID, "error", err)
		return
	}

	switch msg.Type {
	case controlSetLangs:
		if err := s.engine.SetLanguages(ctx, clientID, msg.SourceLang, msg.TargetLang); err != nil {
			s.logger.Error("set_langs failed", "client_id", clientID, "error", err)
			return
		}
		s.sendStatus(ctx, clientID, conn)
	case controlStartOver:
		if err := s.engine.StartOver(ctx, clientID); err != nil {
			s.logger.Error("start_over failed", "client_id", clientID, "error", err)
		}
	case controlGetStatus:
		s.sendStatus(ctx, clientID, conn)
	default:
		s.logger.Warn("unrecognized control message type", "client_id", clientID, "type", msg.Type)
	}
}

func (s *Server) sendStatus(ctx context.Context, clientID string, conn *websocket.Conn) {
	st, err := s.engine.Status(ctx, clientID)
	if err != nil {
		s.logger.Error("status lookup failed", "client_id", clientID, "error", err)
		return
	}
	payload, err := json.Marshal(statusMessage{
		Type:               "status",
		ClientID:           clientID,
		State:              string(st.State),
		SourceLang:         st.SourceLang,
		TargetLang:         st.TargetLang,
		TranslationEnabled: st.TranslationEnabled(),
	})
	if err != nil {
		return
	}
	_ = conn.Write(ctx, websocket.MessageText, payload)
}

// forwardResults drains resultCh, turning each result into zero or more
// wire messages via the router, until ctx is canceled or the channel
// closes (the subscription was torn down).
func (s *Server) forwardResults(ctx context.Context, clientID string, conn *websocket.Conn, resultCh <-chan bus.Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case result, ok := <-resultCh:
			if !ok {
				return
			}
			outbound, err := s.router.HandleResult(ctx, clientID, result)
			if err != nil {
				s.logger.Error("handle result failed", "client_id", clientID, "error", err)
				continue
			}
			for _, out := range outbound {
				payload, err := json.Marshal(toWireMessage(clientID, out))
				if err != nil {
					continue
				}
				if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
					return
				}
			}
		}
	}
}

func (s *Server) cleanupClient(clientID string) {
	s.router.Forget(clientID)
	s.flowReg.Delete(clientID)
	if err := s.store.Delete(context.Background(), clientID); err != nil {
		s.logger.Warn("session cleanup failed", "client_id", clientID, "error", err)
	}
}
