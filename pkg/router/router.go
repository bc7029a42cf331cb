// Package router implements the Result Router (C5): it consumes results
// published by STT/translation workers, decides what (if anything) to
// forward to the owning client, clears the in-flight flag once a job's
// result arrives, and immediately attempts a catch-up publish for audio
// that accumulated while the worker was busy.
package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/speechmesh/gateway/internal/logging"
	"github.com/speechmesh/gateway/pkg/bus"
	"github.com/speechmesh/gateway/pkg/dispatch"
	"github.com/speechmesh/gateway/pkg/flow"
	"github.com/speechmesh/gateway/pkg/session"
)

// Kind identifies what an Outbound message represents to the gateway's
// wire protocol.
type Kind string

const (
	KindRealtime     Kind = "realtime"
	KindUtteranceEnd Kind = "utterance_end"
	KindError        Kind = "error"
)

// Outbound is one message the router decided the gateway should deliver to
// a client's websocket connection.
type Outbound struct {
	Kind   Kind
	Result bus.Result
}

// Router applies the forwarding, unlock, and catch-up rules on top of a
// raw ResultBus subscription. It owns no websocket state; the gateway
// package drives the per-client read loop and writes whatever Outbound
// values HandleResult returns.
type Router struct {
	resultBus  bus.ResultBus
	dispatcher *dispatch.Dispatcher
	store      session.Store
	flowReg    *flow.Registry
	logger     logging.Logger

	mu                      sync.Mutex
	lastUtteranceEndSegment map[string]int64
}

func New(resultBus bus.ResultBus, dispatcher *dispatch.Dispatcher, store session.Store, flowReg *flow.Registry, logger logging.Logger) *Router {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Router{
		resultBus:               resultBus,
		dispatcher:              dispatcher,
		store:                   store,
		flowReg:                 flowReg,
		logger:                  logger,
		lastUtteranceEndSegment: make(map[string]int64),
	}
}

// Subscribe opens a client's result channel. The gateway's per-client
// goroutine reads from it and calls HandleResult for each message.
func (r *Router) Subscribe(ctx context.Context, clientID string) (<-chan bus.Result, func(), error) {
	return r.resultBus.Subscribe(ctx, clientID)
}

// Forget drops a client's utterance-end dedupe bookkeeping, called when a
// client disconnects.
func (r *Router) Forget(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lastUtteranceEndSegment, clientID)
}

// HandleResult processes one result delivered for clientID, returning the
// ordered set of messages the gateway should write to that client's
// connection. It also clears in_flight and attempts a catch-up publish, so
// callers must invoke it for every result even when the return value is
// empty.
func (r *Router) HandleResult(ctx context.Context, clientID string, result bus.Result) ([]Outbound, error) {
	var outbound []Outbound

	if r.shouldForward(clientID, result) {
		outbound = append(outbound, Outbound{Kind: KindRealtime, Result: result})
		r.flowReg.SetLatestSegmentIDSent(clientID, result.SegmentID)
	}

	// isTerminalForMode (not just IsFinal) gates utterance_end so the
	// invariant holds locally rather than relying on the worker topology
	// to only ever deliver a translation-mode final here once translation
	// has actually run.
	if result.IsFinal && isTerminalForMode(result) && r.claimUtteranceEnd(clientID, result.SegmentID) {
		outbound = append(outbound, Outbound{Kind: KindUtteranceEnd, Result: result})
	}

	// The job this result answers is no longer in flight, by construction:
	// a gateway instance publishes at most one non-final job per client
	// before its result comes back (I5).
	r.flowReg.SetInFlight(clientID, false)

	if err := r.catchUpPublish(ctx, clientID); err != nil {
		return outbound, err
	}
	return outbound, nil
}

// shouldForward implements the forward predicate: segment_id must be newer
// than the last one sent (out-of-order results are dropped from the client
// view), and the result must be terminal for the session's current mode.
func (r *Router) shouldForward(clientID string, result bus.Result) bool {
	if result.SegmentID <= r.flowReg.LatestSegmentIDSent(clientID) {
		return false
	}
	return isTerminalForMode(result)
}

// isTerminalForMode reports whether result is the kind of message that
// should reach the client for its mode: an error regardless of mode (so
// the client sees the dropped segment instead of waiting forever), a
// translation result when translation is enabled, or any ok result
// otherwise. Translation-disabled results are forwarded unconditionally on
// segment advance, including empty text, since an empty transcription is
// itself meaningful progress for that segment.
func isTerminalForMode(result bus.Result) bool {
	if result.Status != "" && result.Status != "ok" {
		return true
	}
	if result.TranslationEnabled {
		return result.IsTranslationResult()
	}
	return true
}

func (r *Router) claimUtteranceEnd(clientID string, segmentID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.lastUtteranceEndSegment[clientID]; ok && last == segmentID {
		return false
	}
	r.lastUtteranceEndSegment[clientID] = segmentID
	return true
}

// catchUpPublish re-evaluates the eligibility predicate for clientID
// immediately after unlocking in_flight, so audio buffered while the
// previous job was outstanding doesn't wait for the next microphone chunk
// to be dispatched.
func (r *Router) catchUpPublish(ctx context.Context, clientID string) error {
	s, err := r.store.Load(ctx, clientID)
	if err != nil {
		return fmt.Errorf("router: load session for %s: %w", clientID, err)
	}
	if s.State == session.StateInactive {
		return nil
	}

	published, err := r.dispatcher.PublishIfNeeded(ctx, s, false, false)
	if err != nil {
		return fmt.Errorf("router: catch-up publish for %s: %w", clientID, err)
	}
	if !published {
		return nil
	}
	if err := r.store.SavePublishedLen(ctx, clientID, s.LastPublishedLen); err != nil {
		return fmt.Errorf("router: persist catch-up marker for %s: %w", clientID, err)
	}
	return nil
}
