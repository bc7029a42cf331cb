// Package flow holds per-client flow bookkeeping that is never persisted to
// the Session Store: in_flight and latest_segment_id_sent. Held in a
// process-wide map guarded by a single mutex, scalar reads/writes only.
package flow

import "sync"

// State is one client's flow bookkeeping.
type State struct {
	InFlight            bool
	LatestSegmentIDSent int64
}

// Registry is the process-wide map of PerClientFlowState.
type Registry struct {
	mu     sync.Mutex
	states map[string]*State
}

func NewRegistry() *Registry {
	return &Registry{states: make(map[string]*State)}
}

func (r *Registry) getLocked(clientID string) *State {
	s, ok := r.states[clientID]
	if !ok {
		s = &State{LatestSegmentIDSent: -1}
		r.states[clientID] = s
	}
	return s
}

func (r *Registry) InFlight(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(clientID).InFlight
}

func (r *Registry) SetInFlight(clientID string, v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getLocked(clientID).InFlight = v
}

// TryReserve atomically checks in_flight is false and, if so, sets it true
// and reports success. This is the compare-and-set callers must use to
// claim the at-most-one in-flight slot before publishing a job: a plain
// InFlight() read followed by a later SetInFlight(true) leaves a window
// between the two where a second goroutine can observe the same
// in_flight=false and publish a second job for the same client (I5).
func (r *Registry) TryReserve(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.getLocked(clientID)
	if s.InFlight {
		return false
	}
	s.InFlight = true
	return true
}

// Release gives back a reservation acquired via TryReserve when the
// publish it was guarding did not go through (queue full, stream error).
func (r *Registry) Release(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getLocked(clientID).InFlight = false
}

func (r *Registry) LatestSegmentIDSent(clientID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(clientID).LatestSegmentIDSent
}

func (r *Registry) SetLatestSegmentIDSent(clientID string, v int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getLocked(clientID).LatestSegmentIDSent = v
}

// ResetForStartOver clears in_flight and resets latest_segment_id_sent to
// the sentinel so a subsequent utterance is never suppressed as stale.
func (r *Registry) ResetForStartOver(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.getLocked(clientID)
	s.InFlight = false
	s.LatestSegmentIDSent = -1
}

// Delete removes a client's flow state entirely, used on disconnect.
func (r *Registry) Delete(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, clientID)
}
