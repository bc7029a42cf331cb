// Package session implements the Session Store and the per-client speech
// session state it persists.
package session

// State is one of the three speech states a session cycles through.
type State string

const (
	StateInactive State = "inactive"
	StateActive   State = "active"
	StateSilence  State = "silence"
)

// NoSegmentSentinel is the value latest_segment_id_sent is reset to on
// start_over so that the next utterance's segment ids (always positive
// millisecond timestamps) are never mistaken for stale duplicates.
const NoSegmentSentinel = -1

// Session is the per-client speech-session state: buffers, timing markers,
// and language settings. Every field is exported; the Redis encoding in
// store.go writes them field by field into a hash and two blob keys.
type Session struct {
	ClientID string
	State    State

	AudioBuffer     []byte
	PreSpeechBuffer []byte

	SilenceStartTime      *float64 // unix seconds, nil when no silence is open
	LastPublishedLen      int
	SilenceBufferStartLen int

	SourceLang string
	TargetLang string
}

// TranslationEnabled is derived, never stored independently (invariant I7).
func (s *Session) TranslationEnabled() bool {
	return s.SourceLang != s.TargetLang
}

// NewDefault returns a freshly initialized session for a client not yet
// present in the store.
func NewDefault(clientID, defaultSource, defaultTarget string) *Session {
	return &Session{
		ClientID:   clientID,
		State:      StateInactive,
		SourceLang: defaultSource,
		TargetLang: defaultTarget,
	}
}

// StartSpeech transitions into ACTIVE, per the INACTIVE/SILENCE → ACTIVE
// rows of the state table: the silence marker is cleared so the engine can
// recompute it fresh for whatever happens next.
func (s *Session) StartSpeech() {
	s.State = StateActive
	s.SilenceStartTime = nil
}

// EndSpeechSession clears all per-utterance state and returns to INACTIVE,
// preserving I4 (INACTIVE implies empty buffer and zeroed marker).
func (s *Session) EndSpeechSession() {
	s.State = StateInactive
	s.AudioBuffer = nil
	s.LastPublishedLen = 0
	s.SilenceBufferStartLen = 0
	s.SilenceStartTime = nil
}

// BufferSeconds reports the current audio buffer length in seconds at
// 16-bit mono 16kHz.
func (s *Session) BufferSeconds(sampleRate int) float64 {
	return float64(len(s.AudioBuffer)) / float64(sampleRate*2)
}
