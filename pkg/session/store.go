package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the Session Store contract (C1): load, save, delete a Session
// keyed by client id, plus the hot-path partial persist used by the result
// router after it advances last_published_len without touching anything
// else.
type Store interface {
	Load(ctx context.Context, clientID string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, clientID string) error
	SavePublishedLen(ctx context.Context, clientID string, lastPublishedLen int) error
}

// RedisStore persists scalar fields in a hash and the two audio buffers as
// separate binary blob keys, exactly as the original gateway's Redis
// service does it, so a textual hash encoding never has to carry raw PCM.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration

	defaultSource string
	defaultTarget string
}

// NewRedisStore builds a RedisStore. ttl is the session expiration applied
// to all three keys on every save.
func NewRedisStore(rdb *redis.Client, prefix string, ttl time.Duration, defaultSource, defaultTarget string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl, defaultSource: defaultSource, defaultTarget: defaultTarget}
}

func (r *RedisStore) key(clientID string) string          { return r.prefix + clientID }
func (r *RedisStore) audioKey(clientID string) string     { return r.prefix + clientID + ":audio_buffer" }
func (r *RedisStore) preSpeechKey(clientID string) string { return r.prefix + clientID + ":pre_speech_buffer" }

func (r *RedisStore) Load(ctx context.Context, clientID string) (*Session, error) {
	data, err := r.rdb.HGetAll(ctx, r.key(clientID)).Result()
	if err != nil {
		return nil, fmt.Errorf("session: load %s: %w", clientID, err)
	}
	if len(data) == 0 {
		return NewDefault(clientID, r.defaultSource, r.defaultTarget), nil
	}

	s := &Session{ClientID: clientID}
	s.State = State(data["state"])
	if s.State == "" {
		s.State = StateInactive
	}
	s.SourceLang = data["source_lang"]
	s.TargetLang = data["target_lang"]
	if v, ok := data["last_published_len"]; ok {
		s.LastPublishedLen, _ = strconv.Atoi(v)
	}
	if v, ok := data["silence_buffer_start_len"]; ok {
		s.SilenceBufferStartLen, _ = strconv.Atoi(v)
	}
	if v, ok := data["silence_start_time"]; ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			s.SilenceStartTime = &f
		}
	}

	audio, err := r.rdb.Get(ctx, r.audioKey(clientID)).Bytes()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("session: load audio buffer %s: %w", clientID, err)
	}
	s.AudioBuffer = audio

	pre, err := r.rdb.Get(ctx, r.preSpeechKey(clientID)).Bytes()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("session: load pre-speech buffer %s: %w", clientID, err)
	}
	s.PreSpeechBuffer = pre

	return s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	key := r.key(s.ClientID)
	fields := map[string]interface{}{
		"state":                    string(s.State),
		"source_lang":              s.SourceLang,
		"target_lang":              s.TargetLang,
		"last_published_len":       strconv.Itoa(s.LastPublishedLen),
		"silence_buffer_start_len": strconv.Itoa(s.SilenceBufferStartLen),
	}
	if s.SilenceStartTime != nil {
		fields["silence_start_time"] = strconv.FormatFloat(*s.SilenceStartTime, 'f', -1, 64)
	} else {
		fields["silence_start_time"] = ""
	}

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)

	audioKey := r.audioKey(s.ClientID)
	if len(s.AudioBuffer) > 0 {
		pipe.Set(ctx, audioKey, s.AudioBuffer, 0)
	} else {
		pipe.Del(ctx, audioKey)
	}

	preKey := r.preSpeechKey(s.ClientID)
	if len(s.PreSpeechBuffer) > 0 {
		pipe.Set(ctx, preKey, s.PreSpeechBuffer, 0)
	} else {
		pipe.Del(ctx, preKey)
	}

	pipe.Expire(ctx, key, r.ttl)
	pipe.Expire(ctx, audioKey, r.ttl)
	pipe.Expire(ctx, preKey, r.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: save %s: %w", s.ClientID, err)
	}
	return nil
}

// SavePublishedLen persists only last_published_len, the hot-path
// optimization the result router uses after it advances the marker so it
// doesn't have to rewrite the entire session blob (including the audio
// buffer) on every forwarded result.
func (r *RedisStore) SavePublishedLen(ctx context.Context, clientID string, lastPublishedLen int) error {
	key := r.key(clientID)
	if err := r.rdb.HSet(ctx, key, "last_published_len", strconv.Itoa(lastPublishedLen)).Err(); err != nil {
		return fmt.Errorf("session: save published len %s: %w", clientID, err)
	}
	r.rdb.Expire(ctx, key, r.ttl)
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, clientID string) error {
	keys := []string{r.key(clientID), r.audioKey(clientID), r.preSpeechKey(clientID)}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("session: delete %s: %w", clientID, err)
	}
	return nil
}
