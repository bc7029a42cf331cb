// Package bus implements the job stream and result pub/sub transport
// between the gateway and the STT/translation workers (C4/C5's wire
// protocol).
package bus

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Job is the AUDIO_JOBS stream row. All fields are stringly typed on
// the wire; AudioBytes carries raw 16kHz mono 16-bit PCM, base64-encoded as
// audio_bytes_b64.
type Job struct {
	JobID              string
	ClientID           string
	SegmentID          int64
	AudioBytes         []byte
	SampleRate         int
	SourceLang         string
	TargetLang         string
	TranslationEnabled bool
	IsFinal            bool
	Timestamp          float64
	GatewayInstance    string
}

// Encode turns a Job into the stream-row field map go-redis's XAdd expects.
func (j Job) Encode() map[string]interface{} {
	return map[string]interface{}{
		"job_type":            "audio_segment",
		"job_id":              j.JobID,
		"client_id":           j.ClientID,
		"segment_id":          strconv.FormatInt(j.SegmentID, 10),
		"audio_bytes_b64":     base64.StdEncoding.EncodeToString(j.AudioBytes),
		"sample_rate":         strconv.Itoa(j.SampleRate),
		"source_lang":         j.SourceLang,
		"target_lang":         j.TargetLang,
		"translation_enabled": encodeBool(j.TranslationEnabled),
		"is_final":            encodeBool(j.IsFinal),
		"timestamp":           strconv.FormatFloat(j.Timestamp, 'f', -1, 64),
		"gateway_instance":    j.GatewayInstance,
	}
}

// DecodeJob parses a stream row (as returned by XReadGroup, map[string]interface{})
// back into a Job.
func DecodeJob(fields map[string]interface{}) (Job, error) {
	get := func(k string) string {
		v, _ := fields[k].(string)
		return v
	}

	audio, err := base64.StdEncoding.DecodeString(get("audio_bytes_b64"))
	if err != nil {
		return Job{}, fmt.Errorf("bus: decode job audio: %w", err)
	}

	segmentID, _ := strconv.ParseInt(get("segment_id"), 10, 64)
	sampleRate, _ := strconv.Atoi(get("sample_rate"))
	timestamp, _ := strconv.ParseFloat(get("timestamp"), 64)

	return Job{
		JobID:              get("job_id"),
		ClientID:           get("client_id"),
		SegmentID:          segmentID,
		AudioBytes:         audio,
		SampleRate:         sampleRate,
		SourceLang:         get("source_lang"),
		TargetLang:         get("target_lang"),
		TranslationEnabled: decodeBool(get("translation_enabled")),
		IsFinal:            decodeBool(get("is_final")),
		Timestamp:          timestamp,
		GatewayInstance:    get("gateway_instance"),
	}, nil
}

// Transcription is the TRANSCRIPTIONS stream row, published by STT
// workers for translation workers to pick up.
type Transcription struct {
	JobID         string
	ClientID      string
	SegmentID     int64
	Text          string
	SourceLang    string
	TargetLang    string
	IsFinal       bool
	Timestamp     float64
	AudioDuration float64
}

func (t Transcription) Encode() map[string]interface{} {
	return map[string]interface{}{
		"job_id":         t.JobID,
		"client_id":      t.ClientID,
		"segment_id":     strconv.FormatInt(t.SegmentID, 10),
		"text":           t.Text,
		"source_lang":    t.SourceLang,
		"target_lang":    t.TargetLang,
		"is_final":       encodeBool(t.IsFinal),
		"timestamp":      strconv.FormatFloat(t.Timestamp, 'f', -1, 64),
		"audio_duration": strconv.FormatFloat(t.AudioDuration, 'f', -1, 64),
	}
}

func DecodeTranscription(fields map[string]interface{}) (Transcription, error) {
	get := func(k string) string {
		v, _ := fields[k].(string)
		return v
	}
	segmentID, _ := strconv.ParseInt(get("segment_id"), 10, 64)
	timestamp, _ := strconv.ParseFloat(get("timestamp"), 64)
	audioDuration, _ := strconv.ParseFloat(get("audio_duration"), 64)
	return Transcription{
		JobID:         get("job_id"),
		ClientID:      get("client_id"),
		SegmentID:     segmentID,
		Text:          get("text"),
		SourceLang:    get("source_lang"),
		TargetLang:    get("target_lang"),
		IsFinal:       decodeBool(get("is_final")),
		Timestamp:     timestamp,
		AudioDuration: audioDuration,
	}, nil
}

// Result is the results:<client_id> pub/sub payload, JSON-encoded on
// the wire.
type Result struct {
	Status             string  `json:"status"`
	JobID              string  `json:"job_id"`
	ClientID           string  `json:"client_id"`
	SegmentID          int64   `json:"segment_id,string"`
	Text               string  `json:"text"`
	Translation        string  `json:"translation"`
	SourceLang         string  `json:"source_lang"`
	TargetLang         string  `json:"target_lang"`
	TranslationEnabled bool    `json:"translation_enabled"`
	IsFinal            bool    `json:"is_final"`
	ProcessingTime     float64 `json:"processing_time"`
	AudioDuration      float64 `json:"audio_duration"`
	WorkerID           string  `json:"worker_id"`
	Timestamp          float64 `json:"timestamp"`
}

// IsTranslationResult reports whether this result carries a non-empty
// translation.
func (r Result) IsTranslationResult() bool {
	return strings.TrimSpace(r.Translation) != ""
}

func encodeBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// decodeBool accepts the same permissive set of truthy strings the original
// worker's _parse_bool does.
func decodeBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}
