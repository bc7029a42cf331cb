package gateway

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/speechmesh/gateway/pkg/router"
)

// AudioFrameMetadata is the JSON header carried in front of every raw PCM
// chunk a client sends. Sequence is informational only; the gateway
// derives ordering from arrival order on the connection, not from this
// field.
type AudioFrameMetadata struct {
	SampleRate int `json:"sampleRate,omitempty"`
	Sequence   int `json:"sequence,omitempty"`
}

// ParseAudioFrame splits a binary websocket frame into its metadata header
// and raw PCM payload. The wire format is a 4-byte little-endian metadata
// length, the JSON metadata itself, and the remaining bytes as PCM.
func ParseAudioFrame(frame []byte) (AudioFrameMetadata, []byte, error) {
	var meta AudioFrameMetadata
	if len(frame) < 4 {
		return meta, nil, fmt.Errorf("gateway: audio frame too short for a length header (%d bytes)", len(frame))
	}
	metaLen := binary.LittleEndian.Uint32(frame[:4])
	if int(metaLen) > len(frame)-4 {
		return meta, nil, fmt.Errorf("gateway: audio frame metadata length %d exceeds frame size", metaLen)
	}
	if metaLen > 0 {
		if err := json.Unmarshal(frame[4:4+metaLen], &meta); err != nil {
			return meta, nil, fmt.Errorf("gateway: decode audio frame metadata: %w", err)
		}
	}
	pcm := frame[4+metaLen:]
	return meta, pcm, nil
}

// BuildAudioFrame assembles the binary wire format ParseAudioFrame reads;
// used by tests and by any same-process client harness.
func BuildAudioFrame(meta AudioFrameMetadata, pcm []byte) ([]byte, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode audio frame metadata: %w", err)
	}
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, uint32(len(metaJSON)))
	frame := make([]byte, 0, 4+len(metaJSON)+len(pcm))
	frame = append(frame, header...)
	frame = append(frame, metaJSON...)
	frame = append(frame, pcm...)
	return frame, nil
}

// controlMessage is the JSON shape of every text frame a client sends that
// isn't raw audio: set_langs, get_status, start_over.
type controlMessage struct {
	Type       string `json:"type"`
	SourceLang string `json:"source_language"`
	TargetLang string `json:"target_language"`
}

const (
	controlSetLangs  = "set_langs"
	controlGetStatus = "get_status"
	controlStartOver = "start_over"
)

// statusMessage is sent on connect, after set_langs, and in reply to
// get_status.
type statusMessage struct {
	Type               string `json:"type"`
	ClientID           string `json:"client_id"`
	State              string `json:"state"`
	SourceLang         string `json:"source_language"`
	TargetLang         string `json:"target_language"`
	TranslationEnabled bool   `json:"translation_enabled"`
}

// resultWireMessage is what router.Outbound values become on the wire: the
// router's Kind plus the result fields clients actually care about.
type resultWireMessage struct {
	Type           string  `json:"type"`
	ClientID       string  `json:"client_id,omitempty"`
	SegmentID      int64   `json:"segment_id,omitempty"`
	Text           string  `json:"text,omitempty"`
	Translation    string  `json:"translation,omitempty"`
	ProcessingTime float64 `json:"processing_time,omitempty"`
	Message        string  `json:"message,omitempty"`
}

func toWireMessage(clientID string, out router.Outbound) resultWireMessage {
	switch out.Kind {
	case router.KindUtteranceEnd:
		return resultWireMessage{Type: string(out.Kind), ClientID: clientID}
	case router.KindError:
		return resultWireMessage{Type: string(out.Kind), Message: out.Result.Text}
	default:
		return resultWireMessage{
			Type:           string(out.Kind),
			SegmentID:      out.Result.SegmentID,
			Text:           out.Result.Text,
			Translation:    out.Result.Translation,
			ProcessingTime: out.Result.ProcessingTime,
		}
	}
}
