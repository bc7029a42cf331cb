// Package stt adapts third-party speech-to-text APIs to the shape the
// transcription worker depends on.
package stt

import "context"

// Transcriber is the contract the STT worker depends on: turn raw PCM
// audio into text in the given source language (empty string lets the
// provider auto-detect).
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audioPCM []byte, lang string) (string, error)
}
