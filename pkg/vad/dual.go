package vad

import (
	"context"
)

// Dual composes a coarse and a precise detector and returns the logical AND
// of both verdicts for the current chunk only. Unlike the background-thread
// caching the original gateway used (which could return a precise verdict
// computed from a prior chunk), both detectors are always run against the
// same chunk and the caller waits for both to finish before combining them.
type Dual struct {
	coarse           CoarseDetector
	precise          PreciseDetector
	preciseThreshold float64 // speech iff probability > 1 - sensitivity
}

// NewDual builds a Dual detector. sileroSensitivity is 0.0-1.0; the precise
// detector's probability threshold is 1-sensitivity.
func NewDual(coarse CoarseDetector, precise PreciseDetector, sileroSensitivity float64) *Dual {
	return &Dual{coarse: coarse, precise: precise, preciseThreshold: 1 - sileroSensitivity}
}

type preciseResult struct {
	prob float64
	err  error
}

// DetectSpeech runs the coarse detector synchronously (it's cheap and
// early-outs) and the precise detector concurrently, joining both before
// returning. Either detector's failure is surfaced to the caller rather
// than silently treated as "no speech".
func (d *Dual) DetectSpeech(ctx context.Context, chunk []byte) (bool, error) {
	if len(chunk) == 0 {
		return false, nil
	}

	preciseCh := make(chan preciseResult, 1)
	go func() {
		p, err := d.precise.SpeechProbability(ctx, chunk)
		preciseCh <- preciseResult{prob: p, err: err}
	}()

	coarseSpeech, err := d.coarse.HasSpeech(chunk)
	if err != nil {
		<-preciseCh // drain so the goroutine never leaks
		return false, err
	}

	pr := <-preciseCh
	if pr.err != nil {
		return false, pr.err
	}

	preciseSpeech := pr.prob > d.preciseThreshold
	return coarseSpeech && preciseSpeech, nil
}
