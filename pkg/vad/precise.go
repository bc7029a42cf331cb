package vad

import (
	"context"
	"encoding/binary"
)

const (
	windowSamples = 512
	windowBytes   = windowSamples * 2
	hopSamples    = windowSamples / 2
	hopBytes      = hopSamples * 2

	int16MaxAbs = 32768.0
)

// EnergyPreciseDetector is a reference precise detector standing in for an
// external model (e.g. Silero VAD) at the PreciseDetector interface
// boundary. It reports a probability in [0,1] derived from the mean-square
// energy of normalized samples over half-overlapping 512-sample windows, zero-padding short
// chunks to a single window, regardless of which scoring model sits behind
// the interface.
type EnergyPreciseDetector struct{}

func NewEnergyPreciseDetector() *EnergyPreciseDetector {
	return &EnergyPreciseDetector{}
}

func (d *EnergyPreciseDetector) SpeechProbability(ctx context.Context, chunk []byte) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(chunk) == 0 {
		return 0, nil
	}

	samples := bytesToFloat32(chunk)

	if len(samples) >= windowSamples {
		maxProb := 0.0
		for i := 0; i+windowSamples <= len(samples); i += hopSamples {
			p := windowProbability(samples[i : i+windowSamples])
			if p > maxProb {
				maxProb = p
			}
		}
		return maxProb, nil
	}

	padded := make([]float32, windowSamples)
	copy(padded, samples)
	return windowProbability(padded), nil
}

func bytesToFloat32(chunk []byte) []float32 {
	n := len(chunk) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(chunk[i*2 : i*2+2]))
		out[i] = float32(s) / int16MaxAbs
	}
	return out
}

func windowProbability(window []float32) float64 {
	var sumSquares float64
	for _, v := range window {
		sumSquares += float64(v) * float64(v)
	}
	meanSquare := sumSquares / float64(len(window))
	// Normalized energy-based probability proxy, saturating at 1.0. A real
	// Silero binding replaces this function entirely behind the
	// PreciseDetector interface; callers never see the difference.
	p := meanSquare * 40
	if p > 1 {
		p = 1
	}
	return p
}
