package vad

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	frameSamples = 160 // 10ms at 16kHz
	frameBytes   = frameSamples * 2
)

// EnergyCoarseDetector is a reference coarse detector: it classifies each
// 10ms frame as speech when its RMS energy exceeds a sensitivity-derived
// threshold, early-outing on the first speech frame.
//
// Sensitivity follows the WebRTC VAD convention: 0 (least aggressive, high
// threshold) to 3 (most aggressive, low threshold).
type EnergyCoarseDetector struct {
	threshold float64
}

// NewEnergyCoarseDetector builds a coarse detector for the given
// sensitivity (0-3).
func NewEnergyCoarseDetector(sensitivity int) (*EnergyCoarseDetector, error) {
	if sensitivity < 0 || sensitivity > 3 {
		return nil, fmt.Errorf("vad: sensitivity must be 0-3, got %d", sensitivity)
	}
	// Higher sensitivity -> lower threshold -> more frames classified as
	// speech. Thresholds are RMS values against full-scale int16 (32768).
	thresholds := [4]float64{900, 600, 350, 180}
	return &EnergyCoarseDetector{threshold: thresholds[sensitivity]}, nil
}

func (d *EnergyCoarseDetector) HasSpeech(chunk []byte) (bool, error) {
	for i := 0; i+frameBytes <= len(chunk); i += frameBytes {
		frame := chunk[i : i+frameBytes]
		if calculateRMS(frame) > d.threshold {
			return true, nil
		}
	}
	return false, nil
}

func calculateRMS(frame []byte) float64 {
	if len(frame) < 2 {
		return 0
	}
	var sumSquares float64
	count := 0
	for i := 0; i+1 < len(frame); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(frame[i : i+2]))
		sumSquares += float64(sample) * float64(sample)
		count++
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sumSquares / float64(count))
}
