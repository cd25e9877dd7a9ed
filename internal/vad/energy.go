package vad

import "math"

// EnergyPredicate returns a Predicate backed by RMS energy over a frame of
// 16-bit little-endian PCM samples, thresholded by aggressiveness (0-3,
// higher means more silence is tolerated before a frame counts as speech).
// cmd/server uses this stand-in whichever ASR engine is selected, and tests use it too; a real
// deployment swaps it for a cgo VAD binding behind the same Predicate type.
func EnergyPredicate(aggressiveness int) Predicate {
	threshold := energyThreshold(aggressiveness)
	return func(frame []byte) (bool, error) {
		return rmsEnergy(frame) > threshold, nil
	}
}

func energyThreshold(aggressiveness int) float64 {
	switch {
	case aggressiveness <= 0:
		return 50.0
	case aggressiveness == 1:
		return 150.0
	case aggressiveness == 2:
		return 400.0
	default:
		return 800.0
	}
}

func rmsEnergy(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i < n; i++ {
		sample := int16(frame[i*2]) | int16(frame[i*2+1])<<8
		v := float64(sample)
		sumSquares += v * v
	}
	return math.Sqrt(sumSquares / float64(n))
}
