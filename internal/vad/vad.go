// Package vad provides the shared voice-activity predicate contract and the
// per-session Frame Gate that buffers audio until a full frame is available.
package vad

import "fmt"

// ValidFrameDurations are the frame sizes (ms) the predicate contract accepts.
var ValidFrameDurations = [3]int{10, 20, 30}

// Predicate is the shared, stateless is_speech(frame) -> bool contract.
// A real deployment plugs a cgo VAD binding in behind this function type the
// same way internal/asr plugs whisper.cpp in behind asr.Backend; it must be
// safe to call concurrently from any session.
type Predicate func(frame []byte) (bool, error)

// Config configures a FrameGate.
type Config struct {
	SampleRate      int
	FrameDurationMs int
}

func isValidFrameDuration(ms int) bool {
	for _, v := range ValidFrameDurations {
		if v == ms {
			return true
		}
	}
	return false
}

// FrameGate is the per-session VAD buffer described in spec.md §4.1. It
// holds no cross-chunk VAD state beyond raw bytes.
type FrameGate struct {
	predicate     Predicate
	frameSizeBytes int
	buffer        []byte
}

// NewFrameGate constructs a FrameGate for the given sample rate and frame
// duration (must be 10, 20, or 30ms).
func NewFrameGate(predicate Predicate, cfg Config) (*FrameGate, error) {
	if !isValidFrameDuration(cfg.FrameDurationMs) {
		return nil, fmt.Errorf("vad: invalid frame duration %dms", cfg.FrameDurationMs)
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("vad: invalid sample rate %d", cfg.SampleRate)
	}
	samplesPerFrame := cfg.SampleRate * cfg.FrameDurationMs / 1000
	return &FrameGate{
		predicate:      predicate,
		frameSizeBytes: samplesPerFrame * 2, // 16-bit PCM
	}, nil
}

// IsSpeech appends chunk to the buffer and reports whether the most recent
// complete frame-sized suffix of the buffer contains speech. If fewer than
// one frame of audio has accumulated, it assumes speech rather than drop
// audio. If the predicate errors, it also assumes speech.
func (g *FrameGate) IsSpeech(chunk []byte) bool {
	g.buffer = append(g.buffer, chunk...)

	if len(g.buffer) < g.frameSizeBytes {
		return true
	}

	frame := g.buffer[len(g.buffer)-g.frameSizeBytes:]
	speech, err := g.predicate(frame)
	if err != nil {
		return true
	}
	return speech
}

// ProcessFrames drains complete frames from the buffer in FIFO order,
// returning one verdict per frame. Used by diagnostics and tests; unlike
// IsSpeech it consumes the buffer.
func (g *FrameGate) ProcessFrames(chunk []byte) []bool {
	g.buffer = append(g.buffer, chunk...)

	var results []bool
	for len(g.buffer) >= g.frameSizeBytes {
		frame := g.buffer[:g.frameSizeBytes]
		g.buffer = g.buffer[g.frameSizeBytes:]

		speech, err := g.predicate(frame)
		if err != nil {
			speech = true
		}
		results = append(results, speech)
	}
	return results
}

// Reset clears the accumulated buffer. Called on finalize and session close.
func (g *FrameGate) Reset() {
	g.buffer = g.buffer[:0]
}

// FrameSizeBytes returns the configured frame size in bytes.
func (g *FrameGate) FrameSizeBytes() int {
	return g.frameSizeBytes
}
