package vad

import "testing"

func silentFrame(n int) []byte {
	return make([]byte, n)
}

func loudFrame(n int) []byte {
	b := make([]byte, n)
	for i := 0; i < n; i += 2 {
		b[i] = 0x00
		b[i+1] = 0x7f
	}
	return b
}

func TestFrameGateAssumesSpeechBelowOneFrame(t *testing.T) {
	gate, err := NewFrameGate(EnergyPredicate(2), Config{SampleRate: 16000, FrameDurationMs: 20})
	if err != nil {
		t.Fatalf("NewFrameGate: %v", err)
	}
	// frame size is 640 bytes (16000*20/1000*2); feed fewer bytes
	if !gate.IsSpeech(silentFrame(100)) {
		t.Fatal("expected assumed speech below one frame of audio")
	}
}

func TestFrameGateUsesMostRecentSuffix(t *testing.T) {
	gate, err := NewFrameGate(EnergyPredicate(2), Config{SampleRate: 16000, FrameDurationMs: 20})
	if err != nil {
		t.Fatalf("NewFrameGate: %v", err)
	}
	gate.IsSpeech(silentFrame(640))
	if gate.IsSpeech(silentFrame(320)) {
		t.Fatal("expected silence verdict once buffer holds a full frame of silence")
	}
	if !gate.IsSpeech(loudFrame(640)) {
		t.Fatal("expected speech verdict for a loud frame")
	}
}

func TestFrameGateResetClearsBuffer(t *testing.T) {
	gate, err := NewFrameGate(EnergyPredicate(2), Config{SampleRate: 16000, FrameDurationMs: 20})
	if err != nil {
		t.Fatalf("NewFrameGate: %v", err)
	}
	gate.IsSpeech(silentFrame(640))
	gate.Reset()
	if !gate.IsSpeech(silentFrame(10)) {
		t.Fatal("expected assumed speech right after reset with sub-frame audio")
	}
}

func TestProcessFramesDrainsFIFO(t *testing.T) {
	gate, err := NewFrameGate(EnergyPredicate(0), Config{SampleRate: 16000, FrameDurationMs: 10})
	if err != nil {
		t.Fatalf("NewFrameGate: %v", err)
	}
	chunk := append(loudFrame(320), silentFrame(320)...)
	results := gate.ProcessFrames(chunk)
	if len(results) != 2 {
		t.Fatalf("expected 2 frames drained, got %d", len(results))
	}
	if !results[0] {
		t.Fatal("expected first frame to be speech")
	}
	if results[1] {
		t.Fatal("expected second frame to be silence")
	}
}

func TestInvalidFrameDuration(t *testing.T) {
	if _, err := NewFrameGate(EnergyPredicate(2), Config{SampleRate: 16000, FrameDurationMs: 15}); err == nil {
		t.Fatal("expected error for invalid frame duration")
	}
}
