// Package session implements the per-connection Transcription Session: the
// state machine, metrics, and the per-chunk pipeline (latency sleep -> VAD ->
// ASR -> endpointing decision) that drives partial/final emission.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yueh-ai/voice-to-text/internal/asr"
	"github.com/yueh-ai/voice-to-text/internal/tracing"
	"github.com/yueh-ai/voice-to-text/internal/vad"
)

// State is a lifecycle stage of a TranscriptionSession. States are
// monotonic: a session never observes a prior state after advancing.
type State int

const (
	Created State = iota
	Active
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrClosing is returned by ProcessChunk when the session no longer accepts
// audio.
var ErrClosing = errors.New("session: closing or closed, cannot accept audio")

// Metrics are per-session counters, snapshotted (copied) by GetInfo so
// callers never see a live, mutable reference.
type Metrics struct {
	AudioBytesReceived  int64
	AudioChunksReceived int64
	TranscriptsSent     int64
	PartialsSent        int64
	FinalsSent          int64
	ErrorsSent          int64
}

// AudioDurationMs estimates audio duration from received bytes at 16kHz/16-bit.
func (m Metrics) AudioDurationMs() float64 {
	return float64(m.AudioBytesReceived) / 32.0
}

// Info is an immutable snapshot of session metadata for inspection.
type Info struct {
	SessionID      string
	State          State
	CreatedAt      time.Time
	LastActivityAt time.Time
	Metrics        Metrics
}

// Result is returned from ProcessChunk/TranscribeFull once per call.
type Result struct {
	Text      string
	IsFinal   bool
	DurationMs int
}

// Config carries the immutable settings a session consults on every chunk.
type Config struct {
	SampleRate      int
	VADFrameMs      int
	VADAggressiveness int
	EndpointingMs   int
	LatencyMs       int
	BytesPerSecond  int
}

// TranscriptionSession owns per-connection state: identity, lifecycle,
// metrics, the Frame Gate, and the silence accumulator. It consults the
// shared Models container for inference but holds no inference state itself.
type TranscriptionSession struct {
	models *asr.Models
	config Config

	mu             sync.RWMutex
	id             string
	state          State
	createdAt      time.Time
	lastActivityAt time.Time
	metrics        Metrics

	gate                *vad.FrameGate
	silenceMsAccumulated float64
}

// New constructs a session in state Created, wiring up its own Frame Gate
// from the shared VAD predicate.
func New(models *asr.Models, predicate vad.Predicate, config Config) (*TranscriptionSession, error) {
	gate, err := vad.NewFrameGate(predicate, vad.Config{
		SampleRate:      config.SampleRate,
		FrameDurationMs: config.VADFrameMs,
	})
	if err != nil {
		return nil, fmt.Errorf("session: failed to create frame gate: %w", err)
	}

	now := time.Now().UTC()
	return &TranscriptionSession{
		models:         models,
		config:         config,
		id:             uuid.NewString(),
		state:          Created,
		createdAt:      now,
		lastActivityAt: now,
		gate:           gate,
	}, nil
}

// ID returns the session's process-unique identifier.
func (s *TranscriptionSession) ID() string {
	return s.id
}

// State returns the session's current lifecycle state.
func (s *TranscriptionSession) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastActivityAt returns the timestamp of the last accepted chunk (or
// creation time if none has arrived yet).
func (s *TranscriptionSession) LastActivityAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivityAt
}

// ProcessChunk runs one audio chunk through the full pipeline: latency sleep,
// VAD, ASR (if speech), and the endpointing decision. Exactly one Result is
// produced per call. Returns ErrClosing if the session no longer accepts
// audio.
func (s *TranscriptionSession) ProcessChunk(ctx context.Context, pcm []byte) (Result, error) {
	_, span := tracing.StartSpan(ctx, "session.process_chunk")
	defer span.End()

	s.mu.Lock()
	if s.state == Closing || s.state == Closed {
		s.mu.Unlock()
		return Result{}, ErrClosing
	}
	s.mu.Unlock()

	// The per-chunk latency sleep is not cancellable from outside: close()
	// is the only cooperative signal a session honors (spec.md §5), so a
	// caller context canceled mid-sleep (e.g. a websocket disconnect) must
	// not short-circuit this call and leave the metrics below un-incremented.
	if s.config.LatencyMs > 0 {
		time.Sleep(time.Duration(s.config.LatencyMs) * time.Millisecond)
	}

	s.mu.Lock()
	s.lastActivityAt = time.Now().UTC()
	s.metrics.AudioBytesReceived += int64(len(pcm))
	s.metrics.AudioChunksReceived++
	s.mu.Unlock()

	chunkDurationMs := s.chunkDurationMs(len(pcm))

	if s.gate.IsSpeech(pcm) {
		return s.onSpeech(pcm)
	}
	return s.onSilence(chunkDurationMs)
}

func (s *TranscriptionSession) onSpeech(pcm []byte) (Result, error) {
	s.mu.Lock()
	s.silenceMsAccumulated = 0
	if s.state == Created {
		s.state = Active
	}
	s.mu.Unlock()

	text, err := s.models.ASR.TranscribeSync(pcm)
	if err != nil {
		s.mu.Lock()
		s.metrics.ErrorsSent++
		s.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %v", asr.ErrTranscribe, err)
	}

	s.mu.Lock()
	s.metrics.TranscriptsSent++
	s.metrics.PartialsSent++
	s.mu.Unlock()

	return Result{Text: text, IsFinal: false, DurationMs: s.config.LatencyMs}, nil
}

func (s *TranscriptionSession) onSilence(chunkDurationMs float64) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.silenceMsAccumulated += chunkDurationMs

	// Silence before the first speech never finalizes (spec.md §4.2): an
	// utterance must begin before it can end.
	if s.state == Created {
		s.metrics.TranscriptsSent++
		return Result{Text: "", IsFinal: false, DurationMs: s.config.LatencyMs}, nil
	}

	if s.silenceMsAccumulated >= float64(s.config.EndpointingMs) {
		s.gate.Reset()
		s.silenceMsAccumulated = 0
		s.metrics.TranscriptsSent++
		s.metrics.FinalsSent++
		return Result{Text: "", IsFinal: true, DurationMs: s.config.LatencyMs}, nil
	}

	s.metrics.TranscriptsSent++
	return Result{Text: "", IsFinal: false, DurationMs: s.config.LatencyMs}, nil
}

// TranscribeFull runs a single blocking transcription over a complete clip.
// It does not touch VAD state, the silence accumulator, or lifecycle state.
func (s *TranscriptionSession) TranscribeFull(pcm []byte) (Result, error) {
	text, err := s.models.ASR.TranscribeSync(pcm)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", asr.ErrTranscribe, err)
	}
	return Result{Text: text, IsFinal: true, DurationMs: s.config.LatencyMs}, nil
}

// Close idempotently transitions the session to Closed, resetting its Frame
// Gate and silence accumulator. It is safe to call concurrently with an
// in-flight ProcessChunk: the in-flight call either completes normally or
// observes Closing on its next lock acquisition.
func (s *TranscriptionSession) Close() {
	s.mu.Lock()
	if s.state == Closing || s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = Closing
	s.gate.Reset()
	s.silenceMsAccumulated = 0
	s.state = Closed
	s.mu.Unlock()
}

// GetInfo returns a snapshot of session metadata; the embedded Metrics is a
// copy and safe to retain.
func (s *TranscriptionSession) GetInfo() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		SessionID:      s.id,
		State:          s.state,
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivityAt,
		Metrics:        s.metrics,
	}
}

func (s *TranscriptionSession) chunkDurationMs(nbytes int) float64 {
	bytesPerMs := float64(s.config.BytesPerSecond) / 1000.0
	if bytesPerMs == 0 {
		return 0
	}
	return float64(nbytes) / bytesPerMs
}
