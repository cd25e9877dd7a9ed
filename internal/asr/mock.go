package asr

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/yueh-ai/voice-to-text/internal/tracing"
)

// MockConfig configures the mock backend.
type MockConfig struct {
	// BytesPerWord is how many audio bytes correspond to one generated word.
	BytesPerWord int
	// LatencyMs is the simulated per-call processing latency.
	LatencyMs int
}

// MockBackend generates text proportional to audio byte length rather than
// running real inference. It holds no per-client state and can be shared
// across sessions; a weighted semaphore of 1 serializes calls the way a
// single mutex around inference would (spec.md §5), and a token-bucket
// limiter paces throughput to emulate a backend with finite capacity.
type MockBackend struct {
	bytesPerWord int
	latency      time.Duration
	sem          *semaphore.Weighted
	limiter      *rate.Limiter
	rng          *rand.Rand
}

// NewMockBackend constructs a MockBackend from config, defaulting
// bytesPerWord to the original service's bytes_per_second/words_per_second
// constant (32000/2.5 = 12800).
func NewMockBackend(cfg MockConfig) *MockBackend {
	bytesPerWord := cfg.BytesPerWord
	if bytesPerWord <= 0 {
		bytesPerWord = 12800
	}
	limit := rate.Inf
	if cfg.LatencyMs > 0 {
		// One inference slot per LatencyMs, matching the simulated per-call delay.
		limit = rate.Every(time.Duration(cfg.LatencyMs) * time.Millisecond)
	}
	return &MockBackend{
		bytesPerWord: bytesPerWord,
		latency:      time.Duration(cfg.LatencyMs) * time.Millisecond,
		sem:          semaphore.NewWeighted(1),
		limiter:      rate.NewLimiter(limit, 1),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// TranscribeSync returns fake text immediately, with no latency simulation.
// It still serializes against concurrent callers via the shared semaphore,
// matching how a real backend would serialize GPU/CPU inference.
func (m *MockBackend) TranscribeSync(pcm []byte) (string, error) {
	ctx, span := tracing.StartSpan(context.Background(), "asr.transcribe_sync")
	defer span.End()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer m.sem.Release(1)
	return m.generate(len(pcm)), nil
}

// Transcribe simulates processing latency via a token-bucket limiter before
// returning fake text, modeling a backend with finite per-second throughput.
// The bucket holds one token, so a call made at least LatencyMs after the
// previous one (or the first call) is not delayed.
func (m *MockBackend) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "asr.transcribe")
	defer span.End()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer m.sem.Release(1)

	if err := m.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return m.generate(len(pcm)), nil
}

// Close releases no resources but satisfies the Backend contract.
func (m *MockBackend) Close() error { return nil }

func (m *MockBackend) generate(audioBytes int) string {
	wordCount := audioBytes / m.bytesPerWord
	if wordCount < 1 {
		wordCount = 1
	}
	words := make([]string, wordCount)
	for i := range words {
		words[i] = vocabulary[m.rng.Intn(len(vocabulary))]
	}
	return strings.Join(words, " ")
}
