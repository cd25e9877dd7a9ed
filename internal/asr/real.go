package asr

import (
	"context"
	"fmt"
	"time"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"golang.org/x/sync/semaphore"

	"github.com/yueh-ai/voice-to-text/internal/logger"
	"github.com/yueh-ai/voice-to-text/internal/tracing"
)

// RealConfig configures the whisper.cpp-backed backend, mirroring the
// original service's NeMo backend config surface (model path stands in for
// model name, warmup/RTF threshold carried over unchanged). There is no
// device setting; whisper.cpp is configured by thread count instead.
type RealConfig struct {
	ModelPath          string
	Language           string
	Threads            uint
	Warmup             bool
	RTFWarningThreshold float64
	Logger             *logger.ContextLogger
}

// RealBackend transcribes with a real whisper.cpp model. Inference is
// serialized behind a weighted(1) semaphore, standing in for spec.md §5's
// "single mutex around inference".
type RealBackend struct {
	model   whisper.Model
	ctx     whisper.Context
	sem     *semaphore.Weighted
	sampleRate int
	rtfWarn float64
	log     *logger.ContextLogger
}

// NewRealBackend loads the whisper.cpp model and configures the inference
// context. An optional warmup pass runs one silent inference to pay model
// JIT/allocation costs before the first real request.
func NewRealBackend(cfg RealConfig) (*RealBackend, error) {
	model, err := whisper.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("asr: failed to load whisper model: %w", err)
	}

	wctx, err := model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("asr: failed to create whisper context: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = "en"
	}
	wctx.SetLanguage(lang)
	if cfg.Threads > 0 {
		wctx.SetThreads(cfg.Threads)
	}
	wctx.SetTranslate(false)

	b := &RealBackend{
		model:      model,
		ctx:        wctx,
		sem:        semaphore.NewWeighted(1),
		sampleRate: 16000,
		rtfWarn:    cfg.RTFWarningThreshold,
		log:        cfg.Logger,
	}

	if cfg.Warmup {
		silence := make([]byte, 32000) // 1s of silence at 16kHz/16-bit
		if _, err := b.TranscribeSync(silence); err != nil && b.log != nil {
			b.log.Warn("warmup transcription failed: %v", err)
		}
	}

	return b, nil
}

// TranscribeSync runs blocking inference on pcm and returns the transcript.
func (b *RealBackend) TranscribeSync(pcm []byte) (string, error) {
	ctx, span := tracing.StartSpan(context.Background(), "asr.transcribe_sync")
	defer span.End()

	if err := b.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer b.sem.Release(1)

	samples := pcmToFloat32(pcm)
	started := time.Now()

	segments := []string{}
	err := b.ctx.Process(samples, nil, func(seg whisper.Segment) {
		segments = append(segments, seg.Text)
	}, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscribe, err)
	}

	var text string
	for i, s := range segments {
		if i > 0 && s != "" {
			text += " "
		}
		text += s
	}

	b.logRTF(started, len(samples))
	return text, nil
}

// Transcribe runs TranscribeSync on a separate goroutine and returns
// ctx.Err() as soon as ctx is done; the inference itself is not interrupted
// and runs to completion in the background.
func (b *RealBackend) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "asr.transcribe")
	defer span.End()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := b.TranscribeSync(pcm)
		done <- result{text, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.text, r.err
	}
}

// Close releases resources held by the backend.
func (b *RealBackend) Close() error {
	return b.model.Close()
}

func (b *RealBackend) logRTF(started time.Time, sampleCount int) {
	if b.log == nil || b.rtfWarn <= 0 {
		return
	}
	elapsed := time.Since(started)
	audioDuration := time.Duration(float64(sampleCount)/float64(b.sampleRate)*1000) * time.Millisecond
	if audioDuration <= 0 {
		return
	}
	rtf := elapsed.Seconds() / audioDuration.Seconds()
	if rtf > b.rtfWarn {
		b.log.Warn("inference RTF %.2f exceeds warning threshold %.2f (took %s for %s of audio)",
			rtf, b.rtfWarn, elapsed, audioDuration)
	}
}

func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		samples[i] = float32(s) / 32768.0
	}
	return samples
}
