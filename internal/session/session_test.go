package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yueh-ai/voice-to-text/internal/asr"
)

func testConfig() Config {
	return Config{
		SampleRate:     16000,
		VADFrameMs:     20,
		EndpointingMs:  300,
		LatencyMs:      0,
		BytesPerSecond: 32000,
	}
}

func alwaysSpeech(frame []byte) (bool, error) { return true, nil }
func alwaysSilence(frame []byte) (bool, error) { return false, nil }

func newTestModels() *asr.Models {
	return asr.Init(asr.VADModel{SampleRate: 16000}, asr.NewMockBackend(asr.MockConfig{BytesPerWord: 1000}))
}

func TestProcessChunkTransitionsToActiveOnSpeech(t *testing.T) {
	models := newTestModels()
	s, err := New(models, alwaysSpeech, testConfig())
	require.NoError(t, err)

	assert.Equal(t, Created, s.State())
	result, err := s.ProcessChunk(context.Background(), make([]byte, 640))
	require.NoError(t, err)
	assert.False(t, result.IsFinal)
	assert.NotEmpty(t, result.Text)
	assert.Equal(t, Active, s.State())
}

func TestNoFalseFinalizationDuringCreated(t *testing.T) {
	models := newTestModels()
	s, err := New(models, alwaysSilence, testConfig())
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		result, err := s.ProcessChunk(context.Background(), make([]byte, 640))
		require.NoError(t, err)
		assert.False(t, result.IsFinal)
	}
	assert.Equal(t, Created, s.State())
	assert.Equal(t, int64(0), s.GetInfo().Metrics.FinalsSent)
}

func TestFinalizationAfterActiveSilenceCrossesThreshold(t *testing.T) {
	models := newTestModels()
	cfg := testConfig()
	cfg.EndpointingMs = 60

	predicateCalls := 0
	speakThenSilence := func(frame []byte) (bool, error) {
		predicateCalls++
		return predicateCalls == 1, nil
	}

	s, err := New(models, speakThenSilence, cfg)
	require.NoError(t, err)

	_, err = s.ProcessChunk(context.Background(), make([]byte, 640))
	require.NoError(t, err)
	assert.Equal(t, Active, s.State())

	var finals int
	for i := 0; i < 5; i++ {
		result, err := s.ProcessChunk(context.Background(), make([]byte, 640))
		require.NoError(t, err)
		if result.IsFinal {
			finals++
		}
	}
	assert.Equal(t, 1, finals)
	assert.Equal(t, Active, s.State(), "finalization does not transition state out of Active")
}

func TestCloseIsIdempotent(t *testing.T) {
	models := newTestModels()
	s, err := New(models, alwaysSpeech, testConfig())
	require.NoError(t, err)

	s.Close()
	s.Close()
	s.Close()
	assert.Equal(t, Closed, s.State())
}

func TestProcessChunkRejectedAfterClose(t *testing.T) {
	models := newTestModels()
	s, err := New(models, alwaysSpeech, testConfig())
	require.NoError(t, err)

	s.Close()
	_, err = s.ProcessChunk(context.Background(), make([]byte, 640))
	assert.ErrorIs(t, err, ErrClosing)
}

func TestMetricConsistency(t *testing.T) {
	models := newTestModels()
	s, err := New(models, alwaysSpeech, testConfig())
	require.NoError(t, err)

	var totalBytes int64
	for i := 0; i < 5; i++ {
		chunk := make([]byte, 640)
		_, err := s.ProcessChunk(context.Background(), chunk)
		require.NoError(t, err)
		totalBytes += int64(len(chunk))
	}

	info := s.GetInfo()
	assert.Equal(t, totalBytes, info.Metrics.AudioBytesReceived)
	assert.Equal(t, int64(5), info.Metrics.AudioChunksReceived)
}

func TestTranscribeFullDoesNotAdvanceState(t *testing.T) {
	models := newTestModels()
	s, err := New(models, alwaysSpeech, testConfig())
	require.NoError(t, err)

	result, err := s.TranscribeFull(make([]byte, 16000))
	require.NoError(t, err)
	assert.True(t, result.IsFinal)
	assert.Equal(t, Created, s.State())
}
