package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yueh-ai/voice-to-text/internal/asr"
	"github.com/yueh-ai/voice-to-text/internal/session"
	"github.com/yueh-ai/voice-to-text/internal/vad"
)

func alwaysSpeech(frame []byte) (bool, error) { return true, nil }

func testSessionConfig() session.Config {
	return session.Config{
		SampleRate:     16000,
		VADFrameMs:     20,
		EndpointingMs:  300,
		BytesPerSecond: 32000,
	}
}

func newTestRegistry(maxSessions int) *Registry {
	models := asr.Init(asr.VADModel{SampleRate: 16000}, asr.NewMockBackend(asr.MockConfig{BytesPerWord: 1000}))
	return New(models, vad.Predicate(alwaysSpeech), testSessionConfig(), Config{
		MaxSessions:                 maxSessions,
		IdleTimeoutSeconds:          300,
		InitialSpeechTimeoutSeconds: 10,
		CleanupIntervalSeconds:      30,
	}, nil)
}

func TestCreateEnforcesAdmissionCap(t *testing.T) {
	reg := newTestRegistry(3)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, failed := 0, 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Create()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
			} else {
				succeeded++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 7, failed)
	assert.Equal(t, 3, reg.ActiveCount())
}

func TestGetUnknownSessionFails(t *testing.T) {
	reg := newTestRegistry(10)
	_, err := reg.Get("nonexistent")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCloseRemovesSessionAndReportsFound(t *testing.T) {
	reg := newTestRegistry(10)
	s, err := reg.Create()
	require.NoError(t, err)

	assert.True(t, reg.Close(s.ID()))
	assert.False(t, reg.Close(s.ID()))

	_, err = reg.Get(s.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStopClosesAllRemainingSessions(t *testing.T) {
	reg := newTestRegistry(10)
	s1, err := reg.Create()
	require.NoError(t, err)
	s2, err := reg.Create()
	require.NoError(t, err)

	reg.Start(context.Background())
	require.NoError(t, reg.Stop())

	assert.Equal(t, session.Closed, s1.State())
	assert.Equal(t, session.Closed, s2.State())
	assert.Equal(t, 0, reg.ActiveCount())
}

func TestAggregateMetricsSumsAcrossSessions(t *testing.T) {
	reg := newTestRegistry(10)
	s1, err := reg.Create()
	require.NoError(t, err)
	s2, err := reg.Create()
	require.NoError(t, err)

	_, err = s1.ProcessChunk(context.Background(), make([]byte, 640))
	require.NoError(t, err)
	_, err = s2.ProcessChunk(context.Background(), make([]byte, 640))
	require.NoError(t, err)

	agg := reg.AggregateMetrics()
	assert.Equal(t, int64(1280), agg.TotalAudioBytes)
	assert.Equal(t, int64(2), agg.TotalChunks)
	assert.Equal(t, 2, agg.TotalSessions)
	assert.Equal(t, int64(2), agg.TotalPartials)
	assert.Equal(t, int64(0), agg.TotalFinals)
	assert.Equal(t, int64(0), agg.TotalErrors)
}

func TestReaperClosesStaleCreatedSessionBeforeIdleActiveSession(t *testing.T) {
	reg := newTestRegistry(10)
	reg.config.InitialSpeechTimeoutSeconds = 0.01
	reg.config.IdleTimeoutSeconds = 10

	staleCreated, err := reg.Create()
	require.NoError(t, err)
	idleActive, err := reg.Create()
	require.NoError(t, err)
	_, err = idleActive.ProcessChunk(context.Background(), make([]byte, 640))
	require.NoError(t, err)
	require.Equal(t, session.Active, idleActive.State())

	time.Sleep(50 * time.Millisecond)
	reg.sweep()

	assert.Equal(t, session.Closed, staleCreated.State())
	assert.Equal(t, session.Active, idleActive.State())
}
