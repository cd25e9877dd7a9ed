package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPassesValidation(t *testing.T) {
	assert.NoError(t, Validate(Default()))
}

func TestValidateRejectsBadFrameMs(t *testing.T) {
	s := Default()
	s.VADFrameMs = 15
	assert.Error(t, Validate(s))
}

func TestValidateRejectsRealEngineWithoutModelPath(t *testing.T) {
	s := Default()
	s.ASREngine = EngineReal
	s.ModelPath = ""
	assert.Error(t, Validate(s))
}

func TestValidateRejectsInitialTimeoutLongerThanIdleTimeout(t *testing.T) {
	s := Default()
	s.InitialSpeechTimeoutSeconds = 500
	s.IdleTimeoutSeconds = 10
	assert.Error(t, Validate(s))
}

func TestLoadOverlaysYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("endpointing_ms: 500\nmax_sessions: 42\n"), 0o644))

	s, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, 500, s.EndpointingMs)
	assert.Equal(t, 42, s.MaxSessions)
	assert.Equal(t, Default().VADFrameMs, s.VADFrameMs)
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	t.Setenv("ASR_ENDPOINTING_MS", "777")
	s, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, 777, s.EndpointingMs)
}
