package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitReturnsShutdown(t *testing.T) {
	shutdown, err := Init("test-service")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartSpanReturnsRecordingSpan(t *testing.T) {
	_, err := Init("test-service")
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "unit-test-span")
	defer span.End()

	assert.NotNil(t, ctx)
	assert.True(t, span.IsRecording())
}
