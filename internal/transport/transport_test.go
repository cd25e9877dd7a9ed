package transport

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yueh-ai/voice-to-text/internal/asr"
	"github.com/yueh-ai/voice-to-text/internal/logger"
	"github.com/yueh-ai/voice-to-text/internal/registry"
	"github.com/yueh-ai/voice-to-text/internal/session"
	"github.com/yueh-ai/voice-to-text/internal/vad"
)

func alwaysSpeech(frame []byte) (bool, error) { return true, nil }

func newTestServer(t *testing.T, maxSessions int) (*httptest.Server, *registry.Registry) {
	t.Helper()
	models := asr.Init(asr.VADModel{SampleRate: 16000}, asr.NewMockBackend(asr.MockConfig{BytesPerWord: 100}))
	reg := registry.New(models, vad.Predicate(alwaysSpeech), session.Config{
		SampleRate:     16000,
		VADFrameMs:     20,
		EndpointingMs:  300,
		BytesPerSecond: 32000,
	}, registry.Config{
		MaxSessions:                 maxSessions,
		IdleTimeoutSeconds:          300,
		InitialSpeechTimeoutSeconds: 30,
		CleanupIntervalSeconds:      30,
	}, logger.New(false).With("test"))

	adapter := New(reg, logger.New(false).With("test"))
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", adapter.ServeHTTP)
	return httptest.NewServer(mux), reg
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestStreamSendsSessionStartFirst(t *testing.T) {
	server, _ := newTestServer(t, 10)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "session_start", msg.Type)
	assert.NotEmpty(t, msg.SessionID)
}

func TestStreamAudioProducesPartial(t *testing.T) {
	server, _ := newTestServer(t, 10)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	var start ServerMessage
	require.NoError(t, conn.ReadJSON(&start))

	payload := base64.StdEncoding.EncodeToString(make([]byte, 640))
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "audio", Data: payload}))

	var result ServerMessage
	require.NoError(t, conn.ReadJSON(&result))
	assert.Equal(t, "partial", result.Type)
}

func TestStreamInvalidJSONYieldsError(t *testing.T) {
	server, _ := newTestServer(t, 10)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	var start ServerMessage
	require.NoError(t, conn.ReadJSON(&start))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	var errMsg ServerMessage
	require.NoError(t, conn.ReadJSON(&errMsg))
	assert.Equal(t, "error", errMsg.Type)
	assert.Equal(t, codeInvalidJSON, errMsg.Code)
}

func TestStreamUnknownTypeYieldsError(t *testing.T) {
	server, _ := newTestServer(t, 10)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	var start ServerMessage
	require.NoError(t, conn.ReadJSON(&start))

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "bogus"}))

	var errMsg ServerMessage
	require.NoError(t, conn.ReadJSON(&errMsg))
	assert.Equal(t, codeUnknownType, errMsg.Code)
}

func TestStreamRejectsOverCapacity(t *testing.T) {
	server, _ := newTestServer(t, 0)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	var errMsg ServerMessage
	require.NoError(t, conn.ReadJSON(&errMsg))
	assert.Equal(t, "error", errMsg.Type)
	assert.Equal(t, codeSessionLimit, errMsg.Code)
}

func TestStreamCloseOnSessionCleanup(t *testing.T) {
	server, reg := newTestServer(t, 10)
	defer server.Close()

	conn := dial(t, server)
	var start ServerMessage
	require.NoError(t, conn.ReadJSON(&start))
	conn.Close()

	// Give the read loop time to observe the disconnect and clean up.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for {
		if reg.ActiveCount() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatal("session was not cleaned up after disconnect")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
