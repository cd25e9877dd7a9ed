// Package transport implements the Stream Adapter: it translates the
// websocket-framed JSON protocol into Session Registry operations and
// carries results back out as protocol messages.
package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yueh-ai/voice-to-text/internal/logger"
	"github.com/yueh-ai/voice-to-text/internal/registry"
	"github.com/yueh-ai/voice-to-text/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ClientMessage is an inbound frame from the client.
type ClientMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
}

// ServerMessage is an outbound frame to the client. Fields are
// omitted-when-empty so each message type only carries what the protocol
// defines for it.
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Message   string `json:"message,omitempty"`
	Code      string `json:"code,omitempty"`
}

const (
	codeSessionLimit   = "SESSION_LIMIT"
	codeSessionClosing = "SESSION_CLOSING"
	codeInvalidJSON    = "INVALID_JSON"
	codeInvalidAudio   = "INVALID_AUDIO"
	codeUnknownType    = "UNKNOWN_TYPE"
)

// policyViolationCloseCode is the WebSocket close code used when a
// connection is rejected for exceeding capacity (RFC 6455 §7.4.1).
const policyViolationCloseCode = 1008

// Adapter upgrades HTTP connections to websockets and runs the per-connection
// message loop against a Registry.
type Adapter struct {
	registry *registry.Registry
	log      *logger.ContextLogger
}

// New constructs a Stream Adapter bound to a Registry.
func New(reg *registry.Registry, log *logger.ContextLogger) *Adapter {
	return &Adapter{registry: reg, log: log}
}

// ServeHTTP upgrades the connection and runs the session's message loop to
// completion. It never returns an error to the HTTP layer; all protocol
// errors are surfaced as framed messages.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Error("failed to upgrade connection: %v", err)
		return
	}
	defer conn.Close()

	sess, err := a.registry.Create()
	if err != nil {
		a.writeJSON(conn, ServerMessage{Type: "error", Message: err.Error(), Code: codeSessionLimit})
		closeMsg := websocket.FormatCloseMessage(policyViolationCloseCode, "")
		conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		conn.Close()
		return
	}
	defer a.registry.Close(sess.ID())

	sessLog := a.log.WithSessionID(sess.ID())
	if err := a.writeJSON(conn, ServerMessage{Type: "session_start", SessionID: sess.ID()}); err != nil {
		return
	}

	a.loop(r.Context(), conn, sess, sessLog)
}

func (a *Adapter) loop(ctx context.Context, conn *websocket.Conn, sess *session.TranscriptionSession, log *logger.ContextLogger) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			// Clean disconnect or read error: fall through to cleanup via defer.
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			if err := a.writeJSON(conn, ServerMessage{Type: "error", Message: "invalid JSON", Code: codeInvalidJSON}); err != nil {
				return
			}
			continue
		}

		switch msg.Type {
		case "stop":
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case "audio":
			if !a.handleAudio(ctx, conn, sess, msg.Data, log) {
				return
			}

		default:
			if err := a.writeJSON(conn, ServerMessage{Type: "error", Message: "unknown message type: " + msg.Type, Code: codeUnknownType}); err != nil {
				return
			}
		}
	}
}

// handleAudio processes one audio frame, returning false if the loop should
// exit (session closing or write failure).
func (a *Adapter) handleAudio(ctx context.Context, conn *websocket.Conn, sess *session.TranscriptionSession, encoded string, log *logger.ContextLogger) bool {
	pcm, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return a.writeJSON(conn, ServerMessage{Type: "error", Message: "invalid base64 audio data", Code: codeInvalidAudio}) == nil
	}
	if len(pcm) == 0 {
		return true
	}

	result, err := sess.ProcessChunk(ctx, pcm)
	if err != nil {
		if errors.Is(err, session.ErrClosing) {
			a.writeJSON(conn, ServerMessage{Type: "error", Message: "session is closing", Code: codeSessionClosing})
			return false
		}
		log.Error("transcription error: %v", err)
		return a.writeJSON(conn, ServerMessage{Type: "error", Message: err.Error(), Code: "TRANSCRIBE_ERROR"}) == nil
	}

	if result.IsFinal {
		return a.writeJSON(conn, ServerMessage{Type: "final"}) == nil
	}
	return a.writeJSON(conn, ServerMessage{Type: "partial", Text: result.Text}) == nil
}

func (a *Adapter) writeJSON(conn *websocket.Conn, msg ServerMessage) error {
	return conn.WriteJSON(msg)
}
