package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/qrscan/internal/analyzer"
	"github.com/MeKo-Tech/qrscan/internal/frame"
	"github.com/MeKo-Tech/qrscan/internal/geometry"
	"github.com/MeKo-Tech/qrscan/internal/stream"
	"github.com/MeKo-Tech/qrscan/internal/yuv"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow connections from any origin in development
		// In production, you should check against allowed origins
		return true
	},
}

// Message types sent to frame clients.
const (
	MessageSession = "session"
	MessageResult  = "result"
	MessageError   = "error"
)

// WebSocketMessage is a JSON message sent to a frame client.
type WebSocketMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text,omitempty"`
	Format    string      `json:"format,omitempty"`
	Result    *ScanResult `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorType string      `json:"error_type,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// frameSession is one client streaming frames into its own analyzer.
type frameSession struct {
	id      string
	logger  *slog.Logger
	target  *analyzer.Target
	mailbox *stream.Mailbox
	runner  *stream.Runner

	writeMu sync.Mutex
	conn    WebSocketConnWriter
}

func (s *Server) newFrameSession(id string, conn WebSocketConnWriter, logger *slog.Logger) (*frameSession, error) {
	target, err := analyzer.NewTarget(s.cfg.CropPercent)
	if err != nil {
		return nil, err
	}
	cropper, err := analyzer.NewCropper(s.cfg.CropMode, target)
	if err != nil {
		return nil, err
	}
	sess := &frameSession{
		id:      id,
		logger:  logger,
		target:  target,
		mailbox: stream.NewMailbox(),
		conn:    conn,
	}
	an, err := s.newAnalyzer(id, cropper, sess.sendResult, logger)
	if err != nil {
		return nil, err
	}
	sess.runner = stream.NewRunner(an, sess.mailbox,
		stream.WithLogger(logger),
		stream.WithErrorHandler(func(err error) {
			sess.sendError(errorType(err), err.Error())
		}),
	)
	return sess, nil
}

// framesWebSocketHandler streams binary frame messages into a per-connection
// analyzer and reports decoded symbols back as JSON.
func (s *Server) framesWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	// Increment active connections metric
	websocketConnections.Inc()
	defer websocketConnections.Dec()

	id := uuid.NewString()
	logger := s.logger.With("session_id", id)
	logger.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	sess, err := s.newFrameSession(id, conn, logger)
	if err != nil {
		logger.Error("Failed to create frame session", "error", err)
		(&frameSession{id: id, logger: logger, conn: conn}).sendError("session_error", err.Error())
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.addSession(id, cancel)
	defer s.removeSession(id)

	// Cancelling the session unblocks the read loop.
	stopClose := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stopClose()

	s.handleWebSocketConnection(ctx, cancel, conn, sess)
}

// handleWebSocketConnection runs the analysis worker and the read loop
// until either side ends the session.
func (s *Server) handleWebSocketConnection(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sess *frameSession) {
	conn.SetReadLimit(s.maxMessage)
	// Set read deadline to prevent hanging connections
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Send ping messages to keep connection alive
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	sess.send(WebSocketMessage{Type: MessageSession})

	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		if err := sess.runner.Run(ctx); err != nil {
			sess.sendError(errorType(err), err.Error())
			cancel()
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.logger.Error("WebSocket error", "error", err)
			}
			break
		}

		// Record message metric
		websocketMessagesTotal.WithLabelValues("received").Inc()
		// Any message proves the peer is alive.
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if messageType != websocket.BinaryMessage {
			sess.sendError("invalid_request", "expected a binary msgpack frame message")
			continue
		}
		sess.handleFrameMessage(data)
	}

	cancel()
	<-runnerDone

	st := sess.mailbox.Stats()
	sess.logger.Info("WebSocket connection closed",
		"published", st.Published,
		"consumed", st.Consumed,
		"dropped", st.Dropped)
}

// handleFrameMessage decodes one binary message and queues its frame.
func (sess *frameSession) handleFrameMessage(data []byte) {
	msg, err := DecodeFrameMessage(data)
	if err != nil {
		sess.sendError("invalid_request", err.Error())
		return
	}
	if err := msg.ApplyTarget(sess.target); err != nil {
		sess.sendError("invalid_target", err.Error())
		return
	}
	f, err := msg.Frame()
	if err != nil {
		framesTotal.WithLabelValues(analyzer.OutcomeMalformed.String()).Inc()
		sess.sendError("malformed_frame", err.Error())
		return
	}
	sess.publish(f)
}

// publish queues f and counts any frame it displaced.
func (sess *frameSession) publish(f frame.Frame) {
	before := sess.mailbox.Stats().Dropped
	if !sess.mailbox.Publish(f) {
		framesDropped.Inc()
		return
	}
	if d := sess.mailbox.Stats().Dropped - before; d > 0 {
		framesDropped.Add(float64(d))
	}
}

func (sess *frameSession) sendResult(r analyzer.Result) {
	res := newScanResult(r)
	sess.send(WebSocketMessage{
		Type:   MessageResult,
		Text:   res.Text,
		Format: res.Format,
		Result: &res,
	})
}

// sendError sends an error message over WebSocket.
func (sess *frameSession) sendError(errorType, message string) {
	sess.send(WebSocketMessage{
		Type:      MessageError,
		Error:     message,
		ErrorType: errorType,
	})
}

// send writes msg as JSON. The runner and the read loop both reply, so
// writes are serialized.
func (sess *frameSession) send(msg WebSocketMessage) {
	msg.SessionID = sess.id
	data, err := json.Marshal(msg)
	if err != nil {
		sess.logger.Error("Failed to marshal WebSocket message", "error", err)
		return
	}

	sess.writeMu.Lock()
	err = sess.conn.WriteMessage(websocket.TextMessage, data)
	sess.writeMu.Unlock()
	if err != nil {
		sess.logger.Debug("Failed to send WebSocket message", "type", msg.Type, "error", err)
		return
	}

	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// errorType classifies analysis errors for clients.
func errorType(err error) string {
	switch {
	case errors.Is(err, yuv.ErrMalformedFrame):
		return "malformed_frame"
	case errors.Is(err, geometry.ErrUnsupportedRotation):
		return "unsupported_rotation"
	case errors.Is(err, geometry.ErrInvalidPercent), errors.Is(err, geometry.ErrInvalidGeometry):
		return "invalid_target"
	default:
		return "processing_error"
	}
}
