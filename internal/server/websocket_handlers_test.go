package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrscan/internal/frame"
	"github.com/MeKo-Tech/qrscan/internal/geometry"
	"github.com/MeKo-Tech/qrscan/internal/testutil"
	"github.com/MeKo-Tech/qrscan/internal/yuv"
)

// mockWebSocketConn records messages instead of sending them.
type mockWebSocketConn struct {
	sentMessages []sentMessage
}

type sentMessage struct {
	messageType int
	data        []byte
}

func (m *mockWebSocketConn) WriteMessage(messageType int, data []byte) error {
	m.sentMessages = append(m.sentMessages, sentMessage{messageType: messageType, data: data})
	return nil
}

func startFrameServer(t *testing.T, mutate func(*Config)) (*Server, string) {
	t.Helper()
	s := newTestServer(t, mutate)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/frames"
}

func dialFrames(t *testing.T, url string) (*websocket.Conn, string) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	hello := readWS(t, conn)
	require.Equal(t, MessageSession, hello.Type)
	return conn, hello.SessionID
}

func readWS(t *testing.T, conn *websocket.Conn) WebSocketMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	var msg WebSocketMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func sendFrame(t *testing.T, conn *websocket.Conn, msg FrameMessage) {
	t.Helper()
	data, err := msg.Marshal()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))
}

func qrMessage(t *testing.T, payload string) FrameMessage {
	t.Helper()
	f := testutil.QRFrame(t, testutil.DefaultSceneConfig(payload),
		frame.BuildOptions{Layout: frame.LayoutNV21, RowPadding: 16})
	return NewFrameMessage(f)
}

// strideless is a one-plane capture the converter must reject.
func strideless() FrameMessage {
	return FrameMessage{
		Width:  64,
		Height: 64,
		Planes: []PlaneMessage{{Data: make([]byte, 64*64), RowStride: 0, PixelStride: 1}},
	}
}

func TestFramesWebSocket_DecodesQR(t *testing.T) {
	_, url := startFrameServer(t, nil)
	conn, sessionID := dialFrames(t, url)

	_, err := uuid.Parse(sessionID)
	require.NoError(t, err, "session ids are uuids")

	sendFrame(t, conn, qrMessage(t, "ws:hello"))

	msg := readWS(t, conn)
	require.Equal(t, MessageResult, msg.Type, msg.Error)
	assert.Equal(t, sessionID, msg.SessionID)
	assert.Equal(t, "ws:hello", msg.Text)
	assert.Equal(t, "qr", msg.Format)
	require.NotNil(t, msg.Result)
	assert.Equal(t, uint64(1), msg.Result.Sequence)
	assert.Zero(t, msg.Result.Crop.X%2, "crop origin is chroma aligned")
}

func TestFramesWebSocket_MalformedFrameDoesNotEndStream(t *testing.T) {
	_, url := startFrameServer(t, nil)
	conn, _ := dialFrames(t, url)

	sendFrame(t, conn, strideless())
	msg := readWS(t, conn)
	require.Equal(t, MessageError, msg.Type)
	assert.Equal(t, "malformed_frame", msg.ErrorType)

	sendFrame(t, conn, qrMessage(t, "after-malformed"))
	msg = readWS(t, conn)
	require.Equal(t, MessageResult, msg.Type, msg.Error)
	assert.Equal(t, "after-malformed", msg.Text)
}

func TestFramesWebSocket_InvalidMessages(t *testing.T) {
	_, url := startFrameServer(t, nil)
	conn, _ := dialFrames(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"hello":"world"}`)))
	msg := readWS(t, conn)
	assert.Equal(t, "invalid_request", msg.ErrorType)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0xc1}))
	msg = readWS(t, conn)
	assert.Equal(t, "invalid_request", msg.ErrorType)

	bad := qrMessage(t, "unused")
	bad.CropPercent = 250
	sendFrame(t, conn, bad)
	msg = readWS(t, conn)
	assert.Equal(t, "invalid_target", msg.ErrorType)

	sendFrame(t, conn, FrameMessage{Width: 8, Height: 8})
	msg = readWS(t, conn)
	assert.Equal(t, "malformed_frame", msg.ErrorType)

	// The session is still usable.
	sendFrame(t, conn, qrMessage(t, "still-open"))
	msg = readWS(t, conn)
	require.Equal(t, MessageResult, msg.Type, msg.Error)
	assert.Equal(t, "still-open", msg.Text)
}

func TestFramesWebSocket_UnsupportedRotationEndsSession(t *testing.T) {
	s, url := startFrameServer(t, nil)
	conn, _ := dialFrames(t, url)

	m := qrMessage(t, "tilted")
	m.Rotation = 45
	sendFrame(t, conn, m)

	msg := readWS(t, conn)
	require.Equal(t, MessageError, msg.Type)
	assert.Equal(t, "unsupported_rotation", msg.ErrorType)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "server closes the connection")

	assert.Eventually(t, func() bool { return s.SessionCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestFramesWebSocket_OverlayMode(t *testing.T) {
	_, url := startFrameServer(t, func(c *Config) {
		c.CropMode = "overlay"
		c.CropPercent = 0
	})
	conn, _ := dialFrames(t, url)

	scene := testutil.DefaultSceneConfig("overlay")
	scene.Size = testutil.ImageSize{Width: 480, Height: 640}
	scene.Rotation = 90
	f := testutil.QRFrame(t, scene, frame.BuildOptions{Layout: frame.LayoutNV21, Rotation: 90})

	m := NewFrameMessage(f)
	m.Overlay = &OverlayMessage{Width: 480, Height: 640, Left: 80, Top: 160, Right: 400, Bottom: 480}
	sendFrame(t, conn, m)

	msg := readWS(t, conn)
	require.Equal(t, MessageResult, msg.Type, msg.Error)
	assert.Equal(t, "overlay", msg.Text)
	assert.Equal(t, 90, msg.Result.Rotation)
}

func TestServer_CloseEndsSessions(t *testing.T) {
	s, url := startFrameServer(t, nil)
	conn, _ := dialFrames(t, url)
	require.Eventually(t, func() bool { return s.SessionCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Close())
	assert.Zero(t, s.SessionCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestFrameSession_SendError(t *testing.T) {
	mock := &mockWebSocketConn{}
	sess := &frameSession{id: "abc", logger: slog.New(slog.NewTextHandler(io.Discard, nil)), conn: mock}

	sess.sendError("invalid_request", "bad frame")

	require.Len(t, mock.sentMessages, 1)
	assert.Equal(t, websocket.TextMessage, mock.sentMessages[0].messageType)

	var msg WebSocketMessage
	require.NoError(t, json.Unmarshal(mock.sentMessages[0].data, &msg))
	assert.Equal(t, WebSocketMessage{
		Type:      MessageError,
		SessionID: "abc",
		Error:     "bad frame",
		ErrorType: "invalid_request",
	}, msg)
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("wrap: %w", yuv.ErrMalformedFrame), "malformed_frame"},
		{geometry.CheckRotation(45), "unsupported_rotation"},
		{fmt.Errorf("analyzer: crop: %w", geometry.ErrInvalidGeometry), "invalid_target"},
		{errors.New("boom"), "processing_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorType(tt.err), tt.err.Error())
	}
}
