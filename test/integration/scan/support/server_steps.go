package support

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/qrscan/internal/barcode"
	"github.com/MeKo-Tech/qrscan/internal/frame"
	"github.com/MeKo-Tech/qrscan/internal/server"
	"github.com/MeKo-Tech/qrscan/internal/testutil"
)

// RegisterServerSteps registers the HTTP and websocket steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a running scan server$`, testCtx.aRunningScanServer)
	sc.Step(`^I request "(GET|POST) ([^"]*)"$`, testCtx.iRequest)
	sc.Step(`^I upload an image containing the QR code "([^"]*)"$`, testCtx.iUploadAnImage)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^I open a frame stream$`, testCtx.iOpenAFrameStream)
	sc.Step(`^I stream a frame containing the QR code "([^"]*)"$`, testCtx.iStreamAFrameContaining)
	sc.Step(`^I stream a malformed frame$`, testCtx.iStreamAMalformedFrame)
	sc.Step(`^I should receive a result with the text "([^"]*)"$`, testCtx.iShouldReceiveAResult)
	sc.Step(`^I should receive an error of type "([^"]*)"$`, testCtx.iShouldReceiveAnError)
}

func (testCtx *TestContext) aRunningScanServer() error {
	s, err := server.NewServer(server.Config{
		Host:         "localhost",
		CORSOrigin:   "*",
		MaxMessageMB: 8,
		Decoder:      barcode.Options{Formats: []barcode.Format{barcode.FormatQR}},
		CropMode:     "percent",
		CropPercent:  70,
		SampleEvery:  10,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	ts := httptest.NewServer(s.Handler())
	testCtx.Server = s
	testCtx.ServerURL = ts.URL
	testCtx.closeHTTP = ts.Close
	return nil
}

func (testCtx *TestContext) recordResponse(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(body)
	return nil
}

func (testCtx *TestContext) iRequest(method, path string) error {
	req, err := http.NewRequest(method, testCtx.ServerURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	return testCtx.recordResponse(resp)
}

func (testCtx *TestContext) iUploadAnImage(payload string) error {
	img, err := testutil.GenerateScene(testutil.DefaultSceneConfig(payload))
	if err != nil {
		return err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "upload.png")
	if err != nil {
		return err
	}
	if err := png.Encode(part, img); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	resp, err := http.Post(testCtx.ServerURL+"/scan/image", mw.FormDataContentType(), &body) //nolint:noctx // test request
	if err != nil {
		return err
	}
	return testCtx.recordResponse(resp)
}

func (testCtx *TestContext) theResponseStatusShouldBe(status int) error {
	if testCtx.LastHTTPStatusCode != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(expected string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, expected) {
		return fmt.Errorf("response does not contain %q: %s", expected, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) iOpenAFrameStream() error {
	url := "ws" + strings.TrimPrefix(testCtx.ServerURL, "http") + "/ws/frames"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	testCtx.Conn = conn

	hello, err := testCtx.readMessage()
	if err != nil {
		return err
	}
	if hello.Type != server.MessageSession || hello.SessionID == "" {
		return fmt.Errorf("expected session hello, got %+v", hello)
	}
	return nil
}

func (testCtx *TestContext) readMessage() (*server.WebSocketMessage, error) {
	if testCtx.Conn == nil {
		return nil, fmt.Errorf("no frame stream open")
	}
	if err := testCtx.Conn.SetReadDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return nil, err
	}
	_, data, err := testCtx.Conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	var msg server.WebSocketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid message %s: %w", data, err)
	}
	testCtx.LastMessage = &msg
	return &msg, nil
}

func (testCtx *TestContext) sendFrame(msg server.FrameMessage) error {
	if testCtx.Conn == nil {
		return fmt.Errorf("no frame stream open")
	}
	data, err := msg.Marshal()
	if err != nil {
		return err
	}
	return testCtx.Conn.WriteMessage(websocket.BinaryMessage, data)
}

func (testCtx *TestContext) iStreamAFrameContaining(payload string) error {
	img, err := testutil.GenerateScene(testutil.DefaultSceneConfig(payload))
	if err != nil {
		return err
	}
	f, err := frame.FromImage(img, frame.BuildOptions{Layout: frame.LayoutNV21, RowPadding: 32})
	if err != nil {
		return err
	}
	return testCtx.sendFrame(server.NewFrameMessage(f))
}

func (testCtx *TestContext) iStreamAMalformedFrame() error {
	return testCtx.sendFrame(server.FrameMessage{
		Width:  64,
		Height: 64,
		Planes: []server.PlaneMessage{{Data: make([]byte, 64*64), RowStride: 0, PixelStride: 1}},
	})
}

func (testCtx *TestContext) iShouldReceiveAResult(text string) error {
	msg, err := testCtx.readMessage()
	if err != nil {
		return err
	}
	if msg.Type != server.MessageResult {
		return fmt.Errorf("expected result, got %s: %s", msg.Type, msg.Error)
	}
	if msg.Text != text {
		return fmt.Errorf("expected text %q, got %q", text, msg.Text)
	}
	return nil
}

func (testCtx *TestContext) iShouldReceiveAnError(errorType string) error {
	msg, err := testCtx.readMessage()
	if err != nil {
		return err
	}
	if msg.Type != server.MessageError || msg.ErrorType != errorType {
		return fmt.Errorf("expected %s error, got %+v", errorType, msg)
	}
	return nil
}
