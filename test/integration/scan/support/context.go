package support

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/qrscan/cmd/qrscan/cmd"
	"github.com/MeKo-Tech/qrscan/internal/server"
	"github.com/MeKo-Tech/qrscan/internal/testutil"
)

// TestContext holds the state for one scenario.
type TestContext struct {
	// Command execution state
	LastCommand string
	LastOutput  string
	LastStderr  string
	LastError   error

	// Test environment
	TempDir string

	// Server state
	Server    *server.Server
	ServerURL string
	closeHTTP func()
	Conn      *websocket.Conn

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   string

	// Last websocket message received
	LastMessage *server.WebSocketMessage
}

// NewTestContext creates a scenario context with its own temp directory.
func NewTestContext() (*TestContext, error) {
	dir, err := os.MkdirTemp("", "qrscan-integration-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return &TestContext{TempDir: dir}, nil
}

// Cleanup stops the server and removes the temp directory.
func (testCtx *TestContext) Cleanup() error {
	if testCtx.Conn != nil {
		_ = testCtx.Conn.Close()
		testCtx.Conn = nil
	}
	if testCtx.Server != nil {
		_ = testCtx.Server.Close()
		testCtx.closeHTTP()
		testCtx.Server = nil
	}
	return os.RemoveAll(testCtx.TempDir)
}

// path resolves name inside the scenario directory.
func (testCtx *TestContext) path(name string) string {
	return filepath.Join(testCtx.TempDir, name)
}

// writeScene renders a scene into the scenario directory.
func (testCtx *TestContext) writeScene(name string, config testutil.SceneConfig) error {
	img, err := testutil.GenerateScene(config)
	if err != nil {
		return fmt.Errorf("failed to generate scene: %w", err)
	}
	if err := imaging.Save(img, testCtx.path(name)); err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	return nil
}

// RunCommand executes a qrscan command line in-process from the scenario
// directory.
func (testCtx *TestContext) RunCommand(command string) error {
	args := strings.Fields(command)
	if len(args) > 0 && args[0] == "qrscan" {
		args = args[1:]
	}

	prev, err := os.Getwd()
	if err != nil {
		return err
	}
	if err := os.Chdir(testCtx.TempDir); err != nil {
		return err
	}
	defer func() { _ = os.Chdir(prev) }()

	root := cmd.NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)

	testCtx.LastCommand = command
	testCtx.LastError = root.Execute()
	testCtx.LastOutput = stdout.String()
	testCtx.LastStderr = stderr.String()
	return nil
}
