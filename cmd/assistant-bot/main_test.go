// ABOUTME: Tests for assistant-bot wiring helpers
// ABOUTME: Config path resolution, config mapping, transport supervision and log output

package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/meeting-assistant/internal/chat"
	"github.com/2389/meeting-assistant/internal/config"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("ASSISTANT_CONFIG", "/etc/assistant.yaml")
	assert.Equal(t, "/flag.toml", getConfigPath("/flag.toml"))
	assert.Equal(t, "/etc/assistant.yaml", getConfigPath(""))

	t.Setenv("ASSISTANT_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "meeting-assistant", "config.yaml"), getConfigPath(""))
}

func TestGetDataPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	assert.Equal(t, filepath.Join("/data", "meeting-assistant"), getDataPath())
}

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
agent:
  url: "http://agent.local:8080"
  max_retries: 5
  base_delay: "500ms"
bot:
  handle_message_edits: false
  edit_response_timeout: "45s"
  message_limit: 3000
discord:
  enabled: true
  bot_token: "token"
database:
  path: ":memory:"
`), false)
	require.NoError(t, err)
	return cfg
}

func TestAgentConfig(t *testing.T) {
	cfg := loadTestConfig(t)
	ac := agentConfig(cfg, slog.Default())

	assert.Equal(t, "http://agent.local:8080", ac.Endpoint)
	assert.Equal(t, 5, ac.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, ac.BaseDelay)
	assert.Equal(t, config.DefaultFailedTaskDelay, ac.FailedTaskDelay)
	assert.Equal(t, config.DefaultTimeout, ac.Timeout)
}

func TestFrontendConfig(t *testing.T) {
	cfg := loadTestConfig(t)
	fc := frontendConfig(cfg)

	assert.Equal(t, "http://agent.local:8080", fc.AgentURL)
	assert.False(t, fc.EditsEnabled)
	assert.Equal(t, 45*time.Second, fc.EditWindow)
	assert.Equal(t, 3000, fc.MessageLimit)
	assert.True(t, fc.FormatReplies)
	assert.Equal(t, config.DefaultTypingInterval, fc.TypingInterval)
}

type stubTransport struct {
	name string
	err  error
}

func (s *stubTransport) Name() string          { return s.name }
func (s *stubTransport) MaxMessageLength() int { return 100 }
func (s *stubTransport) SendText(context.Context, string, chat.OutgoingMessage) (string, error) {
	return "", nil
}
func (s *stubTransport) EditText(context.Context, string, string, chat.OutgoingMessage) error {
	return nil
}
func (s *stubTransport) SendTyping(context.Context, string) error { return nil }
func (s *stubTransport) Close() error                             { return nil }

func (s *stubTransport) Run(ctx context.Context, _ chat.Handler) error {
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return nil
}

func TestRunTransportsStopsAllOnFailure(t *testing.T) {
	failing := &stubTransport{name: "broken", err: errors.New("gateway refused")}
	healthy := &stubTransport{name: "healthy"}

	done := make(chan error, 1)
	go func() {
		done <- runTransports(context.Background(), []transport{healthy, failing}, make([]*chat.Frontend, 2), slog.Default())
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broken transport")
		assert.Contains(t, err.Error(), "gateway refused")
	case <-time.After(2 * time.Second):
		t.Fatal("runTransports did not return after a transport failed")
	}
}

func TestRunTransportsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runTransports(ctx, []transport{&stubTransport{name: "a"}}, make([]*chat.Frontend, 1), slog.Default())
	}()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runTransports did not return after cancel")
	}
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newColorHandler(&buf, slog.LevelInfo)).With("component", "test")

	logger.Debug("hidden")
	logger.WithGroup("req").Info("hello", "owner", "matrix:@a:x")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "component=")
	assert.Contains(t, out, "req.owner=")
	assert.Contains(t, out, "matrix:@a:x")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestVersionDefaultsToDev(t *testing.T) {
	assert.Equal(t, "dev", version)
}
