package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/acpfactory/acpfactory/internal/common/errors"
	"github.com/acpfactory/acpfactory/internal/common/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text", OutputPath: "stderr"})
	require.NoError(t, err)
	return log
}

func TestRegistry_DefaultsLoaded(t *testing.T) {
	r := NewRegistry(testLogger(t))

	for _, id := range []string{"claude-code", "codex", "gemini", "copilot-cli", "opencode"} {
		config, err := r.Get(id)
		require.NoError(t, err, "default agent %s", id)
		assert.NotEmpty(t, config.Command)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry(testLogger(t))

	_, err := r.Get("does-not-exist")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRegistry_RegisterAndUnregister(t *testing.T) {
	r := NewRegistry(testLogger(t))

	config := &AgentConfig{ID: "custom", Command: "/usr/local/bin/custom-agent", Enabled: true}
	require.NoError(t, r.Register(config))

	got, err := r.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/custom-agent", got.Command)

	// Duplicate registration conflicts.
	assert.Error(t, r.Register(config))

	require.NoError(t, r.Unregister("custom"))
	_, err = r.Get("custom")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry(testLogger(t))

	assert.Error(t, r.Register(&AgentConfig{Command: "x"}))
	assert.Error(t, r.Register(&AgentConfig{ID: "no-command"}))
}

func TestRegistry_LoadFromFile(t *testing.T) {
	r := NewRegistry(testLogger(t))

	path := filepath.Join(t.TempDir(), "agents.json")
	content := `[
		{"id": "custom", "command": "custom-agent", "args": ["--acp"], "enabled": true},
		{"id": "claude-code", "command": "claude-code-acp", "enabled": true},
		{"id": "", "command": "invalid"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	require.NoError(t, r.LoadFromFile(path))

	custom, err := r.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, []string{"--acp"}, custom.Args)

	// File entries override defaults with the same id.
	claude, err := r.Get("claude-code")
	require.NoError(t, err)
	assert.Equal(t, "claude-code-acp", claude.Command)
}

func TestRegistry_ListOnlyEnabled(t *testing.T) {
	r := NewRegistry(testLogger(t))

	require.NoError(t, r.Register(&AgentConfig{ID: "disabled", Command: "x", Enabled: false}))

	for _, config := range r.List() {
		assert.NotEqual(t, "disabled", config.ID)
	}
}

func TestAgentConfig_WithEnv(t *testing.T) {
	config := &AgentConfig{
		ID:      "custom",
		Command: "agent",
		Env:     map[string]string{"A": "1", "B": "2"},
	}

	merged := config.WithEnv(map[string]string{"B": "override", "C": "3"})
	assert.Equal(t, "1", merged.Env["A"])
	assert.Equal(t, "override", merged.Env["B"])
	assert.Equal(t, "3", merged.Env["C"])

	// Original untouched.
	assert.Equal(t, "2", config.Env["B"])
}
