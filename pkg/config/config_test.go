package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000/api/token", cfg.TokenEndpoint)
	assert.Equal(t, 5, cfg.AgentBands)
	assert.Equal(t, 9, cfg.MicBands)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.StunServers)
}

func TestLoadEnvFileAndOverride(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "cmd")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	env := "LIVEKIT_URL=wss://file.example\nAGENT_BANDS=7\nSTUN_SERVERS=stun:a:3478, stun:b:3478\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte(env), 0o600))
	chdir(t, nested)
	t.Setenv("AGENT_BANDS", "3")

	cfg, err := Load(".env")
	require.NoError(t, err)
	assert.Equal(t, "wss://file.example", cfg.LiveKitURL)
	assert.Equal(t, 3, cfg.AgentBands, "environment wins over file")
	assert.Equal(t, []string{"stun:a:3478", "stun:b:3478"}, cfg.StunServers)

	ice := cfg.ICEServers()
	require.Len(t, ice, 2)
	assert.Equal(t, []string{"stun:a:3478"}, ice[0].URLs)
}

func TestLoadRejectsNonPositiveBands(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MIC_BANDS", "0")

	_, err := Load("")
	assert.ErrorIs(t, err, ErrInvalidBands)
}
