package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetKoanf creates a fresh koanf instance for each test.
func resetKoanf() {
	k = koanf.New(".")
}

func TestConfigFileLoading(t *testing.T) {
	resetKoanf()

	dir := t.TempDir()
	configPath := filepath.Join(dir, ".stylesync.yaml")
	configContent := `
dev-server: http://localhost:5173
verbose: true
loop-guard-ttl: 5s

chrome:
  host: 127.0.0.1
  port: 9333

mappings:
  - "/ui/=web/ui"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))
	require.NoError(t, loadConfigFromPath(configPath))

	assert.Equal(t, "http://localhost:5173", k.String("dev-server"))
	assert.True(t, k.Bool("verbose"))
	assert.Equal(t, "127.0.0.1", k.String("chrome.host"))
	assert.Equal(t, 9333, k.Int("chrome.port"))
	assert.Equal(t, 5*time.Second, k.Duration("loop-guard-ttl"))
	assert.Equal(t, []string{"/ui/=web/ui"}, k.Strings("mappings"))
}

func TestConfigFileNotFound_UsesDefaults(t *testing.T) {
	resetKoanf()

	// Point to non-existent config — should not error
	require.NoError(t, loadConfigFromPath("/nonexistent/.stylesync.yaml"))

	cfg, err := buildAgentConfig([]string{"http://localhost:3000"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000", cfg.DevServerBase)
	assert.Equal(t, "localhost", cfg.ChromeHost)
	assert.Equal(t, 0, cfg.ChromePort)
	assert.Equal(t, 2*time.Second, cfg.LoopGuardTTL)
	assert.False(t, cfg.Verbose)
}

func TestEnvVarOverridesConfigFile(t *testing.T) {
	resetKoanf()

	dir := t.TempDir()
	configPath := filepath.Join(dir, ".stylesync.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("chrome:\n  port: 9222\n"), 0644))

	t.Setenv("STYLESYNC_CHROME_PORT", "9333")
	require.NoError(t, loadConfigFromPath(configPath))

	assert.Equal(t, 9333, k.Int("chrome.port"))
}

func TestBuildAgentConfigRequiresDevServer(t *testing.T) {
	resetKoanf()
	require.NoError(t, loadConfigFromPath("/nonexistent/.stylesync.yaml"))

	_, err := buildAgentConfig(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dev server")
}

func TestBuildAgentConfigRejectsMissingRoot(t *testing.T) {
	resetKoanf()
	require.NoError(t, loadConfigFromPath("/nonexistent/.stylesync.yaml"))
	require.NoError(t, k.Set("project-root", "/definitely/not/a/dir"))

	_, err := buildAgentConfig([]string{"http://localhost:3000"})
	require.Error(t, err)
}

func TestParseMappings(t *testing.T) {
	ms, err := parseMappings([]string{"/assets/=web/assets", "/ui/=web/ui"})
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "/assets/", ms[0].URLPrefix)
	assert.Equal(t, "web/assets", ms[0].LocalPrefix)

	_, err = parseMappings([]string{"no-separator"})
	require.Error(t, err)
}
