package httpengine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvedPortFallsBackTo8080OnInvalid(t *testing.T) {
	assert.Equal(t, "8080", ListenerConfig{Port: ""}.resolvedPort())
	assert.Equal(t, "8080", ListenerConfig{Port: "banana"}.resolvedPort())
	assert.Equal(t, "0", ListenerConfig{Port: "0"}.resolvedPort())
	assert.Equal(t, "9999", ListenerConfig{Port: "9999"}.resolvedPort())
}

func TestApplyEnvironmentOverridesFillsOnlyEmptyPorts(t *testing.T) {
	t.Setenv("PORT", "4242")
	cfg := EngineConfig{Listeners: []ListenerConfig{{Port: ""}, {Port: "5000"}}}
	applyEnvironmentOverrides(&cfg)
	assert.Equal(t, "4242", cfg.Listeners[0].Port)
	assert.Equal(t, "5000", cfg.Listeners[1].Port)
}

func TestApplyEnvironmentOverridesIgnoresNonNumericPort(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	cfg := EngineConfig{Listeners: []ListenerConfig{{Port: ""}}}
	applyEnvironmentOverrides(&cfg)
	assert.Equal(t, "", cfg.Listeners[0].Port)
}

func TestLoadConfigFileTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	content := `path_prefix = "/wiki"
debug = true

[[listeners]]
scheme = "http"
port = "9090"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/wiki", cfg.PathPrefix)
	assert.True(t, cfg.Debug)
	require.Len(t, cfg.Listeners, 1)
	assert.Equal(t, "9090", cfg.Listeners[0].Port)
}

func TestLoadConfigFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	content := "path_prefix: /wiki\nlisteners:\n  - scheme: http\n    port: \"9091\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/wiki", cfg.PathPrefix)
	require.Len(t, cfg.Listeners, 1)
	assert.Equal(t, "9091", cfg.Listeners[0].Port)
}

func TestLoadConfigFileUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.ini")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := LoadConfigFile(path)
	assert.Error(t, err)
}

func TestDefaultEngineConfigSingleHTTPListener(t *testing.T) {
	cfg := DefaultEngineConfig()
	require.Len(t, cfg.Listeners, 1)
	assert.Equal(t, SchemeHTTP, cfg.Listeners[0].Scheme)
}
