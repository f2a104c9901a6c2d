package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a2aengine-config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load(WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")))
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Narrator.IntervalMs)
	assert.Equal(t, 5, cfg.Narrator.RecentWindow)
	assert.Equal(t, 50, cfg.Narrator.MaxChars)
	assert.False(t, cfg.Routing.AlwaysTask)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadParsesFileAndCapabilities(t *testing.T) {
	path := writeConfigFile(t, `
model:
  provider: anthropic
  id: claude-sonnet
  parameters:
    temperature: 0.2
narrator:
  intervalMs: 2000
  recentWindow: 3
  maxChars: 40
routing:
  alwaysTask: true
capabilities:
  - kind: prebuilt
    name: exec
  - kind: mcp
    name: files
    url: http://localhost:9001
    transport: http
    headers:
      Authorization: "Bearer token"
  - kind: a2a
    name: peer
    url: http://localhost:9002
`)

	cfg, err := Load(WithConfigFile(path))
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, "claude-sonnet", cfg.Model.ID)
	assert.Equal(t, 0.2, cfg.Model.Parameters["temperature"])
	assert.Equal(t, 2000, cfg.Narrator.IntervalMs)
	assert.True(t, cfg.Routing.AlwaysTask)
	require.Len(t, cfg.Capabilities, 3)
	assert.Equal(t, CapabilityPrebuilt, cfg.Capabilities[0].Kind)
	assert.Equal(t, CapabilityMCP, cfg.Capabilities[1].Kind)
	assert.Equal(t, "Bearer token", cfg.Capabilities[1].Headers["Authorization"])
	assert.Equal(t, CapabilityA2A, cfg.Capabilities[2].Kind)
}

func TestLoadParsesTelemetry(t *testing.T) {
	path := writeConfigFile(t, `
telemetry:
  otlpEndpoint: collector.internal:4318
`)
	cfg, err := Load(WithConfigFile(path))
	require.NoError(t, err)
	assert.Equal(t, "collector.internal:4318", cfg.Telemetry.OTLPEndpoint)
}

func TestNarratorIntervalConverts(t *testing.T) {
	cfg := Config{Narrator: NarratorConfig{IntervalMs: 1500}}
	assert.Equal(t, int64(1500), cfg.NarratorInterval().Milliseconds())
}

func TestLoadMergesCapabilitiesFile(t *testing.T) {
	t.Setenv("A2AENGINE_TEST_TOKEN", "secret-token")
	capsPath := filepath.Join(t.TempDir(), "capabilities.yaml")
	require.NoError(t, os.WriteFile(capsPath, []byte(`
capabilities:
  - kind: mcp
    name: remote
    url: http://localhost:9003
    headers:
      Authorization: "Bearer ${A2AENGINE_TEST_TOKEN}"
`), 0o644))

	mainPath := writeConfigFile(t, fmt.Sprintf(`
capabilitiesFile: %s
capabilities:
  - kind: prebuilt
    name: exec
`, capsPath))

	cfg, err := Load(WithConfigFile(mainPath))
	require.NoError(t, err)

	require.Len(t, cfg.Capabilities, 2)
	assert.Equal(t, CapabilityPrebuilt, cfg.Capabilities[0].Kind)
	assert.Equal(t, CapabilityMCP, cfg.Capabilities[1].Kind)
	assert.Equal(t, "Bearer secret-token", cfg.Capabilities[1].Headers["Authorization"])
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeConfigFile(t, "not: [valid: yaml")
	_, err := Load(WithConfigFile(path))
	assert.Error(t, err)
}
