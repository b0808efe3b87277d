package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qudata/gminer-agent/internal/domain"
)

const sampleConfig = `
agent:
  port: 9090
  secret: "agent-secret"
  log_dir: "/tmp/gminer-logs"
fleet:
  url: "https://fleet.example/v1"
  api_key: "ak-123"
  report_interval: 10s
miner:
  work_dir: "/opt/gminer"
  extra_params: "--watchdog 0"
  env: ["GPU_FORCE_64BIT_PTR=1", "CUDA_DEVICE_ORDER=PCI_BUS_ID"]
  username: "payout.rig1"
  algorithm: "ZHash"
  location: "us"
  devices: ["GPU-b", "GPU-a"]
ports: "4000-4010"
devices:
  - id: "GPU-a"
    class: "cuda"
    index: 0
  - id: "GPU-b"
    class: "cuda"
    index: 1
stratum:
  endpoints:
    zhash: "{location}.equihash.example:3333"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Agent.Port)
	assert.Equal(t, "agent-secret", cfg.Agent.Secret)
	assert.Equal(t, 10*time.Second, cfg.Fleet.ReportInterval)
	assert.Equal(t, "ZHash", cfg.Miner.Algorithm)
	assert.Equal(t, []string{"GPU-b", "GPU-a"}, cfg.Miner.Devices)
	env, err := cfg.Miner.Environment()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"GPU_FORCE_64BIT_PTR": "1",
		"CUDA_DEVICE_ORDER":   "PCI_BUS_ID",
	}, env)
	assert.Equal(t, "4000-4010", cfg.Ports)
	assert.Equal(t, "{location}.equihash.example:3333", cfg.Stratum.Endpoints["zhash"])

	require.Len(t, cfg.Devices, 2)
	assert.Equal(t, domain.DeviceID("GPU-b"), cfg.Devices[1].DeviceID)
	assert.Equal(t, 1, cfg.Devices[1].Index)

	// Defaults survive when the file omits a key.
	assert.Equal(t, "demo.benchmark", cfg.Miner.BenchmarkUser)
	assert.Equal(t, 5*time.Second, cfg.Miner.TelemetryTimeout)
	assert.Equal(t, "/var/lib/gminer-agent", cfg.Agent.DataDir)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("GMINER_MINER_USERNAME", "override.rig")
	t.Setenv("GMINER_AGENT_DEBUG", "true")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "override.rig", cfg.Miner.Username)
	assert.True(t, cfg.Agent.Debug)
}

func TestLoadFromEnvOnly(t *testing.T) {
	// Equivalent of t.Chdir (Go 1.24+) for the local Go 1.21 toolchain.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("GMINER_MINER_ALGORITHM", "beam")
	t.Setenv("GMINER_MINER_DEVICES", "gpu-a gpu-b")
	t.Setenv("GMINER_MINER_ENV", "CUDA_DEVICE_ORDER=PCI_BUS_ID")
	t.Setenv("GMINER_STRATUM_ENDPOINTS_BEAM", "beam.{location}.example:3370")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "beam", cfg.Miner.Algorithm)
	assert.Equal(t, []string{"gpu-a", "gpu-b"}, cfg.Miner.Devices)
	assert.Equal(t, []string{"CUDA_DEVICE_ORDER=PCI_BUS_ID"}, cfg.Miner.Env)
	assert.Equal(t, map[string]string{"beam": "beam.{location}.example:3370"}, cfg.Stratum.Endpoints)
	assert.Empty(t, cfg.Devices)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config file")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Fleet: FleetConfig{ReportInterval: time.Second},
			Miner: MinerConfig{Algorithm: "beam", Devices: []string{"A"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid standalone", func(c *Config) {}, ""},
		{"missing algorithm", func(c *Config) { c.Miner.Algorithm = "" }, "miner.algorithm"},
		{"no devices", func(c *Config) { c.Miner.Devices = nil }, "miner.devices"},
		{"bad port", func(c *Config) { c.Agent.Port = 70000 }, "agent.port"},
		{"fleet without key", func(c *Config) { c.Fleet.URL = "http://fleet" }, "fleet.api_key is required"},
		{"fleet bad key", func(c *Config) {
			c.Fleet.URL = "http://fleet"
			c.Fleet.APIKey = "xyz"
		}, "must start with 'ak-'"},
		{"zero interval", func(c *Config) { c.Fleet.ReportInterval = 0 }, "report_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestAssignment(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	a, err := cfg.Assignment()
	require.NoError(t, err)
	assert.Equal(t, domain.AlgorithmZHash, a.Algorithm())
	require.Len(t, a.Devices(), 2)
	assert.Equal(t, domain.DeviceID("GPU-b"), a.Devices()[0].ID)
	assert.Equal(t, domain.ClassCUDA, a.Devices()[0].Class)

	cfg.Miner.Devices = append(cfg.Miner.Devices, "GPU-z")
	_, err = cfg.Assignment()
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}

func TestEnvironmentRejectsMalformedEntry(t *testing.T) {
	_, err := MinerConfig{Env: []string{"NOEQUALS"}}.Environment()
	assert.ErrorContains(t, err, "KEY=VALUE")
}

func TestNewLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(&Config{Agent: AgentConfig{LogDir: dir}}, "agent")
	require.NoError(t, err)

	logger.Info("hello", "k", "v")

	data, err := os.ReadFile(filepath.Join(dir, "agent.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
