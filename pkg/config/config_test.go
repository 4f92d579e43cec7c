package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load[LatencyConfig]("SKYLINK_TEST_LATENCY")
	require.NoError(t, err)
	assert.Equal(t, []string{"8.8.8.8", "1.1.1.1", "9.9.9.9"}, cfg.Targets)
	assert.Equal(t, 2*time.Second, cfg.Interval)
	assert.Equal(t, 30, cfg.HistorySize)
}

func TestOptimizerDefaults(t *testing.T) {
	cfg, err := Load[OptimizerConfig]("SKYLINK_TEST_OPT")
	require.NoError(t, err)
	assert.Equal(t, 1420, cfg.MTU)
	assert.Equal(t, "bbr", cfg.TCPCongestion)
	assert.Equal(t, 26214400, cfg.RmemMaxBytes)
	assert.Equal(t, 41641, cfg.TailscalePort)
	assert.Equal(t, 51820, cfg.WireGuardPort)
}

func TestFailoverConfigUpdatePartial(t *testing.T) {
	cfg, err := Load[FailoverConfig]("SKYLINK_TEST_FAILOVER")
	require.NoError(t, err)

	err = cfg.UpdateConfig(map[string]any{"latency_threshold_ms": 250.0})
	require.NoError(t, err)
	assert.Equal(t, 250.0, cfg.LatencyThresholdMs)
	// Untouched fields keep their defaults.
	assert.Equal(t, 15, cfg.LatencyCheckWindow)
}

func TestFailoverConfigUpdateRejectsUnknown(t *testing.T) {
	cfg, err := Load[FailoverConfig]("SKYLINK_TEST_FAILOVER2")
	require.NoError(t, err)

	err = cfg.UpdateConfig(map[string]any{"bogus_field": 1})
	assert.Error(t, err)
}

func TestFailoverConfigUpdateRejectsBadPreferredMode(t *testing.T) {
	cfg, err := Load[FailoverConfig]("SKYLINK_TEST_FAILOVER3")
	require.NoError(t, err)

	err = cfg.UpdateConfig(map[string]any{"preferred_mode": "ethernet"})
	assert.Error(t, err)
}

func TestLoadFileWithMissingPathKeepsDefaults(t *testing.T) {
	cfg, err := LoadFile[OptimizerConfig]("SKYLINK_TEST_OPT_NOFILE", filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1420, cfg.MTU)
}

func TestLoadFileOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mtu: 1280\ntcpcongestion: cubic\n"), 0o644))

	cfg, err := LoadFile[OptimizerConfig]("SKYLINK_TEST_OPT_FILE", path)
	require.NoError(t, err)
	assert.Equal(t, 1280, cfg.MTU)
	assert.Equal(t, "cubic", cfg.TCPCongestion)
	// Fields absent from the overlay keep their envconfig defaults.
	assert.Equal(t, 41641, cfg.TailscalePort)
}
