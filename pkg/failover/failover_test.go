package failover

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeroward/skylink/pkg/config"
	"github.com/aeroward/skylink/pkg/types"
)

func testConfig() config.FailoverConfig {
	return config.FailoverConfig{
		LatencyThresholdMs:  200,
		LatencyCheckWindow:  15,
		SwitchCooldown:      30 * time.Second,
		RestoreDelay:        60 * time.Second,
		PreferredMode:       "modem",
		CheckInterval:       2 * time.Second,
		RestoreSafetyMargin: 0.7,
	}
}

func fixedLatency(avg float64, anySuccess bool) LatencySource {
	return func() (float64, bool) { return avg, anySuccess }
}

func countingSwitcher(result bool) (SwitchCallback, *int) {
	calls := 0
	return func(ctx context.Context, target types.FailoverMode) bool {
		calls++
		return result
	}, &calls
}

func TestConnectivityLossSwitchesImmediatelyWithoutHysteresis(t *testing.T) {
	switcher, calls := countingSwitcher(true)
	c := New(testConfig(), fixedLatency(0, false), switcher, nil)
	c.state.CurrentMode = types.ModeModem

	c.Tick(context.Background())

	assert.Equal(t, 1, *calls)
	assert.Equal(t, types.ModeWiFi, c.State().CurrentMode)
}

func TestFourteenBadSamplesThenGoodResetsWithoutSwitch(t *testing.T) {
	cfg := testConfig()
	switcher, calls := countingSwitcher(true)
	c := New(cfg, fixedLatency(0, false), switcher, nil)
	c.state.CurrentMode = types.ModeModem
	c.latency = fixedLatency(300, true)

	for i := 0; i < 14; i++ {
		c.Tick(context.Background())
	}
	assert.Equal(t, 14, c.State().ConsecutiveBadSamples)
	assert.Equal(t, 0, *calls)

	c.latency = fixedLatency(50, true)
	c.Tick(context.Background())

	assert.Equal(t, 0, c.State().ConsecutiveBadSamples)
	assert.Equal(t, 0, *calls)
}

func TestFifteenBadSamplesWithCooldownElapsedSwitchesOnce(t *testing.T) {
	cfg := testConfig()
	cfg.SwitchCooldown = 0
	switcher, calls := countingSwitcher(true)
	c := New(cfg, fixedLatency(300, true), switcher, nil)
	c.state.CurrentMode = types.ModeModem

	for i := 0; i < 15; i++ {
		c.Tick(context.Background())
	}

	assert.Equal(t, 1, *calls)
	assert.Equal(t, 0, c.State().ConsecutiveBadSamples)
	assert.Equal(t, types.ModeWiFi, c.State().CurrentMode)
}

func TestFifteenBadSamplesWithinCooldownDoesNotSwitch(t *testing.T) {
	cfg := testConfig()
	cfg.SwitchCooldown = time.Hour
	switcher, calls := countingSwitcher(true)
	c := New(cfg, fixedLatency(300, true), switcher, nil)
	c.state.CurrentMode = types.ModeModem
	c.state.LastSwitchTS = time.Now()

	for i := 0; i < 15; i++ {
		c.Tick(context.Background())
	}

	assert.Equal(t, 0, *calls)
}

func TestRestoresPreferredModeAfterDelayWithSafetyMargin(t *testing.T) {
	cfg := testConfig()
	cfg.RestoreDelay = 0
	switcher, calls := countingSwitcher(true)
	c := New(cfg, fixedLatency(100, true), switcher, nil)
	c.state.CurrentMode = types.ModeWiFi
	c.state.LastSwitchTS = time.Now().Add(-time.Hour)

	c.Tick(context.Background())

	require.Equal(t, 1, *calls)
	assert.Equal(t, types.ModeModem, c.State().CurrentMode)
}

func TestDoesNotRestoreWhenWithinSafetyMargin(t *testing.T) {
	cfg := testConfig()
	cfg.RestoreDelay = 0
	switcher, calls := countingSwitcher(true)
	c := New(cfg, fixedLatency(180, true), switcher, nil)
	c.state.CurrentMode = types.ModeWiFi
	c.state.LastSwitchTS = time.Now().Add(-time.Hour)

	c.Tick(context.Background())

	assert.Equal(t, 0, *calls)
	assert.Equal(t, types.ModeWiFi, c.State().CurrentMode)
}

func TestFalseSwitcherLeavesCurrentModeUnchanged(t *testing.T) {
	switcher, calls := countingSwitcher(false)
	c := New(testConfig(), fixedLatency(0, false), switcher, nil)
	c.state.CurrentMode = types.ModeModem

	c.Tick(context.Background())

	assert.Equal(t, 1, *calls)
	assert.Equal(t, types.ModeModem, c.State().CurrentMode)
}

func TestAlreadyAtTargetModeSkipsCallback(t *testing.T) {
	switcher, calls := countingSwitcher(true)
	c := New(testConfig(), fixedLatency(0, false), switcher, nil)
	c.state.CurrentMode = types.ModeWiFi

	c.attemptSwitch(context.Background(), types.ModeWiFi, "connectivity_loss")

	assert.Equal(t, 0, *calls)
}
