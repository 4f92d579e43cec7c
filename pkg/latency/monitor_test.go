package latency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeroward/skylink/pkg/config"
	"github.com/aeroward/skylink/pkg/shellcmd"
	"github.com/aeroward/skylink/pkg/types"
)

func testConfig() config.LatencyConfig {
	return config.LatencyConfig{
		Targets:      []string{"8.8.8.8"},
		Interval:     10 * time.Millisecond,
		HistorySize:  5,
		ProbeTimeout: time.Second,
		ProbeGrace:   500 * time.Millisecond,
	}
}

func newFakeRunnerWithLoopbackOK() *shellcmd.Fake {
	fake := shellcmd.NewFake()
	fake.On(shellcmd.Result{ExitCode: 0, Stdout: "time=1.00 ms"}, "ping", "-c", "1", "-W", "1", "127.0.0.1")
	return fake
}

func TestProbeOneParsesRTT(t *testing.T) {
	fake := newFakeRunnerWithLoopbackOK()
	fake.On(shellcmd.Result{ExitCode: 0, Stdout: "64 bytes from 8.8.8.8: icmp_seq=1 ttl=118 time=12.3 ms"}, "ping", "-c", "1", "-W", "1", "8.8.8.8")

	m := New(testConfig(), fake, nil)
	s := m.probeOne(context.Background(), "8.8.8.8", nil)

	require.True(t, s.Success)
	assert.InDelta(t, 12.3, s.RTTMs, 0.001)
}

func TestProbeOneFailureYieldsUnsuccessfulSample(t *testing.T) {
	fake := newFakeRunnerWithLoopbackOK()
	fake.On(shellcmd.Result{ExitCode: 1, Stderr: "Destination Host Unreachable"}, "ping", "-c", "1", "-W", "1", "8.8.8.8")

	m := New(testConfig(), fake, nil)
	s := m.probeOne(context.Background(), "8.8.8.8", nil)
	assert.False(t, s.Success)
}

func TestDetectPingPrefixFallsBackToSudoOnPermissionError(t *testing.T) {
	fake := shellcmd.NewFake()
	fake.On(shellcmd.Result{ExitCode: 2, Stderr: "ping: socket: Operation not permitted"}, "ping", "-c", "1", "-W", "1", "127.0.0.1")

	m := New(testConfig(), fake, nil)
	prefix := m.detectPingPrefix(context.Background())
	assert.Equal(t, []string{"sudo"}, prefix)
}

func TestStatsComputesMeanJitterP95Loss(t *testing.T) {
	buf := []types.LatencySample{
		{Success: true, HasRTT: true, RTTMs: 10},
		{Success: true, HasRTT: true, RTTMs: 20},
		{Success: true, HasRTT: true, RTTMs: 30},
		{Success: false},
	}
	stats := computeStats("t", "", buf)

	assert.Equal(t, 4, stats.SampleSize)
	assert.Equal(t, 3, stats.Successes)
	assert.InDelta(t, 20.0, stats.Mean, 0.001)
	assert.InDelta(t, 10.0, stats.Min, 0.001)
	assert.InDelta(t, 30.0, stats.Max, 0.001)
	assert.InDelta(t, 25.0, stats.LossPct, 0.001)
	assert.Greater(t, stats.JitterMs, 0.0)
}

func TestStatsAllFailuresReportsFullLoss(t *testing.T) {
	buf := []types.LatencySample{{Success: false}, {Success: false}}
	stats := computeStats("t", "", buf)
	assert.Equal(t, 100.0, stats.LossPct)
	assert.Equal(t, 0.0, stats.Mean)
}

func TestHistoryRingBufferTrimsToConfiguredSize(t *testing.T) {
	fake := newFakeRunnerWithLoopbackOK()
	fake.OnPrefix("ping -c 1 -W 1 8.8.8.8", shellcmd.Result{ExitCode: 0, Stdout: "time=5 ms"})

	cfg := testConfig()
	cfg.HistorySize = 2
	m := New(cfg, fake, nil)

	for i := 0; i < 5; i++ {
		m.tick(context.Background())
	}

	stats, ok := m.Stats("8.8.8.8")
	require.True(t, ok)
	assert.Equal(t, 2, stats.SampleSize)
}
