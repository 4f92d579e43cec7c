// Package latency implements the latency probe engine (C2, §4.2):
// a target set, probe cadence, bounded-concurrency parallel probing via
// a ring buffer per target, and derived statistics (mean/jitter/P95/
// loss%). Grounded on app/services/latency_monitor.py's LatencyMonitor,
// translated from its asyncio task loop onto a goroutine driven by
// github.com/sourcegraph/conc the way
// github.com/helixml/helix's api/pkg/agent/agent.go fans probes out
// with conc.WaitGroup.
package latency

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/aeroward/skylink/pkg/bus"
	"github.com/aeroward/skylink/pkg/config"
	"github.com/aeroward/skylink/pkg/shellcmd"
	"github.com/aeroward/skylink/pkg/types"
)

var rttRE = regexp.MustCompile(`time[=:](\d+\.?\d*)\s*ms`)

// Monitor owns one ring buffer per configured target and a background
// probe loop.
type Monitor struct {
	cfg    config.LatencyConfig
	runner shellcmd.Runner
	bus    *bus.Bus

	mu      sync.Mutex
	history map[string][]types.LatencySample

	pingPrefixOnce sync.Once
	pingPrefix     []string

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Monitor; it does not start probing until Start is
// called. b may be nil, in which case status snapshots are not
// broadcast.
func New(cfg config.LatencyConfig, runner shellcmd.Runner, b *bus.Bus) *Monitor {
	history := make(map[string][]types.LatencySample, len(cfg.Targets))
	for _, t := range cfg.Targets {
		history[t] = nil
	}
	return &Monitor{cfg: cfg, runner: runner, bus: b, history: history}
}

// Start launches the probe loop. Cancelling ctx or calling Stop ends it.
func (m *Monitor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.tick(runCtx)
			}
		}
	}()
}

// Stop cancels the running task and awaits its termination; in-flight
// probe futures are cancelled and their output discarded (§4.2
// "Cancellation").
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// tick issues one probe per target in parallel, bounded concurrency
// equal to |targets| (§4.2).
func (m *Monitor) tick(ctx context.Context) {
	m.ProbeOnce(ctx)
}

// ProbeOnce runs a single probe-all-targets cycle and updates history and
// the published status snapshot. Start's tick loop calls this on every
// interval; callers that need a single synchronous reading (e.g. the
// `status` CLI subcommand) can call it directly without starting the loop.
func (m *Monitor) ProbeOnce(ctx context.Context) {
	samples := m.probeAllTargets(ctx, nil)
	m.mu.Lock()
	for _, s := range samples {
		m.append(s.Target, s)
	}
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(bus.SubjectLatencyStatus, m.AllStats())
	}
}

func (m *Monitor) probeAllTargets(ctx context.Context, iface *string) []types.LatencySample {
	var wg conc.WaitGroup
	results := make([]types.LatencySample, len(m.cfg.Targets))
	for i, target := range m.cfg.Targets {
		i, target := i, target
		wg.Go(func() {
			results[i] = m.probeOne(ctx, target, iface)
		})
	}
	wg.Wait()
	return results
}

func (m *Monitor) append(target string, s types.LatencySample) {
	buf := m.history[target]
	buf = append(buf, s)
	if len(buf) > m.cfg.HistorySize {
		buf = buf[len(buf)-m.cfg.HistorySize:]
	}
	m.history[target] = buf
}

func (m *Monitor) probeOne(ctx context.Context, target string, iface *string) types.LatencySample {
	prefix := m.detectPingPrefix(ctx)

	args := append([]string{}, prefix...)
	args = append(args, "ping", "-c", "1", "-W", strconv.Itoa(int(m.cfg.ProbeTimeout.Seconds())))
	if iface != nil {
		args = append(args, "-I", *iface)
	}
	args = append(args, target)

	timeout := m.cfg.ProbeTimeout + m.cfg.ProbeGrace
	res := m.runner.Run(ctx, timeout, args[0], args[1:]...)

	sample := types.LatencySample{Target: target, Timestamp: time.Now()}
	if iface != nil {
		sample.Interface = *iface
	}
	if res.Succeeded() {
		if m := rttRE.FindStringSubmatch(res.Stdout); m != nil {
			if rtt, err := strconv.ParseFloat(m[1], 64); err == nil {
				sample.RTTMs = rtt
				sample.HasRTT = true
				sample.Success = true
			}
		}
	}
	return sample
}

// detectPingPrefix runs exactly once per process: shell the probe
// binary once against loopback, and if it fails with a privilege
// error, cache an elevation wrapper (e.g. "sudo") and reuse it for all
// subsequent probes (§4.2 "Tolerant probe executable discovery").
func (m *Monitor) detectPingPrefix(ctx context.Context) []string {
	m.pingPrefixOnce.Do(func() {
		res := m.runner.Run(ctx, 3*time.Second, "ping", "-c", "1", "-W", "1", "127.0.0.1")
		if res.Succeeded() {
			m.pingPrefix = nil
			return
		}
		if containsAny(res.Stderr, "permitted", "capability", "setuid") {
			log.Warn().Msg("latency: ping lacks cap_net_raw, falling back to sudo ping")
			m.pingPrefix = []string{"sudo"}
			return
		}
		m.pingPrefix = nil
	})
	return m.pingPrefix
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Stats computes derived statistics for target from its ring buffer
// (§4.2 "Derived statistics").
func (m *Monitor) Stats(target string) (types.LatencyStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.history[target]
	if !ok {
		return types.LatencyStats{}, false
	}
	return computeStats(target, "", buf), true
}

// AllStats returns Stats for every configured target.
func (m *Monitor) AllStats() map[string]types.LatencyStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]types.LatencyStats, len(m.history))
	for target, buf := range m.history {
		out[target] = computeStats(target, "", buf)
	}
	return out
}

func computeStats(target, iface string, buf []types.LatencySample) types.LatencyStats {
	n := len(buf)
	stats := types.LatencyStats{Target: target, Interface: iface, SampleSize: n}
	if n == 0 {
		return stats
	}

	var successRTTs []float64
	successes := 0
	for _, s := range buf {
		if s.Success && s.HasRTT {
			successRTTs = append(successRTTs, s.RTTMs)
			successes++
		}
	}
	stats.Successes = successes
	stats.LossPct = (1 - float64(successes)/float64(n)) * 100

	if successes == 0 {
		return stats
	}

	sum := 0.0
	min, max := successRTTs[0], successRTTs[0]
	for _, v := range successRTTs {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(successes)

	variance := 0.0
	for _, v := range successRTTs {
		d := v - mean
		variance += d * d
	}
	variance /= float64(successes)

	sorted := append([]float64(nil), successRTTs...)
	sort.Float64s(sorted)
	p95Idx := int(float64(len(sorted)) * 0.95)
	if p95Idx >= len(sorted) {
		p95Idx = len(sorted) - 1
	}

	stats.Mean = mean
	stats.Min = min
	stats.Max = max
	stats.Variance = variance
	stats.JitterMs = math.Sqrt(variance)
	stats.P95Ms = sorted[p95Idx]
	return stats
}

// TestInterfaceLatency issues count sequential probes per target bound
// to iface, yielding an interface-level aggregate without polluting the
// long-running history (§4.2 one-shot test_interface_latency).
func (m *Monitor) TestInterfaceLatency(ctx context.Context, iface string, count int) types.LatencyStats {
	if count <= 0 {
		count = 3
	}
	var all []types.LatencySample
	for i := 0; i < count; i++ {
		all = append(all, m.probeAllTargets(ctx, &iface)...)
	}
	return computeStats("aggregate", iface, all)
}
