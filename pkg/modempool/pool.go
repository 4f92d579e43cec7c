// Package modempool implements the modem pool (C4, §4.4): a refreshed
// {interface -> ModemRecord} map, a quality-score function, pluggable
// selection modes, and the select_modem critical path with VPN
// pre/post-check and rollback. Grounded on
// app/services/modem_pool.py's ModemPool, translated onto
// github.com/aeroward/skylink/pkg/providers.ModemProvider instances and
// github.com/avast/retry-go/v4 for the bounded VPN-recovery wait the
// way app/services/hilink_service.py retries modem HTTP calls.
package modempool

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/aeroward/skylink/pkg/bus"
	"github.com/aeroward/skylink/pkg/config"
	"github.com/aeroward/skylink/pkg/latency"
	"github.com/aeroward/skylink/pkg/providers"
	"github.com/aeroward/skylink/pkg/shellcmd"
	"github.com/aeroward/skylink/pkg/types"
)

// VPNHealth is the "VPN health collaborator" §4.4 step 3/5 refers to.
// It is satisfied by pkg/providers/vpn.Tailscale without this package
// importing that concrete type.
type VPNHealth interface {
	Connected(ctx context.Context) (bool, error)
}

// Pool owns the {interface -> ModemRecord} map and drives selection.
type Pool struct {
	cfg      config.ModemPoolConfig
	registry *providers.Registry
	latency  *latency.Monitor
	vpn      VPNHealth
	runner   shellcmd.Runner
	bus      *bus.Bus

	mu           sync.Mutex
	records      map[string]types.ModemRecord
	activeIface  string
	roundRobinAt int

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Pool. b may be nil, in which case pool status is not
// broadcast.
func New(cfg config.ModemPoolConfig, registry *providers.Registry, lat *latency.Monitor, vpn VPNHealth, runner shellcmd.Runner, b *bus.Bus) *Pool {
	return &Pool{
		cfg:      cfg,
		registry: registry,
		latency:  lat,
		vpn:      vpn,
		runner:   runner,
		bus:      b,
		records:  make(map[string]types.ModemRecord),
	}
}

// publish broadcasts the current pool snapshot on SubjectModemPoolStatus.
func (p *Pool) publish() {
	if p.bus != nil {
		p.bus.Publish(bus.SubjectModemPoolStatus, p.Records())
	}
}

// Start launches the periodic refresh loop.
func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.Refresh(runCtx)
				p.reevaluate(runCtx)
			}
		}
	}()
}

func (p *Pool) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// Records returns a snapshot of the pool map.
func (p *Pool) Records() map[string]types.ModemRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]types.ModemRecord, len(p.records))
	for k, v := range p.records {
		out[k] = v
	}
	return out
}

// ActiveInterface returns the currently active interface name, guarded
// by the same lock SelectModem writes it under so concurrent readers
// (status snapshots, watchActiveInterface, reevaluate) never observe a
// torn value.
func (p *Pool) ActiveInterface() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeIface
}

// Refresh collects present interfaces, connectivity, signal metrics,
// and a per-modem latency snapshot from every registered ModemProvider
// (§4.4 "Refresh collects").
func (p *Pool) Refresh(ctx context.Context) {
	fresh := make(map[string]types.ModemRecord)
	activeIface := p.ActiveInterface()

	for _, id := range p.registry.ListModems() {
		prov, err := p.registry.GetModem(id)
		if err != nil || !prov.IsAvailable(ctx) {
			continue
		}
		recs, err := prov.Records(ctx)
		if err != nil {
			log.Warn().Err(err).Str("provider", id).Msg("modempool: refresh failed for provider")
			continue
		}
		for _, rec := range recs {
			if p.latency != nil {
				stats := p.latency.TestInterfaceLatency(ctx, rec.InterfaceName, 1)
				rec.Latency = &types.InterfaceLatencyMetrics{
					AvgRTTMs: stats.Mean, JitterMs: stats.JitterMs, P95Ms: stats.P95Ms,
					LossPct: stats.LossPct, SampleSize: stats.SampleSize,
				}
			}
			rec.QualityScore = QualityScore(rec)
			rec.LastUpdate = time.Now()
			rec.IsActive = activeIface == rec.InterfaceName
			fresh[rec.InterfaceName] = rec
		}
	}

	p.mu.Lock()
	p.records = fresh
	p.mu.Unlock()

	p.publish()
}

// QualityScore combines normalised SINR, RSRQ, inverse jitter, and
// inverse loss into a single [0,100] scalar. Each term is clamped to
// [0,1] before weighting so the function stays monotone in each input
// (§4.4 "the function must be monotone in each input").
func QualityScore(rec types.ModemRecord) float64 {
	const (
		wSINR   = 0.35
		wRSRQ   = 0.25
		wJitter = 0.20
		wLoss   = 0.20
	)

	sinrTerm := 0.5 // neutral when unknown
	if rec.Signal != nil && rec.Signal.SINR != nil {
		sinrTerm = clamp01((*rec.Signal.SINR + 10) / 40) // -10..30 dB -> 0..1
	}
	rsrqTerm := 0.5
	if rec.Signal != nil && rec.Signal.RSRQ != nil {
		rsrqTerm = clamp01((*rec.Signal.RSRQ + 20) / 17) // -20..-3 dB -> 0..1
	}
	jitterTerm := 0.5
	lossTerm := 0.5
	if rec.Latency != nil {
		jitterTerm = clamp01(1 - rec.Latency.JitterMs/100)
		lossTerm = clamp01(1 - rec.Latency.LossPct/100)
	}

	score := wSINR*sinrTerm + wRSRQ*rsrqTerm + wJitter*jitterTerm + wLoss*lossTerm
	return clamp01(score) * 100
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// reevaluate is the auto-selection half of the refresh tick: on every
// refresh it recomputes the best candidate per the configured mode and
// triggers a switch if that candidate beats the active modem by the
// anti-flap margin (§4.4 "Selection modes").
func (p *Pool) reevaluate(ctx context.Context) {
	if p.cfg.SelectionMode == string(types.SelectionManual) {
		return
	}

	records := p.Records()
	if len(records) == 0 {
		return
	}

	best := p.pickBest(records, types.SelectionMode(p.cfg.SelectionMode))
	if best == "" {
		return
	}

	activeIface := p.ActiveInterface()
	active, hasActive := records[activeIface]
	if !hasActive {
		_ = p.SelectModem(ctx, best, types.ReasonAuto)
		return
	}
	if best == activeIface {
		return
	}
	if records[best].QualityScore > active.QualityScore+p.cfg.AntiFlapMargin {
		_ = p.SelectModem(ctx, best, types.ReasonAuto)
	}
}

func (p *Pool) pickBest(records map[string]types.ModemRecord, mode types.SelectionMode) string {
	var candidates []types.ModemRecord
	for _, r := range records {
		if r.IsConnected {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return ""
	}

	switch mode {
	case types.SelectionBestSINR:
		sort.Slice(candidates, func(i, j int) bool {
			return sinrOf(candidates[i]) > sinrOf(candidates[j])
		})
	case types.SelectionBestLatency:
		sort.Slice(candidates, func(i, j int) bool {
			return latencyOf(candidates[i]) < latencyOf(candidates[j])
		})
	case types.SelectionRoundRobin:
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].InterfaceName < candidates[j].InterfaceName })
		idx := p.roundRobinAt % len(candidates)
		p.roundRobinAt++
		return candidates[idx].InterfaceName
	default: // best_score
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].QualityScore > candidates[j].QualityScore
		})
	}
	return candidates[0].InterfaceName
}

func sinrOf(r types.ModemRecord) float64 {
	if r.Signal != nil && r.Signal.SINR != nil {
		return *r.Signal.SINR
	}
	return math.Inf(-1)
}

func latencyOf(r types.ModemRecord) float64 {
	if r.Latency != nil {
		return r.Latency.AvgRTTMs
	}
	return math.Inf(1)
}

// SelectModem is the §4.4 critical path.
func (p *Pool) SelectModem(ctx context.Context, target string, reason types.SwitchReason) error {
	p.mu.Lock()
	rec, ok := p.records[target]
	previous := p.activeIface
	p.mu.Unlock()
	if !ok || !rec.IsConnected {
		return types.StateInvariantViolationError{Operation: "select_modem", Reason: "target unknown or disconnected", Allowed: target}
	}

	if target == previous {
		return nil
	}

	if p.cfg.VPNPreCheckEnabled && p.vpn != nil {
		if healthy, err := p.vpn.Connected(ctx); err != nil || !healthy {
			log.Warn().Str("target", target).Msg("modempool: VPN pre-check unhealthy, proceeding with switch anyway (warning only)")
		}
	}

	if err := p.applyRouting(ctx, rec, previous); err != nil {
		return fmt.Errorf("modempool: apply routing: %w", err)
	}

	if p.vpn != nil {
		if !p.awaitVPNRecovery(ctx) {
			return p.rollbackToModem(ctx, previous, target)
		}
	}

	p.mu.Lock()
	for k, r := range p.records {
		r.IsActive = k == target
		p.records[k] = r
	}
	p.activeIface = target
	p.mu.Unlock()

	log.Info().Str("target", target).Str("reason", string(reason)).Msg("modempool: switched active modem")
	p.publish()
	return nil
}

// applyRouting makes target's interface the default egress, lowering
// its route metric and raising the previous default's, while leaving
// VPN fwmark rules untouched (they are owned by pkg/netopt).
func (p *Pool) applyRouting(ctx context.Context, target types.ModemRecord, previousIface string) error {
	const (
		activeMetric   = 50
		inactiveMetric = 500
	)
	if target.Gateway != "" {
		res := p.runner.Run(ctx, 5*time.Second, "ip", "route", "replace", "default", "via", target.Gateway, "dev", target.InterfaceName, "metric", strconv.Itoa(activeMetric))
		if !res.Succeeded() {
			return fmt.Errorf("set default route via %s: %s", target.InterfaceName, res.Stderr)
		}
	}
	if previousIface != "" && previousIface != target.InterfaceName {
		p.runner.Run(ctx, 5*time.Second, "ip", "route", "replace", "default", "dev", previousIface, "metric", strconv.Itoa(inactiveMetric))
	}
	return nil
}

// awaitVPNRecovery polls VPN health with bounded retry (default timeout
// from ModemPoolConfig.VPNPostCheckTimeout, §4.4 step 5).
func (p *Pool) awaitVPNRecovery(ctx context.Context) bool {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.cfg.VPNPostCheckTimeout)
	defer cancel()

	err := retry.Do(
		func() error {
			ok, err := p.vpn.Connected(timeoutCtx)
			if err != nil || !ok {
				return fmt.Errorf("vpn not yet recovered")
			}
			return nil
		},
		retry.Context(timeoutCtx),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
	)
	return err == nil
}

// rollbackToModem reverts the routing applied toward failedTarget back
// to previous and reports the switch as failed: active_modem was never
// advanced past previous (SelectModem only assigns p.activeIface on the
// success path), so there is no state to roll "forward" through
// SelectModem itself — re-applying routing directly is both necessary
// and sufficient (§4.4 step 5 "Return failure").
func (p *Pool) rollbackToModem(ctx context.Context, previous, failedTarget string) error {
	if previous == "" {
		return types.StateInvariantViolationError{Operation: "select_modem", Reason: "rollback with no previous modem", Allowed: failedTarget}
	}

	p.mu.Lock()
	prevRec, ok := p.records[previous]
	p.mu.Unlock()
	if ok {
		if err := p.applyRouting(ctx, prevRec, failedTarget); err != nil {
			log.Warn().Err(err).Str("previous", previous).Str("reason", string(types.ReasonRollback)).Msg("modempool: rollback routing failed")
		}
	}

	log.Warn().Str("target", failedTarget).Str("previous", previous).Str("reason", string(types.ReasonRollback)).Msg("modempool: VPN did not recover post-switch, rolled back")
	return fmt.Errorf("modempool: switch to %s failed, VPN did not recover post-switch (rolled back to %s)", failedTarget, previous)
}
