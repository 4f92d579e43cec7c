// Package netopt implements the network optimizer ("Flight Mode", C3,
// §4.3): an idempotent, reversible bundle of interface/transport/QoS/
// AQM/policy-routing settings. Grounded step-for-step on
// app/services/network_optimizer.py's NetworkOptimizer
// (_set_mtu/_optimize_tcp/_configure_qos/_configure_cake and the VPN
// policy-routing block that follows it), translated from ad hoc
// subprocess calls onto the shared shellcmd.Runner abstraction.
package netopt

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/aeroward/skylink/pkg/bus"
	"github.com/aeroward/skylink/pkg/config"
	"github.com/aeroward/skylink/pkg/shellcmd"
	"github.com/aeroward/skylink/pkg/types"
)

// Optimizer owns the interface it most recently optimized and the
// snapshot needed to restore it.
type Optimizer struct {
	cfg    config.OptimizerConfig
	runner shellcmd.Runner
	bus    *bus.Bus

	state types.OptimizerState
}

// New constructs an Optimizer. b may be nil, in which case state
// transitions are not broadcast.
func New(cfg config.OptimizerConfig, runner shellcmd.Runner, b *bus.Bus) *Optimizer {
	return &Optimizer{cfg: cfg, runner: runner, bus: b}
}

// State returns a read-only snapshot (§6 "Snapshots are pure reads").
func (o *Optimizer) State() types.OptimizerState { return o.state }

// Enable snapshots the settings it is about to change on iface, applies
// every step best-effort, and returns a report of what succeeded (§4.3
// "Enable/disable contract"). Enable does not detect the egress
// interface itself: iface is whatever the caller passes in.
//
// gateway is the current modem gateway IP used to populate the VPN
// routing table's default route; it is supplied by the caller (the
// modem pool or failover controller own that knowledge) rather than
// re-derived here.
func (o *Optimizer) Enable(ctx context.Context, iface, gateway string) types.OptimizationReport {
	if o.state.Active {
		log.Warn().Str("interface", o.state.Interface).Msg("netopt: enable called while already active, disabling first")
		o.Disable(ctx)
	}

	o.state.OriginalSettings = o.snapshot(ctx, iface)
	o.state.Interface = iface
	o.state.Active = true

	report := types.OptimizationReport{Interface: iface}
	report.Steps = append(report.Steps, o.setMTU(ctx, iface))
	report.Steps = append(report.Steps, o.disablePowerSave(ctx, iface))
	report.Steps = append(report.Steps, o.tuneTCP(ctx))
	report.Steps = append(report.Steps, o.markDSCP(ctx, true))
	report.Steps = append(report.Steps, o.configureCake(ctx, iface, true))
	report.Steps = append(report.Steps, o.configureVPNRouting(ctx, gateway, true))

	for _, s := range report.Steps {
		if !s.Applied {
			log.Warn().Str("step", s.Name).Str("error", s.Error).Msg("netopt: optimization step failed, continuing (advisory only)")
		}
	}
	o.publish()
	return report
}

// Disable iterates the prior snapshot in reverse and best-effort
// restores each captured value; missing fields are skipped silently.
func (o *Optimizer) Disable(ctx context.Context) types.OptimizationReport {
	iface := o.state.Interface
	report := types.OptimizationReport{Interface: iface}

	report.Steps = append(report.Steps, o.configureVPNRouting(ctx, "", false))
	report.Steps = append(report.Steps, o.configureCake(ctx, iface, false))
	report.Steps = append(report.Steps, o.markDSCP(ctx, false))
	report.Steps = append(report.Steps, o.restoreTCP(ctx))
	report.Steps = append(report.Steps, o.restorePowerSave(ctx, iface))
	report.Steps = append(report.Steps, o.restoreMTU(ctx, iface))

	o.state = types.OptimizerState{}
	o.publish()
	return report
}

func (o *Optimizer) publish() {
	if o.bus != nil {
		o.bus.Publish(bus.SubjectOptimizerStatus, o.state)
	}
}

func (o *Optimizer) snapshot(ctx context.Context, iface string) map[string]string {
	settings := make(map[string]string, 4)

	if res := o.runner.Run(ctx, o.cfg.ShellOutTimeout, "ip", "link", "show", iface); res.Succeeded() {
		if mtu, ok := parseMTU(res.Stdout); ok {
			settings["mtu"] = strconv.Itoa(mtu)
		}
	}
	if res := o.runner.Run(ctx, o.cfg.ShellOutTimeout, "sysctl", "-n", "net.ipv4.tcp_congestion_control"); res.Succeeded() {
		settings["tcp_congestion"] = trimNewline(res.Stdout)
	}
	if res := o.runner.Run(ctx, o.cfg.ShellOutTimeout, "sysctl", "-n", "net.core.rmem_max"); res.Succeeded() {
		settings["rmem_max"] = trimNewline(res.Stdout)
	}
	if res := o.runner.Run(ctx, o.cfg.ShellOutTimeout, "sysctl", "-n", "net.core.wmem_max"); res.Succeeded() {
		settings["wmem_max"] = trimNewline(res.Stdout)
	}
	return settings
}

func (o *Optimizer) setMTU(ctx context.Context, iface string) types.OptimizationStep {
	res := o.runner.Run(ctx, o.cfg.ShellOutTimeout, "ip", "link", "set", iface, "mtu", strconv.Itoa(o.cfg.MTU))
	return stepResult("mtu", res)
}

func (o *Optimizer) restoreMTU(ctx context.Context, iface string) types.OptimizationStep {
	prior, ok := o.state.OriginalSettings["mtu"]
	if !ok || iface == "" {
		return types.OptimizationStep{Name: "mtu_restore", Applied: false, Error: "no prior snapshot"}
	}
	res := o.runner.Run(ctx, o.cfg.ShellOutTimeout, "ip", "link", "set", iface, "mtu", prior)
	return stepResult("mtu_restore", res)
}

func (o *Optimizer) disablePowerSave(ctx context.Context, iface string) types.OptimizationStep {
	o.runner.Run(ctx, o.cfg.ShellOutTimeout, "ethtool", "-s", iface, "wol", "d")
	res := o.runner.Run(ctx, o.cfg.ShellOutTimeout, "ip", "link", "set", iface, "txqueuelen", strconv.Itoa(o.cfg.TXQueueLen))
	return stepResult("power_save", res)
}

func (o *Optimizer) restorePowerSave(ctx context.Context, iface string) types.OptimizationStep {
	if iface == "" {
		return types.OptimizationStep{Name: "power_save_restore", Applied: false, Error: "no interface"}
	}
	res := o.runner.Run(ctx, o.cfg.ShellOutTimeout, "ip", "link", "set", iface, "txqueuelen", "1000")
	return stepResult("power_save_restore", res)
}

func (o *Optimizer) tuneTCP(ctx context.Context) types.OptimizationStep {
	ok := true
	ok = o.sysctlSet(ctx, "net.ipv4.tcp_congestion_control", o.cfg.TCPCongestion) && ok
	ok = o.sysctlSet(ctx, "net.core.rmem_max", strconv.Itoa(o.cfg.RmemMaxBytes)) && ok
	ok = o.sysctlSet(ctx, "net.core.wmem_max", strconv.Itoa(o.cfg.WmemMaxBytes)) && ok
	ok = o.sysctlSet(ctx, "net.ipv4.tcp_window_scaling", "1") && ok
	ok = o.sysctlSet(ctx, "net.ipv4.tcp_timestamps", "1") && ok
	ok = o.sysctlSet(ctx, "net.ipv4.tcp_rto_min", strconv.Itoa(o.cfg.MinRTOMillis)) && ok
	return types.OptimizationStep{Name: "tcp_tuning", Applied: ok}
}

func (o *Optimizer) restoreTCP(ctx context.Context) types.OptimizationStep {
	ok := true
	if prior, found := o.state.OriginalSettings["tcp_congestion"]; found {
		ok = o.sysctlSet(ctx, "net.ipv4.tcp_congestion_control", prior) && ok
	}
	if prior, found := o.state.OriginalSettings["rmem_max"]; found {
		ok = o.sysctlSet(ctx, "net.core.rmem_max", prior) && ok
	}
	if prior, found := o.state.OriginalSettings["wmem_max"]; found {
		ok = o.sysctlSet(ctx, "net.core.wmem_max", prior) && ok
	}
	return types.OptimizationStep{Name: "tcp_restore", Applied: ok}
}

func (o *Optimizer) sysctlSet(ctx context.Context, key, value string) bool {
	res := o.runner.Run(ctx, o.cfg.ShellOutTimeout, "sysctl", "-w", fmt.Sprintf("%s=%s", key, value))
	return res.Succeeded()
}

// markDSCP installs (or, with apply=false, removes) mangle OUTPUT/INPUT
// rules stamping DSCP EF on each configured video port. Delete-then-add
// is idempotent across a crashed previous run (§4.3 "Failure
// semantics").
func (o *Optimizer) markDSCP(ctx context.Context, apply bool) types.OptimizationStep {
	verb := "-D"
	if apply {
		verb = "-A"
	}
	ok := true
	for _, port := range o.cfg.VideoPorts {
		portStr := strconv.Itoa(port)
		dscp := strconv.Itoa(o.cfg.DSCP)
		if apply {
			o.runner.Run(ctx, o.cfg.ShellOutTimeout, "iptables", "-t", "mangle", "-D", "OUTPUT",
				"-p", "udp", "--dport", portStr, "-j", "DSCP", "--set-dscp", dscp)
			o.runner.Run(ctx, o.cfg.ShellOutTimeout, "iptables", "-t", "mangle", "-D", "INPUT",
				"-p", "udp", "--sport", portStr, "-j", "DSCP", "--set-dscp", dscp)
		}
		res1 := o.runner.Run(ctx, o.cfg.ShellOutTimeout, "iptables", "-t", "mangle", verb, "OUTPUT",
			"-p", "udp", "--dport", portStr, "-j", "DSCP", "--set-dscp", dscp)
		res2 := o.runner.Run(ctx, o.cfg.ShellOutTimeout, "iptables", "-t", "mangle", verb, "INPUT",
			"-p", "udp", "--sport", portStr, "-j", "DSCP", "--set-dscp", dscp)
		ok = ok && res1.Succeeded() && res2.Succeeded()
	}
	name := "dscp_marking"
	if !apply {
		name = "dscp_marking_remove"
	}
	return types.OptimizationStep{Name: name, Applied: ok}
}

// configureCake installs a CAKE qdisc on egress and, via a single IFB
// mirror, on ingress (§4.3 step 4). Disabling tears down both qdiscs
// and the ingress redirect; the IFB interface itself is left up since
// tearing it down would race a concurrent enable() on another
// interface.
func (o *Optimizer) configureCake(ctx context.Context, iface string, apply bool) types.OptimizationStep {
	if iface == "" {
		return types.OptimizationStep{Name: "cake", Applied: false, Error: "no interface"}
	}
	if !apply {
		o.runner.Run(ctx, o.cfg.ShellOutTimeout, "tc", "qdisc", "del", "dev", iface, "root")
		o.runner.Run(ctx, o.cfg.ShellOutTimeout, "tc", "qdisc", "del", "dev", iface, "ingress")
		o.runner.Run(ctx, o.cfg.ShellOutTimeout, "tc", "qdisc", "del", "dev", o.cfg.IFBInterface, "root")
		return types.OptimizationStep{Name: "cake_remove", Applied: true}
	}

	o.runner.Run(ctx, o.cfg.ShellOutTimeout, "tc", "qdisc", "del", "dev", iface, "root")
	egress := o.runner.Run(ctx, o.cfg.ShellOutTimeout, "tc", "qdisc", "replace", "dev", iface, "root",
		"cake", "bandwidth", o.cfg.CakeUpRate, "besteffort", "wash", "nat", "ack-filter")
	if !egress.Succeeded() {
		return types.OptimizationStep{Name: "cake", Applied: false, Error: egress.Stderr}
	}

	o.runner.Run(ctx, o.cfg.ShellOutTimeout, "modprobe", "ifb", "numifbs=1")
	o.runner.Run(ctx, o.cfg.ShellOutTimeout, "ip", "link", "set", o.cfg.IFBInterface, "up")
	o.runner.Run(ctx, o.cfg.ShellOutTimeout, "tc", "qdisc", "del", "dev", iface, "ingress")
	o.runner.Run(ctx, o.cfg.ShellOutTimeout, "tc", "qdisc", "add", "dev", iface, "ingress")
	o.runner.Run(ctx, o.cfg.ShellOutTimeout, "tc", "filter", "add", "dev", iface, "parent", "ffff:",
		"protocol", "ip", "u32", "match", "u32", "0", "0", "action", "mirred", "egress", "redirect", "dev", o.cfg.IFBInterface)
	o.runner.Run(ctx, o.cfg.ShellOutTimeout, "tc", "qdisc", "del", "dev", o.cfg.IFBInterface, "root")
	ingress := o.runner.Run(ctx, o.cfg.ShellOutTimeout, "tc", "qdisc", "replace", "dev", o.cfg.IFBInterface, "root",
		"cake", "bandwidth", o.cfg.CakeDownRate, "besteffort", "wash", "ingress")

	return types.OptimizationStep{Name: "cake", Applied: ingress.Succeeded(), Error: ingress.Stderr}
}

// configureVPNRouting installs the two policy-routing tables and the
// fwmark rules that steer VPN control traffic around the main table
// (§4.3 step 5, invariant: a later default-route change must not
// disrupt VPN control traffic).
func (o *Optimizer) configureVPNRouting(ctx context.Context, gateway string, apply bool) types.OptimizationStep {
	if !apply {
		o.runner.Run(ctx, o.cfg.ShellOutTimeout, "ip", "rule", "del", "fwmark", strconv.Itoa(o.cfg.VPNFwmark), "table", strconv.Itoa(o.cfg.VPNTableID))
		o.runner.Run(ctx, o.cfg.ShellOutTimeout, "iptables", "-t", "mangle", "-D", "OUTPUT", "-p", "udp", "--dport", strconv.Itoa(o.cfg.TailscalePort), "-j", "MARK", "--set-mark", strconv.Itoa(o.cfg.VPNFwmark))
		o.runner.Run(ctx, o.cfg.ShellOutTimeout, "iptables", "-t", "mangle", "-D", "OUTPUT", "-p", "udp", "--dport", strconv.Itoa(o.cfg.WireGuardPort), "-j", "MARK", "--set-mark", strconv.Itoa(o.cfg.VPNFwmark))
		return types.OptimizationStep{Name: "vpn_routing_remove", Applied: true}
	}
	if gateway == "" {
		return types.OptimizationStep{Name: "vpn_routing", Applied: false, Error: "no gateway supplied"}
	}

	o.runner.Run(ctx, o.cfg.ShellOutTimeout, "ip", "route", "del", "default", "table", strconv.Itoa(o.cfg.VPNTableID))
	route := o.runner.Run(ctx, o.cfg.ShellOutTimeout, "ip", "route", "add", "default", "via", gateway, "table", strconv.Itoa(o.cfg.VPNTableID))

	o.runner.Run(ctx, o.cfg.ShellOutTimeout, "ip", "rule", "del", "fwmark", strconv.Itoa(o.cfg.VPNFwmark), "table", strconv.Itoa(o.cfg.VPNTableID))
	rule := o.runner.Run(ctx, o.cfg.ShellOutTimeout, "ip", "rule", "add", "fwmark", strconv.Itoa(o.cfg.VPNFwmark), "table", strconv.Itoa(o.cfg.VPNTableID))

	mark1 := o.runner.Run(ctx, o.cfg.ShellOutTimeout, "iptables", "-t", "mangle", "-A", "OUTPUT", "-p", "udp", "--dport", strconv.Itoa(o.cfg.TailscalePort), "-j", "MARK", "--set-mark", strconv.Itoa(o.cfg.VPNFwmark))
	mark2 := o.runner.Run(ctx, o.cfg.ShellOutTimeout, "iptables", "-t", "mangle", "-A", "OUTPUT", "-p", "udp", "--dport", strconv.Itoa(o.cfg.WireGuardPort), "-j", "MARK", "--set-mark", strconv.Itoa(o.cfg.VPNFwmark))

	ok := route.Succeeded() && rule.Succeeded() && mark1.Succeeded() && mark2.Succeeded()
	return types.OptimizationStep{Name: "vpn_routing", Applied: ok}
}

func stepResult(name string, res shellcmd.Result) types.OptimizationStep {
	return types.OptimizationStep{Name: name, Applied: res.Succeeded(), Error: res.Stderr}
}

func trimNewline(s string) string {
	return strings.TrimSpace(s)
}

func parseMTU(ipLinkShowOutput string) (int, bool) {
	const token = "mtu "
	idx := strings.Index(ipLinkShowOutput, token)
	if idx < 0 {
		return 0, false
	}
	rest := ipLinkShowOutput[idx+len(token):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
