// Package netif provides the NetInterfaceProvider implementation used
// for WiFi/ethernet uplinks, grounded on
// app/providers/base/network_interface.py's bring_up/bring_down/set_metric
// contract and translated onto the `ip` command the same way
// app/providers/network/modem_interface.py drives modem interfaces.
package netif

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aeroward/skylink/pkg/shellcmd"
)

// Generic controls one named interface via `ip link`/`ip route`. It
// covers WiFi and ethernet uplinks; modem interfaces are instead owned
// by the modem pool (C4), which talks to them through a ModemProvider.
type Generic struct {
	Name   string
	Runner shellcmd.Runner
}

func (g Generic) ID() string          { return "netif_" + g.Name }
func (g Generic) DisplayName() string { return "Network interface (" + g.Name + ")" }

func (g Generic) InterfaceName() string { return g.Name }

func (g Generic) IsAvailable(ctx context.Context) bool {
	return g.Runner.Run(ctx, 2*time.Second, "ip", "link", "show", g.Name).Succeeded()
}

func (g Generic) BringUp(ctx context.Context) error {
	res := g.Runner.Run(ctx, 3*time.Second, "ip", "link", "set", g.Name, "up")
	if !res.Succeeded() {
		return fmt.Errorf("netif: bring up %s: %s", g.Name, res.Stderr)
	}
	return nil
}

func (g Generic) BringDown(ctx context.Context) error {
	res := g.Runner.Run(ctx, 3*time.Second, "ip", "link", "set", g.Name, "down")
	if !res.Succeeded() {
		return fmt.Errorf("netif: bring down %s: %s", g.Name, res.Stderr)
	}
	return nil
}

func (g Generic) SetMetric(ctx context.Context, metric int) error {
	res := g.Runner.Run(ctx, 3*time.Second, "ip", "route", "change", "default", "dev", g.Name, "metric", strconv.Itoa(metric))
	if !res.Succeeded() {
		return fmt.Errorf("netif: set metric on %s: %s", g.Name, res.Stderr)
	}
	return nil
}
