package modem

import (
	"context"
	"fmt"

	"github.com/aeroward/skylink/pkg/shellcmd"
	"github.com/aeroward/skylink/pkg/types"
)

// Router represents a plain gateway uplink with no direct modem
// control surface — e.g. a MiFi hotspot or a pre-configured router
// handing out DHCP on a LAN interface. It can report link presence via
// `ip link`/`ip -4 addr` but exposes none of the optional capabilities
// (band selection, APN, remote reboot).
type Router struct {
	Interface string
	Runner    shellcmd.Runner
}

func (r Router) ID() string          { return "router_" + r.Interface }
func (r Router) DisplayName() string { return "Router uplink (" + r.Interface + ")" }

func (r Router) IsAvailable(ctx context.Context) bool {
	res := r.Runner.Run(ctx, shellcmdTimeout, "ip", "link", "show", r.Interface)
	return res.Succeeded()
}

func (Router) Capability() types.ModemCapability {
	return types.ModemCapability{
		ID:                    "router",
		DisplayName:           "Router uplink",
		Priority:              30,
		SupportsBandSelection: false,
		SupportsAPNConfig:     false,
		SupportsRemoteReboot:  false,
		SupportsDNSConfig:     false,
	}
}

func (r Router) Records(ctx context.Context) ([]types.ModemRecord, error) {
	res := r.Runner.Run(ctx, shellcmdTimeout, "ip", "-4", "addr", "show", r.Interface)
	if !res.Succeeded() {
		return []types.ModemRecord{{InterfaceName: r.Interface, IsConnected: false}}, nil
	}
	connected := res.Stdout != ""
	return []types.ModemRecord{{
		InterfaceName: r.Interface,
		IsConnected:   connected,
		IsActive:      connected,
		IsHealthy:     connected,
	}}, nil
}

func (Router) ConfigureBand(context.Context, int) error {
	return fmt.Errorf("router: band selection is not supported by a plain gateway uplink")
}

func (Router) Reboot(context.Context) error {
	return fmt.Errorf("router: remote reboot is not supported by a plain gateway uplink")
}
