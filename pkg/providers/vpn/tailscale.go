// Package vpn provides concrete VPNProvider implementations, grounded
// on app/providers/vpn/tailscale.py's `tailscale status --json` CLI
// wrapper.
package vpn

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aeroward/skylink/pkg/shellcmd"
)

// Tailscale wraps the `tailscale` CLI the way the Python provider
// shells out to it: no client library, just status/up/down through
// subprocess and JSON decoding of --json output.
type Tailscale struct {
	Runner shellcmd.Runner
}

func (Tailscale) ID() string          { return "tailscale" }
func (Tailscale) DisplayName() string { return "Tailscale" }

func (t Tailscale) IsAvailable(ctx context.Context) bool {
	res := t.Runner.Run(ctx, 2*time.Second, "which", "tailscale")
	return res.Succeeded()
}

type tailscaleStatus struct {
	BackendState string `json:"BackendState"`
	Self         struct {
		TailscaleIPs []string `json:"TailscaleIPs"`
	} `json:"Self"`
	Peer map[string]json.RawMessage `json:"Peer"`
}

func (t Tailscale) status(ctx context.Context) (*tailscaleStatus, error) {
	res := t.Runner.Run(ctx, 5*time.Second, "tailscale", "status", "--json")
	if !res.Succeeded() {
		return nil, fmt.Errorf("vpn: tailscale status: %s", res.Stderr)
	}
	var s tailscaleStatus
	if err := json.Unmarshal([]byte(res.Stdout), &s); err != nil {
		return nil, fmt.Errorf("vpn: decode tailscale status: %w", err)
	}
	return &s, nil
}

func (t Tailscale) Connected(ctx context.Context) (bool, error) {
	s, err := t.status(ctx)
	if err != nil {
		return false, err
	}
	return s.BackendState == "Running" && len(s.Self.TailscaleIPs) > 0, nil
}

func (t Tailscale) InterfaceName() string { return "tailscale0" }

func (t Tailscale) Peers(ctx context.Context) (int, error) {
	s, err := t.status(ctx)
	if err != nil {
		return 0, err
	}
	return len(s.Peer), nil
}
