package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aeroward/skylink/pkg/config"
	"github.com/aeroward/skylink/pkg/failover"
	"github.com/aeroward/skylink/pkg/latency"
	"github.com/aeroward/skylink/pkg/modempool"
	"github.com/aeroward/skylink/pkg/providers"
	"github.com/aeroward/skylink/pkg/shellcmd"
	"github.com/aeroward/skylink/pkg/types"
)

// snapshot is the combined one-shot view `status` prints: a JSON dump of
// the latency monitor, modem pool, and failover controller state (§6
// "Status & events"). The optimizer is not included.
type snapshot struct {
	Latency   map[string]types.LatencyStats `json:"latency"`
	ModemPool map[string]types.ModemRecord  `json:"modem_pool"`
	Failover  types.FailoverState           `json:"failover"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probe targets and interfaces once, then print a JSON status snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context())
		},
	}
}

// runStatus constructs the same provider registry and components as `run`,
// but drives a single refresh/probe cycle instead of the long-running
// loops, suitable for `skylinkd status | jq`.
func runStatus(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	latencyCfg, err := config.LoadFile[config.LatencyConfig]("SKYLINK", configPath)
	if err != nil {
		return err
	}
	failoverCfg, err := config.LoadFile[config.FailoverConfig]("SKYLINK", configPath)
	if err != nil {
		return err
	}
	modemPoolCfg, err := config.LoadFile[config.ModemPoolConfig]("SKYLINK", configPath)
	if err != nil {
		return err
	}

	runner := shellcmd.Real{}
	registry := providers.New()
	registerProviders(registry, runner)

	lat := latency.New(latencyCfg, runner, nil)
	lat.ProbeOnce(ctx)

	tsProvider, err := registry.GetVPN("tailscale")
	var vpnHealth modempool.VPNHealth
	if err == nil {
		vpnHealth = tsProvider
	}

	pool := modempool.New(modemPoolCfg, registry, lat, vpnHealth, runner, nil)
	pool.Refresh(ctx)

	fc := failover.New(failoverCfg, func() (float64, bool) { return 0, false }, func(context.Context, types.FailoverMode) bool { return false }, nil)

	out, err := json.MarshalIndent(snapshot{
		Latency:   lat.AllStats(),
		ModemPool: pool.Records(),
		Failover:  fc.State(),
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
