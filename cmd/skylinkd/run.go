package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aeroward/skylink/pkg/bus"
	"github.com/aeroward/skylink/pkg/config"
	"github.com/aeroward/skylink/pkg/failover"
	"github.com/aeroward/skylink/pkg/latency"
	"github.com/aeroward/skylink/pkg/modempool"
	"github.com/aeroward/skylink/pkg/netopt"
	"github.com/aeroward/skylink/pkg/pipeline"
	"github.com/aeroward/skylink/pkg/providers"
	"github.com/aeroward/skylink/pkg/providers/board"
	"github.com/aeroward/skylink/pkg/providers/modem"
	"github.com/aeroward/skylink/pkg/providers/netif"
	"github.com/aeroward/skylink/pkg/providers/videoencoder"
	"github.com/aeroward/skylink/pkg/providers/videosource"
	"github.com/aeroward/skylink/pkg/providers/vpn"
	"github.com/aeroward/skylink/pkg/shellcmd"
	"github.com/aeroward/skylink/pkg/types"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon: provider discovery, modem pool, latency probes, optimizer, and failover controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}
}

func runDaemon(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	latencyCfg, err := config.LoadFile[config.LatencyConfig]("SKYLINK", configPath)
	if err != nil {
		return err
	}
	optimizerCfg, err := config.LoadFile[config.OptimizerConfig]("SKYLINK", configPath)
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
	pipelineDefaults, err := config.LoadFile[config.PipelineDefaults]("SKYLINK", configPath)
	if err != nil {
		return err
	}

	b, err := bus.New()
	if err != nil {
		return err
	}
	defer b.Close()

	runner := shellcmd.Real{}
	registry := providers.New()
	registerProviders(registry, runner)

	lat := latency.New(latencyCfg, runner, b)
	lat.Start(ctx)
	defer lat.Stop()

	opt := netopt.New(optimizerCfg, runner, b)

	tsProvider, err := registry.GetVPN("tailscale")
	var vpnHealth modempool.VPNHealth
	if err == nil {
		vpnHealth = tsProvider
	}

	pool := modempool.New(modemPoolCfg, registry, lat, vpnHealth, runner, b)
	pool.Start(ctx)
	defer pool.Stop()

	fc := failover.New(failoverCfg, func() (float64, bool) {
		stats := lat.AllStats()
		var sum float64
		var n int
		for _, s := range stats {
			if s.Successes > 0 {
				sum += s.Mean
				n++
			}
		}
		if n == 0 {
			return 0, false
		}
		return sum / float64(n), true
	}, func(ctx context.Context, target types.FailoverMode) bool {
		return switchFailoverMode(ctx, pool, target)
	}, b)
	fc.Start(ctx)
	defer fc.Stop()

	go watchActiveInterface(ctx, pool, opt)

	pipe := pipeline.New(registry, pipelineDefaults, b)
	if err := pipe.Build(ctx, defaultPipelineSpec(pipelineDefaults)); err != nil {
		log.Warn().Err(err).Msg("skylinkd: initial pipeline build failed, will not stream until reconfigured")
	} else {
		defer pipe.Stop()
	}

	log.Info().Msg("skylinkd: running, press ctrl-c to stop")
	<-ctx.Done()
	log.Info().Msg("skylinkd: shutting down")
	return nil
}

// defaultPipelineSpec builds the PipelineSpec the daemon streams with at
// startup from PipelineDefaults, preferring the hardware-encoded h264
// family with the v4l2 capture source (§4.6 "Build sequence").
func defaultPipelineSpec(d config.PipelineDefaults) types.PipelineSpec {
	return types.PipelineSpec{
		SourceID:    "v4l2",
		CodecID:     "h264",
		Width:       d.Width,
		Height:      d.Height,
		Framerate:   d.Framerate,
		BitrateKbps: d.BitrateKbps,
		GOPSize:     d.GOPSize,
		SinkMode:    types.SinkUDPUnicast,
	}
}

// watchActiveInterface polls the modem pool's active interface and
// (re-)enables the network optimizer against it whenever selection
// changes (§4.3 "Enable ... is called once a network path is chosen",
// tying C3's routing/queue tuning to C4's current selection).
func watchActiveInterface(ctx context.Context, pool *modempool.Pool, opt *netopt.Optimizer) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var lastIface string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for iface, rec := range pool.Records() {
				if rec.IsActive && iface != lastIface {
					report := opt.Enable(ctx, iface, rec.Gateway)
					for _, step := range report.Steps {
						if !step.Applied {
							log.Warn().Str("step", step.Name).Str("error", step.Error).Str("interface", iface).Msg("skylinkd: optimizer step failed")
						}
					}
					lastIface = iface
				}
			}
		}
	}
}

// switchFailoverMode delegates a mode-level switch to the modem pool,
// selecting the first connected record whose interface belongs to the
// requested FailoverMode family, in map iteration order; records are not
// ranked by score (§4.5 "Switch execution").
func switchFailoverMode(ctx context.Context, pool *modempool.Pool, target types.FailoverMode) bool {
	for iface, rec := range pool.Records() {
		if !rec.IsConnected {
			continue
		}
		if modeOfInterface(iface) != target {
			continue
		}
		if err := pool.SelectModem(ctx, iface, types.ReasonFailover); err != nil {
			log.Warn().Err(err).Str("target", iface).Msg("failover: switch attempt failed")
			return false
		}
		return true
	}
	return false
}

func modeOfInterface(iface string) types.FailoverMode {
	switch {
	case len(iface) >= 4 && iface[:4] == "wwan":
		return types.ModeModem
	case len(iface) >= 4 && iface[:4] == "wlan":
		return types.ModeWiFi
	default:
		return types.ModeUnknown
	}
}

func registerProviders(registry *providers.Registry, runner shellcmd.Runner) {
	if err := registry.RegisterBoard(board.Generic); err != nil {
		log.Warn().Err(err).Msg("skylinkd: board registration failed")
	}

	if err := registry.RegisterVideoSource(videosource.V4L2{Runner: runner}); err != nil {
		log.Warn().Err(err).Msg("skylinkd: video source registration failed")
	}

	for _, enc := range []providers.VideoEncoderProvider{
		videoencoder.Hardware{GstElement: "v4l2h264enc"},
		videoencoder.X264{},
		videoencoder.MJPEG{},
		videoencoder.Passthrough{Family: "h264"},
		videoencoder.Passthrough{Family: "mjpeg"},
	} {
		if err := registry.RegisterVideoEncoder(enc); err != nil {
			log.Warn().Err(err).Msg("skylinkd: video encoder registration failed")
		}
	}

	if mm, err := modem.NewModemManager(); err == nil {
		if err := registry.RegisterModem(mm); err != nil {
			log.Warn().Err(err).Msg("skylinkd: modemmanager registration failed")
		}
	} else {
		log.Info().Err(err).Msg("skylinkd: modemmanager unavailable, skipping")
	}
	if err := registry.RegisterModem(modem.NewHiLink("http://192.168.8.1")); err != nil {
		log.Warn().Err(err).Msg("skylinkd: hilink registration failed")
	}

	if err := registry.RegisterVPN(vpn.Tailscale{Runner: runner}); err != nil {
		log.Warn().Err(err).Msg("skylinkd: vpn registration failed")
	}

	for _, iface := range []string{"wlan0", "eth0"} {
		if err := registry.RegisterNetInterface(netif.Generic{Name: iface, Runner: runner}); err != nil {
			log.Warn().Err(err).Msg("skylinkd: net interface registration failed")
		}
	}
}
