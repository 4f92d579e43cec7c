// Package failover implements the auto-failover state machine (C5,
// §4.5): a cooperative tick loop that samples the latency engine and
// drives mode switches with hysteresis, cooldown, and preferred-path
// restoration. Grounded on app/services/failover_controller.py's
// FailoverController, translated onto a cancellable goroutine the way
// pkg/latency.Monitor and pkg/modempool.Pool drive their own tick
// loops.
package failover

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aeroward/skylink/pkg/bus"
	"github.com/aeroward/skylink/pkg/config"
	"github.com/aeroward/skylink/pkg/types"
)

// SwitchCallback performs the actual mode switch (in practice a
// wrapper around C4's SelectModem or a comparable WiFi-side routine).
// A false return leaves current_mode unchanged (§4.5 "Switch
// execution").
type SwitchCallback func(ctx context.Context, target types.FailoverMode) bool

// LatencySource reports the cross-target average RTT over successful
// samples for the current tick, and whether any probe succeeded at
// all (§4.5 step 1/2).
type LatencySource func() (avgRTTMs float64, anySuccess bool)

// Controller owns FailoverState and the tick loop that mutates it.
type Controller struct {
	cfg      config.FailoverConfig
	latency  LatencySource
	switcher SwitchCallback
	bus      *bus.Bus

	mu    sync.Mutex
	state types.FailoverState

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Controller. b may be nil, in which case state
// transitions are not broadcast.
func New(cfg config.FailoverConfig, latency LatencySource, switcher SwitchCallback, b *bus.Bus) *Controller {
	return &Controller{
		cfg:      cfg,
		latency:  latency,
		switcher: switcher,
		bus:      b,
		state:    types.FailoverState{CurrentMode: types.FailoverMode(cfg.PreferredMode)},
	}
}

// Start launches the tick loop. Ticks are strictly serial: a tick that
// begins a switch is awaited before the next tick begins (§5
// "Ordering guarantees").
func (c *Controller) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	c.mu.Lock()
	c.state.Active = true
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				c.Tick(runCtx)
			}
		}
	}()
}

// Stop cancels the tick loop and awaits its termination; an
// in-progress switch callback is awaited to completion so routing is
// never left half-applied (§4.5 "Cancellation").
func (c *Controller) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.mu.Lock()
	c.state.Active = false
	c.mu.Unlock()
}

// State returns a snapshot of the failover state machine.
func (c *Controller) State() types.FailoverState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Tick runs the per-tick algorithm (§4.5 "Per-tick algorithm").
func (c *Controller) Tick(ctx context.Context) {
	avgRTT, anySuccess := c.latency()

	c.mu.Lock()
	now := time.Now()
	sinceLastSwitch := now.Sub(c.state.LastSwitchTS)
	currentMode := c.state.CurrentMode
	c.mu.Unlock()

	switch {
	case !anySuccess:
		c.attemptSwitch(ctx, alternate(currentMode), "connectivity_loss")

	case avgRTT > c.cfg.LatencyThresholdMs:
		c.mu.Lock()
		c.state.ConsecutiveBadSamples++
		bad := c.state.ConsecutiveBadSamples
		c.mu.Unlock()

		if bad >= c.cfg.LatencyCheckWindow && sinceLastSwitch >= c.cfg.SwitchCooldown {
			c.attemptSwitch(ctx, alternate(currentMode), "latency_threshold_exceeded")
		}

	default:
		c.mu.Lock()
		c.state.ConsecutiveBadSamples = 0
		c.mu.Unlock()

		preferred := types.FailoverMode(c.cfg.PreferredMode)
		if currentMode != preferred &&
			sinceLastSwitch >= c.cfg.RestoreDelay &&
			avgRTT < c.cfg.RestoreSafetyMargin*c.cfg.LatencyThresholdMs {
			c.attemptSwitch(ctx, preferred, "restore_preferred")
		}
	}
}

// attemptSwitch invokes the injected switch callback and, on success,
// mutates current_mode, resets consecutive_bad_samples, and stamps
// last_switch (§3 "consecutive_bad_samples is reset ... on a
// successful switch").
func (c *Controller) attemptSwitch(ctx context.Context, target types.FailoverMode, reason string) {
	if target == types.ModeUnknown {
		return
	}

	c.mu.Lock()
	alreadyThere := c.state.CurrentMode == target
	c.mu.Unlock()
	if alreadyThere {
		return
	}

	ok := c.switcher(ctx, target)
	if !ok {
		log.Warn().Str("target", string(target)).Str("reason", reason).Msg("failover: switch callback declined, mode unchanged")
		return
	}

	c.mu.Lock()
	c.state.CurrentMode = target
	c.state.LastSwitchTS = time.Now()
	c.state.ConsecutiveBadSamples = 0
	c.state.LastReason = reason
	snapshot := c.state
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(bus.SubjectFailoverStatus, snapshot)
	}
	log.Info().Str("target", string(target)).Str("reason", reason).Msg("failover: switched mode")
}

func alternate(mode types.FailoverMode) types.FailoverMode {
	switch mode {
	case types.ModeWiFi:
		return types.ModeModem
	case types.ModeModem:
		return types.ModeWiFi
	default:
		return types.ModeUnknown
	}
}
