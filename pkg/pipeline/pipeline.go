// Package pipeline implements the streaming pipeline orchestrator (C6,
// §4.6): a finite state machine over a GStreamer media graph built
// from provider-emitted bin descriptors, wired through go-gst the way
// api/pkg/desktop/gst_pipeline.go drives its own appsink pipeline, with
// stage probes grounded on app/services/gstreamer_service.py's
// _setup_stats_probes / _on_frame_probe / _on_bytes_probe.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/aeroward/skylink/pkg/bus"
	"github.com/aeroward/skylink/pkg/config"
	"github.com/aeroward/skylink/pkg/providers"
	"github.com/aeroward/skylink/pkg/types"
)

var gstInitOnce sync.Once

// InitGStreamer initializes the GStreamer library. Safe to call
// multiple times.
func InitGStreamer() {
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
}

// Pipeline owns the FSM and the underlying GStreamer graph. Build,
// Stop, and live mutations are serialized by mu so concurrent callers
// see strict ordering (§5 "Ordering guarantees").
type Pipeline struct {
	registry *providers.Registry
	defaults config.PipelineDefaults
	bus      *bus.Bus

	mu        sync.Mutex
	state     types.PipelineState
	buildID   string
	spec      types.PipelineSpec
	gstPipe   *gst.Pipeline
	sourceID  string
	encoderID string
	startedAt *time.Time
	lastErr   *types.LastError
	fallback  string

	counters       types.Counters
	lastTickFrames uint64
	lastTickBytes  uint64
	lastTickTime   time.Time

	rtspClientsConnected int

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs an idle Pipeline bound to registry for provider
// lookups and b for status broadcasts.
func New(registry *providers.Registry, defaults config.PipelineDefaults, b *bus.Bus) *Pipeline {
	InitGStreamer()
	return &Pipeline{registry: registry, defaults: defaults, bus: b, state: types.StateIdle}
}

// State returns the current FSM state.
func (p *Pipeline) State() types.PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Build assembles and starts the media graph for spec (§4.6 "Build").
// Zero-valued spec fields are filled from PipelineDefaults.
func (p *Pipeline) Build(ctx context.Context, spec types.PipelineSpec) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != types.StateIdle && p.state != types.StateFailed {
		return types.StateInvariantViolationError{Operation: "build", Reason: "pipeline not idle", Allowed: string(types.StateIdle)}
	}
	p.state = types.StateBuilding
	p.buildID = uuid.NewString()
	spec = p.applyDefaults(spec)

	sourceBin, _, sourceProviderID, err := p.resolveSource(ctx, spec)
	if err != nil {
		return p.fail("resolve_source", err)
	}

	encCap, fallbackMsg, err := p.resolveEncoder(ctx, spec)
	if err != nil {
		return p.fail("resolve_encoder", err)
	}
	encProv, err := p.registry.GetVideoEncoder(encCap.ID)
	if err != nil {
		return p.fail("resolve_encoder", err)
	}
	if err := validateEncoderConfig(encCap, spec); err != nil {
		return p.fail("validate_encoder_config", err)
	}
	encoderBin, err := encProv.EncoderBin(spec.BitrateKbps, spec.Quality, spec.GOPSize)
	if err != nil {
		return p.fail("encoder_bin", err)
	}

	sinkBin, err := sinkBinFor(spec)
	if err != nil {
		return p.fail("sink_bin", err)
	}

	description := strings.Join([]string{sourceBin, encoderBin, sinkBin}, " ! ")

	gstPipe, err := gst.NewPipelineFromString(description)
	if err != nil {
		return p.fail("link", fmt.Errorf("failed to parse pipeline graph: %w", err))
	}

	if err := gstPipe.SetState(gst.StatePlaying); err != nil {
		gstPipe.SetState(gst.StateNull)
		return p.fail("link", fmt.Errorf("failed to set pipeline to playing: %w", err))
	}

	p.gstPipe = gstPipe
	p.spec = spec
	p.sourceID = sourceProviderID
	p.encoderID = encCap.ID
	p.fallback = fallbackMsg
	now := time.Now()
	p.startedAt = &now
	p.lastErr = nil
	p.counters = types.Counters{}
	p.lastTickTime = now
	p.state = types.StatePlaying

	p.attachStatsProbes()

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.watchBus(runCtx)
	go p.tickCounters(runCtx)

	p.publishStatusLocked()
	return nil
}

func (p *Pipeline) applyDefaults(spec types.PipelineSpec) types.PipelineSpec {
	if spec.Width == 0 {
		spec.Width = p.defaults.Width
	}
	if spec.Height == 0 {
		spec.Height = p.defaults.Height
	}
	if spec.Framerate == 0 {
		spec.Framerate = p.defaults.Framerate
	}
	if spec.BitrateKbps == 0 {
		spec.BitrateKbps = p.defaults.BitrateKbps
	}
	if spec.GOPSize == 0 {
		spec.GOPSize = p.defaults.GOPSize
	}
	if spec.SinkMode == "" {
		spec.SinkMode = types.SinkUDPUnicast
	}
	return spec
}

// resolveSource picks the requested source provider, falling back to
// the default v4l2-style provider if the requested id is unknown
// (§4.6 step 1).
func (p *Pipeline) resolveSource(ctx context.Context, spec types.PipelineSpec) (gstBin, outputFormat, providerID string, err error) {
	id := spec.SourceID
	prov, err := p.registry.GetVideoSource(id)
	if err != nil {
		prov, err = p.registry.GetVideoSource("v4l2")
		if err != nil {
			return "", "", "", types.NoProviderAvailableError{Family: string(types.FamilyVideoSource), ID: spec.SourceID}
		}
		id = "v4l2"
		log.Warn().Str("requested", spec.SourceID).Msg("pipeline: source unknown, falling back to v4l2 default")
	}
	bin, format, err := prov.SourceBin(id, spec.Width, spec.Height, spec.Framerate)
	if err != nil {
		return "", "", "", err
	}
	return bin, format, id, nil
}

// resolveEncoder performs codec adaptation (§4.1, §4.6 step 3).
func (p *Pipeline) resolveEncoder(ctx context.Context, spec types.PipelineSpec) (types.VideoEncoderCapability, string, error) {
	available := p.registry.AvailableEncoders(ctx)
	declared := declaredEncoderIDs(p.registry)
	return providers.AdaptCodec(spec.CodecID, declared, available)
}

func declaredEncoderIDs(registry *providers.Registry) []string {
	for _, id := range registry.ListBoards() {
		board, err := registry.GetBoard(id)
		if err == nil {
			return board.DeclaredEncoders()
		}
	}
	return nil
}

func validateEncoderConfig(cap types.VideoEncoderCapability, spec types.PipelineSpec) error {
	if spec.BitrateKbps < cap.Bitrate.Min || spec.BitrateKbps > cap.Bitrate.Max {
		return types.InvalidConfigurationError{
			Field: "bitrate_kbps", Value: spec.BitrateKbps,
			Allowed: fmt.Sprintf("[%d,%d]", cap.Bitrate.Min, cap.Bitrate.Max),
		}
	}
	if spec.Quality != 0 && !cap.QualityControllable {
		log.Warn().Str("encoder", cap.ID).Msg("pipeline: quality requested but encoder does not support quality control, ignoring")
	}
	return nil
}

func sinkBinFor(spec types.PipelineSpec) (string, error) {
	switch spec.SinkMode {
	case types.SinkUDPUnicast:
		return fmt.Sprintf("udpsink name=sink host=%s port=%s sync=false async=false",
			orDefault(spec.SinkParams["host"], "127.0.0.1"), orDefault(spec.SinkParams["port"], "5600")), nil
	case types.SinkUDPMulticast:
		return fmt.Sprintf("udpsink name=sink host=%s port=%s auto-multicast=true sync=false async=false",
			orDefault(spec.SinkParams["host"], "239.0.0.1"), orDefault(spec.SinkParams["port"], "5600")), nil
	case types.SinkRTSP:
		return "rtspclientsink name=sink location=" + spec.SinkParams["location"], nil
	case types.SinkWebRTC:
		return "tee name=sink", nil
	default:
		return "", types.InvalidConfigurationError{Field: "sink_mode", Value: spec.SinkMode, Allowed: "udp|multicast|rtsp|webrtc"}
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (p *Pipeline) fail(stage string, cause error) error {
	p.state = types.StateFailed
	p.lastErr = &types.LastError{Message: cause.Error(), Code: stage, Timestamp: time.Now()}
	log.Error().Err(cause).Str("stage", stage).Msg("pipeline: build failed")
	p.publishStatusLocked()
	return cause
}

// Stop tears down the media graph and returns to Idle. stop() is a
// unique authorized release point for pipeline resources and is
// idempotent (§5 "Resource policy").
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Pipeline) stopLocked() {
	if p.state == types.StateIdle {
		return
	}
	p.state = types.StateTerminating
	p.teardownLocked(false)
	p.state = types.StateIdle
	p.publishStatusLocked()
}

// teardownLocked cancels the watchBus/tickCounters goroutines and
// releases the GStreamer graph. selfStop must be true when the caller
// is running inside the watchBus goroutine itself (the runtime-error
// path, §4.6 "Failure semantics"): p.done is closed by watchBus's own
// deferred close on return, so joining it here would deadlock against
// the caller's own pending return.
func (p *Pipeline) teardownLocked(selfStop bool) {
	if p.cancel != nil {
		p.cancel()
		if !selfStop {
			<-p.done
		}
		p.cancel = nil
	}
	if p.gstPipe != nil {
		p.gstPipe.SetState(gst.StateNull)
		p.gstPipe = nil
	}
	p.startedAt = nil
}

// UpdateLiveProperty clamps and applies a named live-adjustable
// encoder property without a rebuild (§4.6 "Live mutation").
func (p *Pipeline) UpdateLiveProperty(name string, value float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != types.StatePlaying && p.state != types.StatePaused {
		return types.StateInvariantViolationError{Operation: "update_live_property", Reason: "pipeline not streaming", Allowed: string(types.StatePlaying)}
	}
	encProv, err := p.registry.GetVideoEncoder(p.encoderID)
	if err != nil {
		return err
	}
	adjustable := encProv.LiveProperties()
	prop, ok := adjustable[name]
	if !ok {
		allowed := make([]string, 0, len(adjustable))
		for k := range adjustable {
			allowed = append(allowed, k)
		}
		return types.NotLiveAdjustableError{Name: name, Allowed: allowed}
	}

	clamped := clamp(value, prop.Min, prop.Max)
	multiplier := prop.Multiplier
	if multiplier == 0 {
		multiplier = 1
	}
	actual := clamped * multiplier

	elem, err := p.gstPipe.GetElementByName(prop.ElementName)
	if err != nil {
		return fmt.Errorf("update_live_property: element %q not found: %w", prop.ElementName, err)
	}
	if prop.FormatTemplate != "" {
		elem.SetProperty(prop.PropertyName, fmt.Sprintf(prop.FormatTemplate, int(actual)))
	} else {
		elem.SetProperty(prop.PropertyName, int(actual))
	}

	log.Info().Str("property", name).Float64("value", clamped).Msg("pipeline: live property updated")
	return nil
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// attachStatsProbes installs the frame and byte pad probes (§4.6 step
// 7), grounded on gstreamer_service.py's _setup_stats_probes.
func (p *Pipeline) attachStatsProbes() {
	encoder, err := p.gstPipe.GetElementByName("encoder")
	if err == nil {
		if pad := encoder.GetStaticPad("src"); pad != nil {
			pad.AddProbe(gst.PadProbeTypeBuffer, p.onFrameProbe)
		}
	}

	sink, err := p.gstPipe.GetElementByName("sink")
	if err == nil {
		if pad := sink.GetStaticPad("sink"); pad != nil {
			pad.AddProbe(gst.PadProbeTypeBuffer, p.onBytesProbe)
		}
	} else if payloader, err := p.gstPipe.GetElementByName("payloader"); err == nil {
		if pad := payloader.GetStaticPad("src"); pad != nil {
			pad.AddProbe(gst.PadProbeTypeBuffer, p.onBytesProbe)
		}
	}
}

func (p *Pipeline) onFrameProbe(pad *gst.Pad, info *gst.PadProbeInfo) gst.PadProbeReturn {
	buf := info.GetBuffer()
	if buf != nil {
		p.mu.Lock()
		p.counters.Frames++
		p.mu.Unlock()
	}
	return gst.PadProbeOK
}

func (p *Pipeline) onBytesProbe(pad *gst.Pad, info *gst.PadProbeInfo) gst.PadProbeReturn {
	buf := info.GetBuffer()
	if buf != nil {
		p.mu.Lock()
		p.counters.Bytes += uint64(buf.GetSize())
		p.mu.Unlock()
	}
	return gst.PadProbeOK
}

// tickCounters converts cumulative counters into instantaneous rates
// at the configured cadence (§4.6 "Counters").
func (p *Pipeline) tickCounters(ctx context.Context) {
	interval := p.defaults.CounterTickInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.computeRates()
		}
	}
}

func (p *Pipeline) computeRates() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(p.lastTickTime).Seconds()
	if elapsed <= 0 {
		return
	}

	if p.spec.SinkMode == types.SinkRTSP {
		p.estimateRTSPRatesLocked(elapsed)
		return
	}

	frameDelta := p.counters.Frames - p.lastTickFrames
	byteDelta := p.counters.Bytes - p.lastTickBytes

	p.counters.InstantaneousFPS = float64(frameDelta) / elapsed
	p.counters.InstantaneousKbps = float64(byteDelta) * 8 / 1000 / elapsed

	p.lastTickFrames = p.counters.Frames
	p.lastTickBytes = p.counters.Bytes
	p.lastTickTime = now
	p.publishStatusLocked()
}

// estimateRTSPRatesLocked estimates frame/byte rates from the
// configured framerate and bitrate while gated on client-connected
// count, since RTSP only emits bytes with a client attached (§4.6
// "RTSP mode peculiarity").
func (p *Pipeline) estimateRTSPRatesLocked(elapsed float64) {
	if p.rtspClientsConnected <= 0 {
		p.counters.InstantaneousFPS = 0
		p.counters.InstantaneousKbps = 0
		p.counters.Frames = 0
		p.counters.Bytes = 0
		p.lastTickFrames = 0
		p.lastTickBytes = 0
		p.lastTickTime = time.Now()
		return
	}

	p.counters.InstantaneousFPS = float64(p.spec.Framerate)
	p.counters.InstantaneousKbps = float64(p.spec.BitrateKbps)
	p.counters.Frames += uint64(float64(p.spec.Framerate) * elapsed)
	p.counters.Bytes += uint64(float64(p.spec.BitrateKbps) * 1000 / 8 * elapsed)
	p.lastTickTime = time.Now()
	p.publishStatusLocked()
}

// SetRTSPClientsConnected updates the client-connected gate consulted
// by estimateRTSPRatesLocked.
func (p *Pipeline) SetRTSPClientsConnected(n int) {
	p.mu.Lock()
	p.rtspClientsConnected = n
	p.mu.Unlock()
}

// watchBus translates element errors/warnings into state transitions
// and status broadcasts (§4.6 step 8), grounded on
// api/pkg/desktop/gst_pipeline.go's watchBus.
func (p *Pipeline) watchBus(ctx context.Context) {
	defer close(p.done)

	b := p.gstPipe.GetPipelineBus()
	if b == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := b.TimedPop(gst.ClockTime(100 * time.Millisecond))
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			p.handleRuntimeFailure(fmt.Errorf("end of stream"))
			return
		case gst.MessageError:
			if gerr := msg.ParseError(); gerr != nil {
				p.handleRuntimeFailure(gerr)
			}
			return
		case gst.MessageWarning:
			if gwarn := msg.ParseWarning(); gwarn != nil {
				log.Warn().Err(gwarn).Msg("pipeline: bus warning")
			}
		}
	}
}

// handleRuntimeFailure implements the automatic stop() (graph teardown)
// on a runtime encoder/decoder error during Playing (§4.6 "Failure
// semantics"). It runs on the watchBus goroutine itself, so it tears
// down directly via teardownLocked(selfStop=true) instead of calling
// Stop(), which would join p.done and deadlock against watchBus's own
// pending return. The FSM lands in Failed, matching the state diagram's
// "err -> Failed"; a caller must still invoke Stop() to reach Idle.
func (p *Pipeline) handleRuntimeFailure(cause error) {
	p.mu.Lock()
	p.state = types.StateFailed
	p.lastErr = &types.LastError{Message: cause.Error(), Code: "runtime_error", Timestamp: time.Now()}
	p.counters.Errors++
	p.teardownLocked(true)
	p.publishStatusLocked()
	p.mu.Unlock()

	log.Error().Err(cause).Msg("pipeline: runtime error, stopping")
}

// Health classifies current stream health from fps ratio and error
// count (§4.6 "Stream health").
func (p *Pipeline) Health(defaults config.PipelineDefaults) types.StreamHealth {
	p.mu.Lock()
	defer p.mu.Unlock()
	return healthFromCounters(p.counters, p.spec.Framerate, defaults)
}

func healthFromCounters(c types.Counters, targetFPS int, defaults config.PipelineDefaults) types.StreamHealth {
	if targetFPS <= 0 {
		return types.HealthPoor
	}
	ratio := c.InstantaneousFPS / float64(targetFPS)
	switch {
	case ratio >= defaults.HealthGoodFPSRatio && c.Errors <= defaults.HealthGoodMaxErrors:
		return types.HealthGood
	case ratio >= defaults.HealthFairFPSRatio || c.Errors <= defaults.HealthFairMaxErrors:
		return types.HealthFair
	default:
		return types.HealthPoor
	}
}

// GetStatus returns a pure-read snapshot (§6 "Status & events").
func (p *Pipeline) GetStatus() types.PipelineStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

func (p *Pipeline) statusLocked() types.PipelineStatus {
	return types.PipelineStatus{
		BuildID:                p.buildID,
		Spec:                   p.spec,
		State:                  p.state,
		CurrentEncoderProvider: p.encoderID,
		CurrentSourceProvider:  p.sourceID,
		LastError:              p.lastErr,
		StartedAt:              p.startedAt,
		Counters:               p.counters,
		Health:                 healthFromCounters(p.counters, p.spec.Framerate, p.defaults),
		CodecFallbackWarning:   p.fallback,
	}
}

func (p *Pipeline) publishStatusLocked() {
	if p.bus == nil {
		return
	}
	p.bus.Publish(bus.SubjectPipelineStatus, p.statusLocked())
}
