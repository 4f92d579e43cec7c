// Package providers implements the provider registry (C1, §4.1): a
// keyed store of pluggable implementations for each provider family,
// with availability probing and codec-adaptation fallback. The
// interfaces below are the Go shape of the duck-typed base classes in
// the original Python provider layer (app/providers/base/*.py):
// ModemProvider, VPNProvider, NetworkInterface, VideoEncoderProvider,
// VideoSourceProvider, BoardProvider.
package providers

import (
	"context"

	"github.com/aeroward/skylink/pkg/types"
)

// Provider is the minimal contract every family member satisfies.
type Provider interface {
	ID() string
	DisplayName() string
	// IsAvailable performs the (possibly expensive) liveness probe:
	// driver presence, device enumeration, tooling on PATH.
	IsAvailable(ctx context.Context) bool
}

// VideoSourceProvider handles detection and GStreamer source-bin
// construction for one class of capture device (v4l2, libcamera, HDMI
// capture, network stream).
type VideoSourceProvider interface {
	Provider
	// Discover enumerates concrete source instances currently present.
	Discover(ctx context.Context) ([]types.VideoSourceCapability, error)
	// SourceBin returns the GStreamer source-chain description (everything
	// up to, but not including, the encoder) for sourceID at the given
	// geometry, plus the caps format flowing out of the chain.
	SourceBin(sourceID string, width, height, framerate int) (gstBin string, outputFormat string, err error)
}

// VideoEncoderProvider handles one encoder implementation (hardware
// h264, software x264, MJPEG, passthrough).
type VideoEncoderProvider interface {
	Provider
	Capability() types.VideoEncoderCapability
	// EncoderBin returns the GStreamer encode+payload chain for the given
	// bitrate (kbps) and quality (0-100, MJPEG-style encoders only).
	EncoderBin(bitrateKbps, quality, gopSize int) (gstBin string, err error)
	// LiveProperties lists the element/property pairs this encoder exposes
	// for in-place adjustment (§4.6 live parameter mutation).
	LiveProperties() map[string]types.LiveProperty
}

// ModemProvider handles one modem control surface (HiLink AT/HTTP,
// ModemManager over D-Bus, or a plain router/gateway uplink with no
// direct modem control).
type ModemProvider interface {
	Provider
	// Records returns one ModemRecord per managed interface.
	Records(ctx context.Context) ([]types.ModemRecord, error)
	Capability() types.ModemCapability
	ConfigureBand(ctx context.Context, bandMask int) error
	Reboot(ctx context.Context) error
}

// VPNProvider handles one VPN mesh implementation (Tailscale, plain
// WireGuard).
type VPNProvider interface {
	Provider
	Connected(ctx context.Context) (bool, error)
	InterfaceName() string
	Peers(ctx context.Context) (int, error)
}

// NetInterfaceProvider exposes bring-up/bring-down/metric control for
// one named network interface.
type NetInterfaceProvider interface {
	Provider
	InterfaceName() string
	BringUp(ctx context.Context) error
	BringDown(ctx context.Context) error
	SetMetric(ctx context.Context, metric int) error
}

// BoardProvider declares the encoder feature set and identity of the
// physical board the daemon is running on. Codec adaptation (§4.1)
// consults DeclaredEncoders to decide what a "hardware variant" even
// means on this board.
type BoardProvider interface {
	Provider
	DeclaredEncoders() []string
}
