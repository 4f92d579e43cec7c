package videoencoder

import (
	"context"
	"fmt"

	"github.com/aeroward/skylink/pkg/types"
)

// MJPEG is the universal fallback encoder (§4.1 "MJPEG fallback").
// jpegenc ships with the base gst-plugins-good set on every supported
// board, so its IsAvailable is expected to always return true; it
// still probes rather than hardcoding true, so a stripped-down GStreamer
// install is reported honestly instead of silently assumed.
type MJPEG struct{}

func (MJPEG) ID() string          { return "mjpeg" }
func (MJPEG) DisplayName() string { return "MJPEG" }

func (MJPEG) IsAvailable(ctx context.Context) bool {
	return gstElementAvailable(ctx, "jpegenc")
}

func (MJPEG) Capability() types.VideoEncoderCapability {
	return types.VideoEncoderCapability{
		ID:                  "mjpeg",
		DisplayName:         "MJPEG",
		Priority:            10,
		CodecFamily:         "mjpeg",
		Class:               types.EncoderClassSoftware,
		Bitrate:             types.BitrateRange{Min: 1000, Max: 12000, Default: 4000},
		QualityControllable: true,
		LiveAdjustable:      true,
		Latency:             types.LatencyClassLow,
		CPUUsage:            types.CPUClassMedium,
	}
}

func (MJPEG) EncoderBin(_ int, quality int, _ int) (string, error) {
	if quality <= 0 {
		quality = 85
	}
	return fmt.Sprintf(
		"jpegenc name=encoder quality=%d ! rtpjpegpay name=payloader pt=96",
		quality,
	), nil
}

func (MJPEG) LiveProperties() map[string]types.LiveProperty {
	return map[string]types.LiveProperty{
		"quality": {ElementName: "encoder", PropertyName: "quality", Min: 1, Max: 100, Multiplier: 1},
	}
}
