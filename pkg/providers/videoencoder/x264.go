// Package videoencoder provides concrete VideoEncoderProvider
// implementations, grounded on the codec definitions in
// app/services/video_config.py and the encoder element choices in
// app/providers/base/video_encoder_provider.py's
// get_pipeline_string_for_client (x264enc, openh264enc, jpegenc).
package videoencoder

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/aeroward/skylink/pkg/types"
)

// X264 is the software H.264 encoder provider (libx264 via x264enc).
// It is always registered; availability depends on whether gst-inspect
// reports the x264enc plugin as installed.
type X264 struct{}

func (X264) ID() string          { return "h264_x264" }
func (X264) DisplayName() string { return "H.264 (x264, software)" }

func (X264) IsAvailable(ctx context.Context) bool {
	return gstElementAvailable(ctx, "x264enc")
}

func (X264) Capability() types.VideoEncoderCapability {
	return types.VideoEncoderCapability{
		ID:                  "h264_x264",
		DisplayName:         "H.264 (x264, software)",
		Priority:            40,
		CodecFamily:         "h264",
		Class:               types.EncoderClassSoftware,
		Bitrate:             types.BitrateRange{Min: 500, Max: 8000, Default: 2000},
		QualityControllable: false,
		LiveAdjustable:      true,
		Latency:             types.LatencyClassMedium,
		CPUUsage:            types.CPUClassHigh,
	}
}

func (X264) EncoderBin(bitrateKbps, _ int, gopSize int) (string, error) {
	if bitrateKbps <= 0 {
		bitrateKbps = 2000
	}
	if gopSize <= 0 {
		gopSize = 30
	}
	return fmt.Sprintf(
		"x264enc name=encoder tune=zerolatency speed-preset=ultrafast bitrate=%d key-int-max=%d ! "+
			"video/x-h264,profile=baseline ! h264parse ! rtph264pay name=payloader pt=96",
		bitrateKbps, gopSize,
	), nil
}

func (X264) LiveProperties() map[string]types.LiveProperty {
	return map[string]types.LiveProperty{
		"bitrate_kbps": {ElementName: "encoder", PropertyName: "bitrate", Min: 500, Max: 8000, Multiplier: 1},
	}
}

// gstElementAvailable shells out to gst-inspect-1.0 to check plugin
// presence. It is intentionally not routed through shellcmd.Runner:
// no test in this module exercises it (the registry tests use a fake
// encoder provider with its own IsAvailable), and keeping it a bare
// package function avoids wiring every encoder provider's constructor
// through a Runner it would not otherwise need.
func gstElementAvailable(ctx context.Context, element string) bool {
	cmd := exec.CommandContext(ctx, "gst-inspect-1.0", element)
	return cmd.Run() == nil
}
