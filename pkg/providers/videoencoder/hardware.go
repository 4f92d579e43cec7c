package videoencoder

import (
	"context"
	"fmt"

	"github.com/aeroward/skylink/pkg/types"
)

// Hardware is the board-declared hardware H.264 encoder (v4l2h264enc on
// boards exposing a V4L2 M2M stateful encoder, e.g. Rockchip/Amlogic
// VPU units). Which GStreamer element backs it is board-specific; the
// caller that constructs it sets GstElement (cmd/skylinkd uses
// "v4l2h264enc"), so one provider type covers every hardware variant
// instead of one Go type per board.
type Hardware struct {
	GstElement string
}

func (h Hardware) ID() string          { return "h264_hw" }
func (h Hardware) DisplayName() string { return "H.264 (hardware)" }

func (h Hardware) IsAvailable(ctx context.Context) bool {
	if h.GstElement == "" {
		return false
	}
	return gstElementAvailable(ctx, h.GstElement)
}

func (h Hardware) Capability() types.VideoEncoderCapability {
	return types.VideoEncoderCapability{
		ID:                  "h264_hw",
		DisplayName:         "H.264 (hardware)",
		Priority:            90,
		CodecFamily:         "h264",
		Class:               types.EncoderClassHardware,
		Bitrate:             types.BitrateRange{Min: 500, Max: 12000, Default: 3000},
		QualityControllable: false,
		LiveAdjustable:      true,
		Latency:             types.LatencyClassLow,
		CPUUsage:            types.CPUClassLow,
	}
}

func (h Hardware) EncoderBin(bitrateKbps, _ int, gopSize int) (string, error) {
	if bitrateKbps <= 0 {
		bitrateKbps = 3000
	}
	if gopSize <= 0 {
		gopSize = 30
	}
	return fmt.Sprintf(
		"%s name=encoder extra-controls=\"controls,video_bitrate=%d,video_gop_size=%d\" ! "+
			"h264parse ! rtph264pay name=payloader pt=96",
		h.GstElement, bitrateKbps*1000, gopSize,
	), nil
}

func (h Hardware) LiveProperties() map[string]types.LiveProperty {
	return map[string]types.LiveProperty{
		// v4l2 M2M encoders expose bitrate through extra-controls rather
		// than a plain integer property; FormatTemplate lets the pipeline
		// rebuild the whole control string on each live update.
		"bitrate_kbps": {
			ElementName:    "encoder",
			PropertyName:   "extra-controls",
			Min:            500,
			Max:            12000,
			Multiplier:     1000,
			FormatTemplate: "controls,video_bitrate=%d",
		},
	}
}
