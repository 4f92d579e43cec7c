package videoencoder

import (
	"context"
	"fmt"

	"github.com/aeroward/skylink/pkg/types"
)

// Passthrough forwards an already-compressed source (a camera that
// emits H.264 or MJPEG natively) straight to the payloader, skipping a
// software/hardware encode entirely. It is always available: it has no
// external dependency beyond the rtp payloaders that ship with
// gst-plugins-good.
type Passthrough struct {
	Family string // "h264" or "mjpeg"
}

func (p Passthrough) ID() string          { return p.Family + "_passthrough" }
func (p Passthrough) DisplayName() string { return "Passthrough (" + p.Family + ")" }

func (p Passthrough) IsAvailable(ctx context.Context) bool {
	switch p.Family {
	case "h264":
		return gstElementAvailable(ctx, "rtph264pay")
	case "mjpeg":
		return gstElementAvailable(ctx, "rtpjpegpay")
	default:
		return false
	}
}

func (p Passthrough) Capability() types.VideoEncoderCapability {
	return types.VideoEncoderCapability{
		ID:                  p.Family + "_passthrough",
		DisplayName:         "Passthrough (" + p.Family + ")",
		Priority:            100, // sorts first in AvailableEncoders; AdaptCodec picks passthrough only on an exact id match
		CodecFamily:         p.Family,
		Class:               types.EncoderClassPassthrough,
		Bitrate:             types.BitrateRange{Min: 0, Max: 0, Default: 0},
		QualityControllable: false,
		LiveAdjustable:      false,
		Latency:             types.LatencyClassLow,
		CPUUsage:            types.CPUClassLow,
	}
}

func (p Passthrough) EncoderBin(_ int, _ int, _ int) (string, error) {
	switch p.Family {
	case "h264":
		return "h264parse ! rtph264pay name=payloader pt=96", nil
	case "mjpeg":
		return "rtpjpegpay name=payloader pt=96", nil
	default:
		return "", fmt.Errorf("passthrough: unsupported family %q", p.Family)
	}
}

func (p Passthrough) LiveProperties() map[string]types.LiveProperty {
	return nil
}
