package videosource

import (
	"context"
	"fmt"

	"github.com/aeroward/skylink/pkg/types"
)

// Network is a source provider for pre-encoded network streams (RTSP
// cameras, a companion system already emitting RTP on a local port).
// Unlike V4L2 there is nothing to "discover" on the host: every source
// instance is declared up front by the caller (typically from
// configuration) because there is no local bus to enumerate.
type Network struct {
	Declared []types.VideoSourceCapability
}

func (Network) ID() string          { return "network" }
func (Network) DisplayName() string { return "Network stream" }

func (Network) IsAvailable(context.Context) bool { return true }

func (n Network) Discover(context.Context) ([]types.VideoSourceCapability, error) {
	return n.Declared, nil
}

// SourceBin builds a udpsrc chain. The output format is
// "application/x-rtp" for a declared source marked PreCompressed and
// "video/x-raw" otherwise; no depayloader is added here or by the
// pipeline builder.
func (n Network) SourceBin(sourceID string, _, _, _ int) (string, string, error) {
	for _, c := range n.Declared {
		if c.ID == sourceID {
			format := "video/x-raw"
			if c.PreCompressed {
				format = "application/x-rtp"
			}
			return "udpsrc name=source", format, nil
		}
	}
	return "", "", fmt.Errorf("network: unknown declared source %q", sourceID)
}
