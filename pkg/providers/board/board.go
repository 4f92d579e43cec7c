// Package board provides the BoardProvider implementation, grounded on
// app/providers/board/board_provider.py's detection-criteria contract
// (CPU model string match against /proc/cpuinfo) but simplified to just
// the encoder-declaration surface codec adaptation (§4.1) actually
// needs: this module does not carry the original's full
// variant/storage-detection machinery, since nothing in the streaming
// and network-adaptation engine consumes it.
package board

import (
	"context"
	"os"
	"strings"
)

// Declared is a board whose identity and declared encoder set are
// supplied directly (from configuration or auto-detection at startup)
// rather than re-derived from hardcoded per-board detection rules.
type Declared struct {
	Name             string
	CPUModelContains string
	Encoders         []string
}

func (d Declared) ID() string          { return d.Name }
func (d Declared) DisplayName() string { return d.Name }

// IsAvailable checks /proc/cpuinfo for the board's declared CPU model
// substring, the same detection primitive
// BoardProvider._check_detection_criteria uses.
func (d Declared) IsAvailable(ctx context.Context) bool {
	if d.CPUModelContains == "" {
		return true
	}
	content, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return false
	}
	return strings.Contains(string(content), d.CPUModelContains)
}

func (d Declared) DeclaredEncoders() []string { return d.Encoders }

// Generic is the fallback board used when no specific board profile
// detects: it declares only software and passthrough encoders, so codec adaptation
// still has somewhere to land on unrecognized hardware.
var Generic = Declared{
	Name:     "generic",
	Encoders: []string{"h264_x264", "mjpeg", "h264_passthrough", "mjpeg_passthrough"},
}
