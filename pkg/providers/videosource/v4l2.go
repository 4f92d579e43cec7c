// Package videosource provides concrete VideoSourceProvider
// implementations, grounded on app/providers/base/video_source_provider.py
// and the device-identity matching semantics described in
// app/services/video_config.py (get_device_identity/find_device_by_identity).
package videosource

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aeroward/skylink/pkg/shellcmd"
	"github.com/aeroward/skylink/pkg/types"
)

const shellcmdTimeout = 3 * time.Second

// V4L2 discovers /dev/videoN capture devices via v4l2-ctl. It is the
// default source type on every Linux board with a USB or CSI camera.
type V4L2 struct {
	Runner shellcmd.Runner
}

func (V4L2) ID() string          { return "v4l2" }
func (V4L2) DisplayName() string { return "V4L2 camera" }

func (v V4L2) IsAvailable(ctx context.Context) bool {
	res := v.Runner.Run(ctx, shellcmdTimeout, "v4l2-ctl", "--list-devices")
	return res.Succeeded()
}

var devNodeRE = regexp.MustCompile(`^/dev/video(\d+)$`)

// Discover enumerates /dev/video* nodes and queries each for its
// supported formats/resolutions/framerates via v4l2-ctl. Devices that
// only expose metadata or still-image formats (no streaming caps) are
// skipped.
func (v V4L2) Discover(ctx context.Context) ([]types.VideoSourceCapability, error) {
	entries, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("v4l2: glob /dev/video*: %w", err)
	}
	sort.Strings(entries)

	var out []types.VideoSourceCapability
	for _, dev := range entries {
		if !devNodeRE.MatchString(dev) {
			continue
		}
		cap, ok := v.probe(ctx, dev)
		if ok {
			out = append(out, cap)
		}
	}
	return out, nil
}

func (v V4L2) probe(ctx context.Context, dev string) (types.VideoSourceCapability, bool) {
	infoRes := v.Runner.Run(ctx, shellcmdTimeout, "v4l2-ctl", "-d", dev, "--info")
	if !infoRes.Succeeded() {
		return types.VideoSourceCapability{}, false
	}
	identity := parseIdentity(infoRes.Stdout)

	fmtRes := v.Runner.Run(ctx, shellcmdTimeout, "v4l2-ctl", "-d", dev, "--list-formats-ext")
	pixelFormats, frameratesByRes, resolutions, preCompressed := parseFormats(fmtRes.Stdout)
	if len(resolutions) == 0 {
		return types.VideoSourceCapability{}, false
	}

	return types.VideoSourceCapability{
		ID:                     dev,
		DisplayName:            identity.CardName,
		Priority:               50,
		SupportedResolutions:   resolutions,
		FrameratesByResolution: frameratesByRes,
		PixelFormats:           pixelFormats,
		PreCompressed:          preCompressed,
		Identity:               identity,
	}, true
}

func parseIdentity(infoOutput string) types.DeviceIdentity {
	var id types.DeviceIdentity
	for _, line := range strings.Split(infoOutput, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Card type"):
			id.CardName = fieldAfterColon(line)
		case strings.HasPrefix(line, "Driver name"):
			id.Driver = fieldAfterColon(line)
		case strings.HasPrefix(line, "Bus info"):
			id.BusInfo = fieldAfterColon(line)
		}
	}
	return id
}

func fieldAfterColon(line string) string {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(line[i+1:])
}

var (
	pixFmtRE = regexp.MustCompile(`^\s*\[\d+\]:\s*'(\w+)'`)
	sizeRE   = regexp.MustCompile(`Size:\s*\S+\s+(\d+)x(\d+)`)
	fpsRE    = regexp.MustCompile(`\((\d+(?:\.\d+)?)\s*fps\)`)
)

func parseFormats(output string) (pixelFormats []string, frameratesByRes map[string][]int, resolutions []types.Resolution, preCompressed bool) {
	frameratesByRes = make(map[string][]int)
	seenRes := make(map[string]bool)
	var currentFormat string

	for _, line := range strings.Split(output, "\n") {
		if m := pixFmtRE.FindStringSubmatch(line); m != nil {
			currentFormat = m[1]
			pixelFormats = append(pixelFormats, currentFormat)
			if currentFormat == "MJPG" || currentFormat == "H264" {
				preCompressed = true
			}
			continue
		}
		if m := sizeRE.FindStringSubmatch(line); m != nil {
			w, _ := strconv.Atoi(m[1])
			h, _ := strconv.Atoi(m[2])
			key := fmt.Sprintf("%dx%d", w, h)
			if !seenRes[key] {
				seenRes[key] = true
				resolutions = append(resolutions, types.Resolution{Width: w, Height: h})
			}
			continue
		}
		if m := fpsRE.FindStringSubmatch(line); m != nil && len(resolutions) > 0 {
			last := resolutions[len(resolutions)-1]
			key := fmt.Sprintf("%dx%d", last.Width, last.Height)
			fps, _ := strconv.ParseFloat(m[1], 64)
			frameratesByRes[key] = appendUniqueInt(frameratesByRes[key], int(fps+0.5))
		}
	}
	return pixelFormats, frameratesByRes, resolutions, preCompressed
}

func appendUniqueInt(s []int, v int) []int {
	for _, e := range s {
		if e == v {
			return s
		}
	}
	return append(s, v)
}

// SourceBin builds the v4l2src chain. It always negotiates raw caps and
// reports "video/x-raw" as the output format; MJPG or H264 capture
// formats are not selected here, even on devices that offer them.
func (v V4L2) SourceBin(sourceID string, width, height, framerate int) (string, string, error) {
	if !devNodeRE.MatchString(sourceID) {
		return "", "", fmt.Errorf("v4l2: invalid source id %q", sourceID)
	}
	// Raw caps only; the pipeline builder does not read SourceFormatHint.
	bin := fmt.Sprintf(
		"v4l2src device=%s ! video/x-raw,width=%d,height=%d,framerate=%d/1",
		sourceID, width, height, framerate,
	)
	return bin, "video/x-raw", nil
}
