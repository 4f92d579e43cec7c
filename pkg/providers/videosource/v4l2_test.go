package videosource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeroward/skylink/pkg/shellcmd"
	"github.com/aeroward/skylink/pkg/types"
)

const infoOutput = `Driver Info:
	Driver name      : uvcvideo
	Card type        : HD Camera
	Bus info         : usb-0000:01:00.0-1
`

const formatsOutput = `ioctl: VIDIOC_ENUM_FMT
	[0]: 'YUYV' (YUYV 4:2:2)
		Size: Discrete 1280x720
			Interval: Discrete 0.033s (30.000 fps)
		Size: Discrete 640x480
			Interval: Discrete 0.033s (30.000 fps)
	[1]: 'MJPG' (Motion-JPEG, compressed)
		Size: Discrete 1920x1080
			Interval: Discrete 0.033s (30.000 fps)
`

func TestV4L2ProbeParsesIdentityAndFormats(t *testing.T) {
	fake := shellcmd.NewFake()
	fake.On(shellcmd.Result{Stdout: infoOutput, ExitCode: 0}, "v4l2-ctl", "-d", "/dev/video0", "--info")
	fake.On(shellcmd.Result{Stdout: formatsOutput, ExitCode: 0}, "v4l2-ctl", "-d", "/dev/video0", "--list-formats-ext")

	v := V4L2{Runner: fake}
	cap, ok := v.probe(context.Background(), "/dev/video0")
	require.True(t, ok)

	assert.Equal(t, "HD Camera", cap.Identity.CardName)
	assert.Equal(t, "uvcvideo", cap.Identity.Driver)
	assert.Contains(t, cap.PixelFormats, "MJPG")
	assert.True(t, cap.PreCompressed)
	assert.ElementsMatch(t, cap.SupportedResolutions, []types.Resolution{
		{Width: 1280, Height: 720},
		{Width: 640, Height: 480},
		{Width: 1920, Height: 1080},
	})
	assert.Equal(t, []int{30}, cap.FrameratesByResolution["1280x720"])
}

func TestV4L2ProbeFailsOnUnreachableDevice(t *testing.T) {
	fake := shellcmd.NewFake()
	v := V4L2{Runner: fake}
	_, ok := v.probe(context.Background(), "/dev/video9")
	assert.False(t, ok)
}

func TestFindByIdentityExactMatchWinsOverNameOnly(t *testing.T) {
	candidates := []types.VideoSourceCapability{
		{ID: "/dev/video0", Identity: types.DeviceIdentity{CardName: "HD Camera", BusInfo: "usb-0000:01:00.0-1"}},
		{ID: "/dev/video2", Identity: types.DeviceIdentity{CardName: "HD Camera", BusInfo: "usb-0000:02:00.0-1"}},
	}
	id, ok := FindByIdentity(candidates, types.DeviceIdentity{CardName: "HD Camera", BusInfo: "usb-0000:02:00.0-1"})
	require.True(t, ok)
	assert.Equal(t, "/dev/video2", id)
}

func TestFindByIdentityFallsBackToNameMatch(t *testing.T) {
	candidates := []types.VideoSourceCapability{
		{ID: "/dev/video0", Identity: types.DeviceIdentity{CardName: "HD Camera", BusInfo: "usb-0000:01:00.0-1"}},
	}
	id, ok := FindByIdentity(candidates, types.DeviceIdentity{CardName: "HD Camera", BusInfo: "usb-9999"})
	require.True(t, ok)
	assert.Equal(t, "/dev/video0", id)
}
