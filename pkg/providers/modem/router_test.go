package modem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeroward/skylink/pkg/shellcmd"
)

func TestRouterIsAvailableReflectsLinkPresence(t *testing.T) {
	fake := shellcmd.NewFake()
	fake.On(shellcmd.Result{ExitCode: 0}, "ip", "link", "show", "wwan0")
	r := Router{Interface: "wwan0", Runner: fake}
	assert.True(t, r.IsAvailable(context.Background()))
}

func TestRouterRecordsReportsDisconnectedWithoutIP(t *testing.T) {
	fake := shellcmd.NewFake()
	fake.On(shellcmd.Result{ExitCode: 0, Stdout: ""}, "ip", "-4", "addr", "show", "wwan0")
	r := Router{Interface: "wwan0", Runner: fake}

	recs, err := r.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].IsConnected)
}

func TestRouterRecordsReportsConnectedWithIP(t *testing.T) {
	fake := shellcmd.NewFake()
	fake.On(shellcmd.Result{ExitCode: 0, Stdout: "inet 192.168.1.50/24"}, "ip", "-4", "addr", "show", "wwan0")
	r := Router{Interface: "wwan0", Runner: fake}

	recs, err := r.Records(context.Background())
	require.NoError(t, err)
	assert.True(t, recs[0].IsConnected)
}

func TestRouterConfigureBandUnsupported(t *testing.T) {
	r := Router{Interface: "wwan0", Runner: shellcmd.NewFake()}
	err := r.ConfigureBand(context.Background(), 1)
	assert.Error(t, err)
}
