package vpn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeroward/skylink/pkg/shellcmd"
)

const statusJSON = `{
  "BackendState": "Running",
  "Self": {"TailscaleIPs": ["100.64.0.1"]},
  "Peer": {"a": {}, "b": {}}
}`

func TestTailscaleConnectedTrueWhenRunning(t *testing.T) {
	fake := shellcmd.NewFake()
	fake.On(shellcmd.Result{ExitCode: 0, Stdout: statusJSON}, "tailscale", "status", "--json")

	ts := Tailscale{Runner: fake}
	connected, err := ts.Connected(context.Background())
	require.NoError(t, err)
	assert.True(t, connected)
}

func TestTailscalePeersCount(t *testing.T) {
	fake := shellcmd.NewFake()
	fake.On(shellcmd.Result{ExitCode: 0, Stdout: statusJSON}, "tailscale", "status", "--json")

	ts := Tailscale{Runner: fake}
	n, err := ts.Peers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestTailscaleStatusErrorPropagates(t *testing.T) {
	fake := shellcmd.NewFake()
	fake.On(shellcmd.Result{ExitCode: 1, Stderr: "Logged out"}, "tailscale", "status", "--json")

	ts := Tailscale{Runner: fake}
	_, err := ts.Connected(context.Background())
	assert.Error(t, err)
}
