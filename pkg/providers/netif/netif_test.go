package netif

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aeroward/skylink/pkg/shellcmd"
)

func TestGenericBringUpFailurePropagatesStderr(t *testing.T) {
	fake := shellcmd.NewFake()
	fake.On(shellcmd.Result{ExitCode: 1, Stderr: "Cannot find device \"wlan9\""}, "ip", "link", "set", "wlan9", "up")

	g := Generic{Name: "wlan9", Runner: fake}
	err := g.BringUp(context.Background())
	assert.ErrorContains(t, err, "wlan9")
}

func TestGenericSetMetric(t *testing.T) {
	fake := shellcmd.NewFake()
	fake.On(shellcmd.Result{ExitCode: 0}, "ip", "route", "change", "default", "dev", "wlan0", "metric", "50")

	g := Generic{Name: "wlan0", Runner: fake}
	assert.NoError(t, g.SetMetric(context.Background(), 50))
}
