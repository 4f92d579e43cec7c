package netopt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeroward/skylink/pkg/config"
	"github.com/aeroward/skylink/pkg/shellcmd"
)

func testConfig() config.OptimizerConfig {
	return config.OptimizerConfig{
		MTU:             1420,
		TXQueueLen:      10000,
		TCPCongestion:   "bbr",
		RmemMaxBytes:    26214400,
		WmemMaxBytes:    26214400,
		MinRTOMillis:    200,
		VideoPorts:      []int{5600},
		DSCP:            46,
		VPNTableID:      100,
		VideoTableID:    200,
		VPNFwmark:       100,
		TailscalePort:   41641,
		WireGuardPort:   51820,
		CakeUpRate:      "10mbit",
		CakeDownRate:    "30mbit",
		IFBInterface:    "ifb0",
		ShellOutTimeout: time.Second,
	}
}

func allowEverything(fake *shellcmd.Fake) {
	fake.OnPrefix("", shellcmd.Result{ExitCode: 0})
}

func TestParseMTU(t *testing.T) {
	n, ok := parseMTU("2: wwan0: <BROADCAST,MULTICAST> mtu 1500 qdisc noqueue")
	require.True(t, ok)
	assert.Equal(t, 1500, n)
}

func TestParseMTUMissing(t *testing.T) {
	_, ok := parseMTU("no mtu token here")
	assert.False(t, ok)
}

func TestEnableSnapshotsAndAppliesSteps(t *testing.T) {
	fake := shellcmd.NewFake()
	fake.On(shellcmd.Result{ExitCode: 0, Stdout: "1: wwan0 mtu 1500 qdisc noqueue"}, "ip", "link", "show", "wwan0")
	fake.On(shellcmd.Result{ExitCode: 0, Stdout: "cubic"}, "sysctl", "-n", "net.ipv4.tcp_congestion_control")
	fake.On(shellcmd.Result{ExitCode: 0, Stdout: "212992"}, "sysctl", "-n", "net.core.rmem_max")
	fake.On(shellcmd.Result{ExitCode: 0, Stdout: "212992"}, "sysctl", "-n", "net.core.wmem_max")
	allowEverything(fake)

	o := New(testConfig(), fake, nil)
	report := o.Enable(context.Background(), "wwan0", "192.168.8.1")

	assert.True(t, o.State().Active)
	assert.Equal(t, "wwan0", o.State().Interface)
	assert.Equal(t, "1500", o.State().OriginalSettings["mtu"])
	assert.NotEmpty(t, report.Steps)
}

func TestDisableRestoresAndClearsState(t *testing.T) {
	fake := shellcmd.NewFake()
	allowEverything(fake)

	o := New(testConfig(), fake, nil)
	o.state.Active = true
	o.state.Interface = "wwan0"
	o.state.OriginalSettings = map[string]string{"mtu": "1500", "tcp_congestion": "cubic"}

	o.Disable(context.Background())
	assert.False(t, o.State().Active)
	assert.Empty(t, o.State().OriginalSettings)
}

func TestConfigureVPNRoutingRequiresGatewayWhenEnabling(t *testing.T) {
	fake := shellcmd.NewFake()
	o := New(testConfig(), fake, nil)
	step := o.configureVPNRouting(context.Background(), "", true)
	assert.False(t, step.Applied)
}
