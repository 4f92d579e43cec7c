package modempool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeroward/skylink/pkg/config"
	"github.com/aeroward/skylink/pkg/providers"
	"github.com/aeroward/skylink/pkg/shellcmd"
	"github.com/aeroward/skylink/pkg/types"
)

func testConfig() config.ModemPoolConfig {
	return config.ModemPoolConfig{
		RefreshInterval:     10 * time.Millisecond,
		SelectionMode:       "best_score",
		AntiFlapMargin:      5,
		VPNPreCheckEnabled:  true,
		VPNPostCheckTimeout: 50 * time.Millisecond,
	}
}

type fakeVPN struct {
	connected bool
	err       error
}

func (f *fakeVPN) Connected(ctx context.Context) (bool, error) {
	return f.connected, f.err
}

func sinrPtr(v float64) *float64 { return &v }

func TestQualityScoreClampsAndIsMonotoneInSINR(t *testing.T) {
	low := types.ModemRecord{Signal: &types.SignalMetrics{SINR: sinrPtr(-10)}}
	high := types.ModemRecord{Signal: &types.SignalMetrics{SINR: sinrPtr(30)}}

	assert.Less(t, QualityScore(low), QualityScore(high))
	assert.GreaterOrEqual(t, QualityScore(high), 0.0)
	assert.LessOrEqual(t, QualityScore(high), 100.0)
}

func TestQualityScoreNeutralWhenSignalMissing(t *testing.T) {
	rec := types.ModemRecord{}
	score := QualityScore(rec)
	assert.InDelta(t, 50.0, score, 0.001)
}

func TestQualityScoreWorseLatencyLowersScore(t *testing.T) {
	good := types.ModemRecord{Latency: &types.InterfaceLatencyMetrics{JitterMs: 1, LossPct: 0}}
	bad := types.ModemRecord{Latency: &types.InterfaceLatencyMetrics{JitterMs: 90, LossPct: 50}}
	assert.Greater(t, QualityScore(good), QualityScore(bad))
}

func newPoolWithRecords(records map[string]types.ModemRecord, vpn VPNHealth, fake *shellcmd.Fake) *Pool {
	p := New(testConfig(), providers.New(), nil, vpn, fake, nil)
	p.records = records
	return p
}

func connectedRecord(iface string, gateway string, score float64) types.ModemRecord {
	return types.ModemRecord{InterfaceName: iface, Gateway: gateway, IsConnected: true, QualityScore: score}
}

func TestPickBestScoreOrdersByQualityScore(t *testing.T) {
	p := newPoolWithRecords(map[string]types.ModemRecord{
		"wwan0": connectedRecord("wwan0", "192.168.1.1", 40),
		"wwan1": connectedRecord("wwan1", "192.168.2.1", 80),
	}, nil, shellcmd.NewFake())

	best := p.pickBest(p.records, types.SelectionBestScore)
	assert.Equal(t, "wwan1", best)
}

func TestPickBestIgnoresDisconnected(t *testing.T) {
	p := newPoolWithRecords(map[string]types.ModemRecord{
		"wwan0": {InterfaceName: "wwan0", IsConnected: false, QualityScore: 99},
		"wwan1": connectedRecord("wwan1", "192.168.2.1", 10),
	}, nil, shellcmd.NewFake())

	best := p.pickBest(p.records, types.SelectionBestScore)
	assert.Equal(t, "wwan1", best)
}

func TestPickBestRoundRobinRotatesDeterministically(t *testing.T) {
	p := newPoolWithRecords(map[string]types.ModemRecord{
		"wwan0": connectedRecord("wwan0", "192.168.1.1", 10),
		"wwan1": connectedRecord("wwan1", "192.168.2.1", 90),
	}, nil, shellcmd.NewFake())

	first := p.pickBest(p.records, types.SelectionRoundRobin)
	second := p.pickBest(p.records, types.SelectionRoundRobin)
	third := p.pickBest(p.records, types.SelectionRoundRobin)

	assert.Equal(t, "wwan0", first)
	assert.Equal(t, "wwan1", second)
	assert.Equal(t, "wwan0", third)
}

func TestSelectModemRejectsUnknownTarget(t *testing.T) {
	p := newPoolWithRecords(map[string]types.ModemRecord{}, nil, shellcmd.NewFake())
	err := p.SelectModem(context.Background(), "wwan9", types.ReasonManual)
	require.Error(t, err)
	assert.IsType(t, types.StateInvariantViolationError{}, err)
}

func TestSelectModemNoopWhenAlreadyActive(t *testing.T) {
	fake := shellcmd.NewFake()
	p := newPoolWithRecords(map[string]types.ModemRecord{
		"wwan0": connectedRecord("wwan0", "192.168.1.1", 50),
	}, nil, fake)
	p.activeIface = "wwan0"

	err := p.SelectModem(context.Background(), "wwan0", types.ReasonManual)
	require.NoError(t, err)
	assert.Empty(t, fake.Calls())
}

func TestSelectModemSwitchesWhenVPNHealthy(t *testing.T) {
	fake := shellcmd.NewFake()
	fake.OnPrefix("ip route replace default", shellcmd.Result{ExitCode: 0})

	p := newPoolWithRecords(map[string]types.ModemRecord{
		"wwan0": connectedRecord("wwan0", "192.168.1.1", 50),
		"wwan1": connectedRecord("wwan1", "192.168.2.1", 90),
	}, &fakeVPN{connected: true}, fake)
	p.activeIface = "wwan0"

	err := p.SelectModem(context.Background(), "wwan1", types.ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, "wwan1", p.activeIface)
	assert.True(t, p.records["wwan1"].IsActive)
	assert.False(t, p.records["wwan0"].IsActive)
}

func TestSelectModemRollsBackWhenVPNNeverRecovers(t *testing.T) {
	fake := shellcmd.NewFake()
	fake.OnPrefix("ip route replace default", shellcmd.Result{ExitCode: 0})

	p := newPoolWithRecords(map[string]types.ModemRecord{
		"wwan0": connectedRecord("wwan0", "192.168.1.1", 50),
		"wwan1": connectedRecord("wwan1", "192.168.2.1", 90),
	}, &fakeVPN{connected: false}, fake)
	p.activeIface = "wwan0"

	err := p.SelectModem(context.Background(), "wwan1", types.ReasonManual)
	require.Error(t, err, "a switch whose VPN never recovers must be reported as a failure")
	assert.Equal(t, "wwan0", p.activeIface, "rollback should leave the previous modem active")

	calls := fake.Calls()
	require.Len(t, calls, 4, "expected the forward route switch (2 commands) plus the rollback revert (2 commands)")
	assert.Contains(t, calls[2], "192.168.1.1", "rollback must re-apply routing via the previous modem's gateway")
	assert.Contains(t, calls[2], "wwan0", "rollback must re-apply routing toward the previous modem's interface")
}

func TestRollbackWithNoPreviousModemFails(t *testing.T) {
	p := newPoolWithRecords(map[string]types.ModemRecord{}, nil, shellcmd.NewFake())
	err := p.rollbackToModem(context.Background(), "", "wwan1")
	require.Error(t, err)
	assert.IsType(t, types.StateInvariantViolationError{}, err)
}
