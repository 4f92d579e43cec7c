package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aeroward/skylink/pkg/config"
	"github.com/aeroward/skylink/pkg/types"
)

func testDefaults() config.PipelineDefaults {
	return config.PipelineDefaults{
		Width: 1280, Height: 720, Framerate: 30, BitrateKbps: 4000, GOPSize: 30,
		HealthGoodFPSRatio: 0.95, HealthFairFPSRatio: 0.80,
		HealthGoodMaxErrors: 2, HealthFairMaxErrors: 5,
	}
}

func TestApplyDefaultsFillsZeroFields(t *testing.T) {
	p := New(nil, testDefaults(), nil)
	spec := p.applyDefaults(types.PipelineSpec{})

	assert.Equal(t, 1280, spec.Width)
	assert.Equal(t, 720, spec.Height)
	assert.Equal(t, 30, spec.Framerate)
	assert.Equal(t, 4000, spec.BitrateKbps)
	assert.Equal(t, 30, spec.GOPSize)
	assert.Equal(t, types.SinkUDPUnicast, spec.SinkMode)
}

func TestApplyDefaultsPreservesExplicitFields(t *testing.T) {
	p := New(nil, testDefaults(), nil)
	spec := p.applyDefaults(types.PipelineSpec{Width: 640, SinkMode: types.SinkRTSP})

	assert.Equal(t, 640, spec.Width)
	assert.Equal(t, types.SinkRTSP, spec.SinkMode)
}

func TestValidateEncoderConfigRejectsOutOfRangeBitrate(t *testing.T) {
	cap := types.VideoEncoderCapability{ID: "h264_hw", Bitrate: types.BitrateRange{Min: 500, Max: 8000}}
	err := validateEncoderConfig(cap, types.PipelineSpec{BitrateKbps: 10000})
	assert.Error(t, err)
	assert.IsType(t, types.InvalidConfigurationError{}, err)
}

func TestValidateEncoderConfigAcceptsInRangeBitrate(t *testing.T) {
	cap := types.VideoEncoderCapability{ID: "h264_hw", Bitrate: types.BitrateRange{Min: 500, Max: 8000}}
	err := validateEncoderConfig(cap, types.PipelineSpec{BitrateKbps: 4000})
	assert.NoError(t, err)
}

func TestSinkBinForUDPUnicastUsesDefaultsWhenUnset(t *testing.T) {
	bin, err := sinkBinFor(types.PipelineSpec{SinkMode: types.SinkUDPUnicast, SinkParams: map[string]string{}})
	assert.NoError(t, err)
	assert.Contains(t, bin, "127.0.0.1")
	assert.Contains(t, bin, "5600")
}

func TestSinkBinForRejectsUnknownMode(t *testing.T) {
	_, err := sinkBinFor(types.PipelineSpec{SinkMode: "bogus"})
	assert.Error(t, err)
	assert.IsType(t, types.InvalidConfigurationError{}, err)
}

func TestClampRestrictsToRange(t *testing.T) {
	assert.Equal(t, 10.0, clamp(5, 10, 100))
	assert.Equal(t, 100.0, clamp(500, 10, 100))
	assert.Equal(t, 50.0, clamp(50, 10, 100))
}

func TestHealthFromCountersGoodWhenFPSAndErrorsNominal(t *testing.T) {
	d := testDefaults()
	c := types.Counters{InstantaneousFPS: 30, Errors: 0}
	assert.Equal(t, types.HealthGood, healthFromCounters(c, 30, d))
}

func TestHealthFromCountersPoorWhenFPSLowAndErrorsHigh(t *testing.T) {
	d := testDefaults()
	c := types.Counters{InstantaneousFPS: 10, Errors: 10}
	assert.Equal(t, types.HealthPoor, healthFromCounters(c, 30, d))
}

func TestHealthFromCountersFairWhenFPSModerate(t *testing.T) {
	d := testDefaults()
	c := types.Counters{InstantaneousFPS: 25, Errors: 1}
	assert.Equal(t, types.HealthFair, healthFromCounters(c, 30, d))
}

func TestEstimateRTSPRatesZeroesCountersWithoutClients(t *testing.T) {
	p := New(nil, testDefaults(), nil)
	p.spec = types.PipelineSpec{Framerate: 30, BitrateKbps: 4000, SinkMode: types.SinkRTSP}
	p.rtspClientsConnected = 0
	p.counters.Frames = 100

	p.estimateRTSPRatesLocked(1.0)

	assert.Equal(t, uint64(0), p.counters.Frames)
	assert.Equal(t, 0.0, p.counters.InstantaneousFPS)
}

func TestEstimateRTSPRatesAccumulatesWithClientConnected(t *testing.T) {
	p := New(nil, testDefaults(), nil)
	p.spec = types.PipelineSpec{Framerate: 30, BitrateKbps: 4000, SinkMode: types.SinkRTSP}
	p.rtspClientsConnected = 1

	p.estimateRTSPRatesLocked(1.0)

	assert.Equal(t, float64(30), p.counters.InstantaneousFPS)
	assert.Equal(t, float64(4000), p.counters.InstantaneousKbps)
	assert.Greater(t, p.counters.Frames, uint64(0))
}
