// Package config holds the typed, environment-driven configuration
// records for every component (§6 "Configuration"). Each record loads
// via envconfig the way github.com/helixml/helix's api/pkg/config does,
// and exposes UpdateConfig for the runtime partial-update contract.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// LatencyConfig tunes the latency probe engine (C2, §4.2).
type LatencyConfig struct {
	Targets      []string      `envconfig:"LATENCY_TARGETS" default:"8.8.8.8,1.1.1.1,9.9.9.9"`
	Interval     time.Duration `envconfig:"LATENCY_INTERVAL" default:"2s"`
	HistorySize  int           `envconfig:"LATENCY_HISTORY_SIZE" default:"30"`
	ProbeTimeout time.Duration `envconfig:"LATENCY_PROBE_TIMEOUT" default:"2s"`
	ProbeGrace   time.Duration `envconfig:"LATENCY_PROBE_GRACE" default:"500ms"`
}

// OptimizerConfig tunes the network optimizer (C3, §4.3).
type OptimizerConfig struct {
	MTU             int           `envconfig:"OPT_MTU" default:"1420"`
	TXQueueLen      int           `envconfig:"OPT_TXQUEUELEN" default:"10000"`
	TCPCongestion   string        `envconfig:"OPT_TCP_CONGESTION" default:"bbr"`
	RmemMaxBytes    int           `envconfig:"OPT_RMEM_MAX" default:"26214400"` // 25 MiB
	WmemMaxBytes    int           `envconfig:"OPT_WMEM_MAX" default:"26214400"` // 25 MiB
	MinRTOMillis    int           `envconfig:"OPT_MIN_RTO_MS" default:"200"`
	VideoPorts      []int         `envconfig:"OPT_VIDEO_PORTS" default:"5600"`
	DSCP            int           `envconfig:"OPT_DSCP" default:"46"` // EF
	VPNTableID      int           `envconfig:"OPT_VPN_TABLE_ID" default:"100"`
	VideoTableID    int           `envconfig:"OPT_VIDEO_TABLE_ID" default:"200"`
	VPNFwmark       int           `envconfig:"OPT_VPN_FWMARK" default:"100"`
	TailscalePort   int           `envconfig:"OPT_TAILSCALE_PORT" default:"41641"`
	WireGuardPort   int           `envconfig:"OPT_WIREGUARD_PORT" default:"51820"`
	CakeUpRate      string        `envconfig:"OPT_CAKE_UP" default:"10mbit"`
	CakeDownRate    string        `envconfig:"OPT_CAKE_DOWN" default:"30mbit"`
	IFBInterface    string        `envconfig:"OPT_IFB_INTERFACE" default:"ifb0"`
	ShellOutTimeout time.Duration `envconfig:"OPT_SHELLOUT_TIMEOUT" default:"5s"`
}

// FailoverConfig tunes the auto-failover controller (C5, §4.5).
type FailoverConfig struct {
	LatencyThresholdMs  float64       `envconfig:"FAILOVER_LATENCY_THRESHOLD_MS" default:"200"`
	LatencyCheckWindow  int           `envconfig:"FAILOVER_LATENCY_CHECK_WINDOW" default:"15"`
	SwitchCooldown      time.Duration `envconfig:"FAILOVER_SWITCH_COOLDOWN" default:"30s"`
	RestoreDelay        time.Duration `envconfig:"FAILOVER_RESTORE_DELAY" default:"60s"`
	PreferredMode       string        `envconfig:"FAILOVER_PREFERRED_MODE" default:"modem"`
	CheckInterval       time.Duration `envconfig:"FAILOVER_CHECK_INTERVAL" default:"2s"`
	RestoreSafetyMargin float64       `envconfig:"FAILOVER_RESTORE_SAFETY_MARGIN" default:"0.7"`
}

// ModemPoolConfig tunes the modem pool (C4, §4.4).
type ModemPoolConfig struct {
	RefreshInterval     time.Duration `envconfig:"MODEMPOOL_REFRESH_INTERVAL" default:"5s"`
	SelectionMode       string        `envconfig:"MODEMPOOL_SELECTION_MODE" default:"best_score"`
	AntiFlapMargin      float64       `envconfig:"MODEMPOOL_ANTI_FLAP_MARGIN" default:"5"`
	VPNPreCheckEnabled  bool          `envconfig:"MODEMPOOL_VPN_PRECHECK" default:"true"`
	VPNPostCheckTimeout time.Duration `envconfig:"MODEMPOOL_VPN_POSTCHECK_TIMEOUT" default:"15s"`
}

// PipelineDefaults tunes the streaming pipeline (C6, §4.6) defaults
// applied when a PipelineSpec field is left zero-valued.
type PipelineDefaults struct {
	Width               int           `envconfig:"PIPELINE_WIDTH" default:"1280"`
	Height              int           `envconfig:"PIPELINE_HEIGHT" default:"720"`
	Framerate           int           `envconfig:"PIPELINE_FRAMERATE" default:"30"`
	BitrateKbps         int           `envconfig:"PIPELINE_BITRATE_KBPS" default:"4000"`
	GOPSize             int           `envconfig:"PIPELINE_GOP_SIZE" default:"30"`
	CounterTickInterval time.Duration `envconfig:"PIPELINE_COUNTER_TICK_INTERVAL" default:"1s"`
	HealthGoodFPSRatio  float64       `envconfig:"PIPELINE_HEALTH_GOOD_FPS_RATIO" default:"0.95"`
	HealthFairFPSRatio  float64       `envconfig:"PIPELINE_HEALTH_FAIR_FPS_RATIO" default:"0.80"`
	HealthGoodMaxErrors uint64        `envconfig:"PIPELINE_HEALTH_GOOD_MAX_ERRORS" default:"2"`
	HealthFairMaxErrors uint64        `envconfig:"PIPELINE_HEALTH_FAIR_MAX_ERRORS" default:"5"`
}

// Load populates T from the process environment using envconfig,
// applying the struct's `default` tags (§6 "typed configuration records
// with documented defaults").
func Load[T any](prefix string) (T, error) {
	var cfg T
	if err := envconfig.Process(prefix, &cfg); err != nil {
		var zero T
		return zero, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// LoadFile loads T the same way Load does, then layers an optional YAML
// file on top: fields present in the file override the envconfig-derived
// values, fields absent from the file are left untouched. A missing path
// is not an error (§6 "typed configuration records with documented
// defaults" is still satisfied by envconfig alone); path == "" skips the
// overlay entirely.
func LoadFile[T any](prefix, path string) (T, error) {
	cfg, err := Load[T](prefix)
	if err != nil {
		return cfg, err
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		var zero T
		return zero, fmt.Errorf("read config overlay %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		var zero T
		return zero, fmt.Errorf("parse config overlay %s: %w", path, err)
	}
	return cfg, nil
}
