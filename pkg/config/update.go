package config

import (
	"fmt"
	"time"
)

// UpdateConfig applies a partial update to a LatencyConfig, validating
// each provided field and leaving every other field untouched (§6
// "mutable at runtime through update_config(**partial) methods").
func (c *LatencyConfig) UpdateConfig(partial map[string]any) error {
	for k, v := range partial {
		switch k {
		case "interval":
			d, err := asDuration(v)
			if err != nil || d <= 0 {
				return fmt.Errorf("update_config: interval must be a positive duration, got %v", v)
			}
			c.Interval = d
		case "history_size":
			n, ok := asInt(v)
			if !ok || n <= 0 {
				return fmt.Errorf("update_config: history_size must be a positive int, got %v", v)
			}
			c.HistorySize = n
		case "probe_timeout":
			d, err := asDuration(v)
			if err != nil || d <= 0 {
				return fmt.Errorf("update_config: probe_timeout must be a positive duration, got %v", v)
			}
			c.ProbeTimeout = d
		default:
			return fmt.Errorf("update_config: unknown field %q", k)
		}
	}
	return nil
}

// UpdateConfig applies a partial update to an OptimizerConfig.
func (c *OptimizerConfig) UpdateConfig(partial map[string]any) error {
	for k, v := range partial {
		switch k {
		case "mtu":
			n, ok := asInt(v)
			if !ok || n < 576 || n > 9000 {
				return fmt.Errorf("update_config: mtu out of range [576,9000], got %v", v)
			}
			c.MTU = n
		case "tcp_congestion":
			s, ok := v.(string)
			if !ok || s == "" {
				return fmt.Errorf("update_config: tcp_congestion must be a non-empty string")
			}
			c.TCPCongestion = s
		case "cake_up":
			s, ok := v.(string)
			if !ok || s == "" {
				return fmt.Errorf("update_config: cake_up must be a non-empty string")
			}
			c.CakeUpRate = s
		case "cake_down":
			s, ok := v.(string)
			if !ok || s == "" {
				return fmt.Errorf("update_config: cake_down must be a non-empty string")
			}
			c.CakeDownRate = s
		default:
			return fmt.Errorf("update_config: unknown field %q", k)
		}
	}
	return nil
}

// UpdateConfig applies a partial update to a FailoverConfig.
func (c *FailoverConfig) UpdateConfig(partial map[string]any) error {
	for k, v := range partial {
		switch k {
		case "latency_threshold_ms":
			f, ok := asFloat(v)
			if !ok || f <= 0 {
				return fmt.Errorf("update_config: latency_threshold_ms must be positive, got %v", v)
			}
			c.LatencyThresholdMs = f
		case "latency_check_window":
			n, ok := asInt(v)
			if !ok || n <= 0 {
				return fmt.Errorf("update_config: latency_check_window must be positive, got %v", v)
			}
			c.LatencyCheckWindow = n
		case "switch_cooldown":
			d, err := asDuration(v)
			if err != nil || d < 0 {
				return fmt.Errorf("update_config: switch_cooldown must be a non-negative duration, got %v", v)
			}
			c.SwitchCooldown = d
		case "restore_delay":
			d, err := asDuration(v)
			if err != nil || d < 0 {
				return fmt.Errorf("update_config: restore_delay must be a non-negative duration, got %v", v)
			}
			c.RestoreDelay = d
		case "preferred_mode":
			s, ok := v.(string)
			if !ok || (s != "wifi" && s != "modem") {
				return fmt.Errorf("update_config: preferred_mode must be wifi or modem, got %v", v)
			}
			c.PreferredMode = s
		default:
			return fmt.Errorf("update_config: unknown field %q", k)
		}
	}
	return nil
}

// UpdateConfig applies a partial update to a ModemPoolConfig.
func (c *ModemPoolConfig) UpdateConfig(partial map[string]any) error {
	for k, v := range partial {
		switch k {
		case "selection_mode":
			s, ok := v.(string)
			if !ok || s == "" {
				return fmt.Errorf("update_config: selection_mode must be a non-empty string")
			}
			c.SelectionMode = s
		case "anti_flap_margin":
			f, ok := asFloat(v)
			if !ok || f < 0 {
				return fmt.Errorf("update_config: anti_flap_margin must be non-negative, got %v", v)
			}
			c.AntiFlapMargin = f
		case "vpn_precheck_enabled":
			b, ok := v.(bool)
			if !ok {
				return fmt.Errorf("update_config: vpn_precheck_enabled must be a bool")
			}
			c.VPNPreCheckEnabled = b
		default:
			return fmt.Errorf("update_config: unknown field %q", k)
		}
	}
	return nil
}

// UpdateConfig applies a partial update to a PipelineDefaults.
func (c *PipelineDefaults) UpdateConfig(partial map[string]any) error {
	for k, v := range partial {
		switch k {
		case "bitrate_kbps":
			n, ok := asInt(v)
			if !ok || n <= 0 {
				return fmt.Errorf("update_config: bitrate_kbps must be positive, got %v", v)
			}
			c.BitrateKbps = n
		case "gop_size":
			n, ok := asInt(v)
			if !ok || n <= 0 {
				return fmt.Errorf("update_config: gop_size must be positive, got %v", v)
			}
			c.GOPSize = n
		case "counter_tick_interval":
			d, err := asDuration(v)
			if err != nil || d <= 0 {
				return fmt.Errorf("update_config: counter_tick_interval must be a positive duration, got %v", v)
			}
			c.CounterTickInterval = d
		default:
			return fmt.Errorf("update_config: unknown field %q", k)
		}
	}
	return nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func asDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case string:
		return time.ParseDuration(d)
	default:
		return 0, fmt.Errorf("not a duration: %v", v)
	}
}
