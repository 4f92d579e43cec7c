package types

import "time"

// FailoverMode is the egress path family the failover controller
// arbitrates between (§3).
type FailoverMode string

const (
	ModeWiFi    FailoverMode = "wifi"
	ModeModem   FailoverMode = "modem"
	ModeUnknown FailoverMode = "unknown"
)

// FailoverState is the mutable state of the auto-failover state machine (§3).
type FailoverState struct {
	Active                bool
	CurrentMode           FailoverMode
	LastSwitchTS          time.Time
	ConsecutiveBadSamples int
	LastReason            string
}
