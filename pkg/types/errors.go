package types

import "fmt"

// NoProviderAvailableError is returned when the provider registry has no
// provider registered under the requested family/id, or the provider
// failed its availability probe.
type NoProviderAvailableError struct {
	Family string
	ID     string
}

func (e NoProviderAvailableError) Error() string {
	return fmt.Sprintf("no provider available: family=%s id=%s", e.Family, e.ID)
}

// InvalidConfigurationError reports a build-time rejection of a
// PipelineSpec field against provider capabilities.
type InvalidConfigurationError struct {
	Field   string
	Value   any
	Allowed any
}

func (e InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: field=%s value=%v allowed=%v", e.Field, e.Value, e.Allowed)
}

// CapabilityMissingError reports that a requested codec or provider
// capability is absent on the detected board.
type CapabilityMissingError struct {
	Capability string
	Requested  string
}

func (e CapabilityMissingError) Error() string {
	return fmt.Sprintf("capability missing: %s requested=%s", e.Capability, e.Requested)
}

// NotLiveAdjustableError is returned by Pipeline.UpdateLiveProperty when
// the named property is outside the encoder's live-adjustable whitelist.
type NotLiveAdjustableError struct {
	Name    string
	Allowed []string
}

func (e NotLiveAdjustableError) Error() string {
	return fmt.Sprintf("property %q is not live-adjustable, allowed=%v", e.Name, e.Allowed)
}

// StateInvariantViolationError covers operations rejected because they
// would break a documented state invariant (e.g. selecting an unknown
// modem).
type StateInvariantViolationError struct {
	Operation string
	Reason    string
	Allowed   any
}

func (e StateInvariantViolationError) Error() string {
	return fmt.Sprintf("state invariant violation: op=%s reason=%s allowed=%v", e.Operation, e.Reason, e.Allowed)
}
