package types

// OptimizerState is the mutable state of the network optimizer (§3).
//
// Invariant: Active implies OriginalSettings is non-empty and contains
// at least {mtu, tcp_congestion, rmem_max, wmem_max} for the chosen
// interface; !Active implies OriginalSettings is empty.
type OptimizerState struct {
	Active           bool
	Interface        string
	OriginalSettings map[string]string
}

// OptimizationStep records the outcome of one optimizer sub-step so
// enable() can return a structured report (§4.3 "Enable/disable contract").
type OptimizationStep struct {
	Name      string
	Applied   bool
	Error     string
	PriorValue string
}

// OptimizationReport is returned by Optimizer.Enable().
type OptimizationReport struct {
	Interface string
	Steps     []OptimizationStep
}
