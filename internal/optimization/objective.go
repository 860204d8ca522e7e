package optimization

// ObjectiveFunction evaluates a scalar objective at a packed vector of
// unconstrained parameter values. Lower is better.
type ObjectiveFunction func([]float64) (float64, error)

// ObjectiveKind selects the terms an objective is built from.
type ObjectiveKind int

const (
	// ObjectiveMAP is the negative log posterior: likelihood plus the log
	// prior of every parameter, including its Jacobian correction.
	ObjectiveMAP ObjectiveKind = iota
	// ObjectiveMLE is the negative log likelihood. Priors are ignored.
	ObjectiveMLE
)

// String returns the label used in logs and metrics.
func (k ObjectiveKind) String() string {
	switch k {
	case ObjectiveMAP:
		return "map"
	case ObjectiveMLE:
		return "mle"
	default:
		return "unknown"
	}
}
