package backoff

import "fmt"

// Strategy names accepted by ForName.
const (
	NameExponential        = "exponential"
	NameExponentialJitter  = "exponential_jitter"
	NameDecorrelatedJitter = "decorrelated_jitter"
)

// ForName resolves a strategy from its configuration name. An empty name
// selects Exponential.
func ForName(name string) (Strategy, error) {
	switch name {
	case "", NameExponential:
		return Exponential{}, nil
	case NameExponentialJitter:
		return ExponentialJitter{}, nil
	case NameDecorrelatedJitter:
		return DecorrelatedJitter{}, nil
	default:
		return nil, fmt.Errorf("backoff: unknown strategy %q", name)
	}
}
