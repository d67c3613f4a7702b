package backoff

import (
	"math/rand"
	"time"
)

// maxExponent bounds the exponent so Multiplier^n never overflows a Duration.
const maxExponent = 30

// Params holds the inputs shared by every strategy.
type Params struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// Strategy computes the wait before a retry. Retry numbers start at 1: the
// delay before the second physical attempt is Delay(1, p).
type Strategy interface {
	Delay(retry int, p Params) time.Duration
	Name() string
}

// Exponential waits Base * Multiplier^(retry-1), capped at Max. It is exact,
// with no randomisation.
type Exponential struct{}

func (Exponential) Name() string { return NameExponential }

func (Exponential) Delay(retry int, p Params) time.Duration {
	return exponential(retry, p)
}

// ExponentialJitter adds up to Jitter*delay of uniform noise on top of
// Exponential, never exceeding Max.
type ExponentialJitter struct{}

func (ExponentialJitter) Name() string { return NameExponentialJitter }

func (ExponentialJitter) Delay(retry int, p Params) time.Duration {
	d := exponential(retry, p)
	j := clampJitter(p.Jitter)
	if j == 0 {
		return d
	}
	d += time.Duration(float64(d) * j * rand.Float64())
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// DecorrelatedJitter picks a delay uniformly between Base and
// min(Max, Base*3^retry), the stateless form of the AWS scheme.
type DecorrelatedJitter struct{}

func (DecorrelatedJitter) Name() string { return NameDecorrelatedJitter }

func (DecorrelatedJitter) Delay(retry int, p Params) time.Duration {
	if retry <= 1 {
		return p.Base
	}
	if retry > 10 {
		retry = 10
	}

	base := float64(p.Base)
	upper := base * Pow(3.0, retry-1)
	if p.Max > 0 && (upper > float64(p.Max) || upper < 0) {
		upper = float64(p.Max)
	}
	if upper < base {
		upper = base
	}

	d := time.Duration(base + rand.Float64()*(upper-base))
	if p.Max > 0 && (d < 0 || d > p.Max) {
		return p.Max
	}
	return d
}

func exponential(retry int, p Params) time.Duration {
	if retry < 1 {
		retry = 1
	}
	n := retry - 1
	if n > maxExponent {
		n = maxExponent
	}

	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}

	d := time.Duration(float64(p.Base) * Pow(mult, n))
	if d < 0 || (p.Max > 0 && d > p.Max) {
		return p.Max
	}
	return d
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

// Pow calculates base^exponent by repeated multiplication.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
