package retry

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxAttempts and DefaultInterval match the guardian polling
	// cadence of the bridge scripts: one second apart, eleven tries.
	DefaultMaxAttempts = 11
	DefaultInterval    = time.Second
)

// Backoff grows the wait between attempts geometrically: Base, Base*Factor,
// Base*Factor^2 ... never exceeding Cap (zero Cap means uncapped).
type Backoff struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
	Jitter float64 // randomization factor in [0, 1), 0 keeps waits deterministic
}

// Policy bounds a polling loop. When Backoff is set it takes precedence over
// Interval. A zero Timeout disables the overall deadline.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
	Backoff     *Backoff
	Timeout     time.Duration
}

// DefaultPolicy returns a fixed one second interval with eleven attempts and
// no overall deadline.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Interval:    DefaultInterval,
	}
}

// Fixed returns a policy that waits the same interval between attempts.
func Fixed(maxAttempts int, interval time.Duration) Policy {
	return Policy{MaxAttempts: maxAttempts, Interval: interval}
}

// Exponential returns a policy with geometric backoff.
func Exponential(maxAttempts int, base time.Duration, factor float64, cap time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Backoff:     &Backoff{Base: base, Factor: factor, Cap: cap},
	}
}

// WithTimeout returns a copy of p with an overall deadline.
func (p Policy) WithTimeout(timeout time.Duration) Policy {
	p.Timeout = timeout
	return p
}

func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.Interval < 0 {
		return fmt.Errorf("interval must not be negative, got %s", p.Interval)
	}
	if p.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", p.Timeout)
	}
	if b := p.Backoff; b != nil {
		if b.Base <= 0 {
			return fmt.Errorf("backoff base must be positive, got %s", b.Base)
		}
		if b.Factor < 1 {
			return fmt.Errorf("backoff factor must be at least 1, got %v", b.Factor)
		}
		if b.Cap < 0 {
			return fmt.Errorf("backoff cap must not be negative, got %s", b.Cap)
		}
		if b.Cap > 0 && b.Cap < b.Base {
			return fmt.Errorf("backoff cap %s is below base %s", b.Cap, b.Base)
		}
		if b.Jitter < 0 || b.Jitter >= 1 {
			return fmt.Errorf("backoff jitter must be in [0, 1), got %v", b.Jitter)
		}
	}
	return nil
}

// intervals returns a fresh interval source for one polling loop. The
// overall deadline is enforced by Poll, so the backoff never stops on its own.
func (p Policy) intervals() backoff.BackOff {
	if p.Backoff == nil {
		return backoff.NewConstantBackOff(p.Interval)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.Backoff.Base
	bo.Multiplier = p.Backoff.Factor
	bo.RandomizationFactor = p.Backoff.Jitter
	bo.MaxInterval = p.Backoff.Cap
	if bo.MaxInterval == 0 {
		bo.MaxInterval = time.Duration(math.MaxInt64)
	}
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// BackoffConfig is the configuration file form of Backoff.
type BackoffConfig struct {
	BaseMs int
	Factor float64
	CapMs  int
	Jitter float64
}

// Config is the caller-supplied retry configuration. Zero MaxAttempts and
// IntervalMs fall back to the defaults; zero TimeoutMs means no deadline.
type Config struct {
	MaxAttempts int
	IntervalMs  int
	Backoff     *BackoffConfig
	TimeoutMs   int
}

var errNegativeConfig = errors.New("retry config values must not be negative")

// Policy converts the configuration into a validated Policy.
func (c Config) Policy() (Policy, error) {
	if c.MaxAttempts < 0 || c.IntervalMs < 0 || c.TimeoutMs < 0 {
		return Policy{}, errNegativeConfig
	}

	p := DefaultPolicy()
	if c.MaxAttempts > 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	if c.IntervalMs > 0 {
		p.Interval = time.Duration(c.IntervalMs) * time.Millisecond
	}
	if c.Backoff != nil && c.Backoff.BaseMs > 0 {
		factor := c.Backoff.Factor
		if factor == 0 {
			factor = 2
		}
		p.Backoff = &Backoff{
			Base:   time.Duration(c.Backoff.BaseMs) * time.Millisecond,
			Factor: factor,
			Cap:    time.Duration(c.Backoff.CapMs) * time.Millisecond,
			Jitter: c.Backoff.Jitter,
		}
	}
	p.Timeout = time.Duration(c.TimeoutMs) * time.Millisecond

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}
