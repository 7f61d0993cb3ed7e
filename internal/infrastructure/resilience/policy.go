package resilience

import "time"

type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	BreakerEnabled bool
	// BreakerFailureThreshold consecutive failures trip closed -> open.
	BreakerFailureThreshold uint32
	// BreakerSuccessThreshold consecutive half-open successes close the circuit.
	BreakerSuccessThreshold uint32
	BreakerOpenTimeout      time.Duration

	// RateLimitRPS <= 0 disables provider call limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerFailureThreshold: 5,
		BreakerSuccessThreshold: 3,
		BreakerOpenTimeout:      30 * time.Second,
	}
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if out.RetryInitialBackoff <= 0 {
		out.RetryInitialBackoff = def.RetryInitialBackoff
	}
	if out.RetryMaxBackoff <= 0 {
		out.RetryMaxBackoff = def.RetryMaxBackoff
	}
	if out.RetryMaxBackoff < out.RetryInitialBackoff {
		out.RetryMaxBackoff = out.RetryInitialBackoff
	}
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}

	if out.BreakerFailureThreshold == 0 {
		out.BreakerFailureThreshold = def.BreakerFailureThreshold
	}
	if out.BreakerSuccessThreshold == 0 {
		out.BreakerSuccessThreshold = def.BreakerSuccessThreshold
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.RateLimitRPS > 0 && out.RateLimitBurst <= 0 {
		out.RateLimitBurst = 1
	}

	return out
}
