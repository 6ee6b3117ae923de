package agent

import (
	"math"
	"math/rand"
	"time"

	"github.com/harun/aiguide/internal/config"
)

// RetryPolicy configures model call retries
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     float64
}

// DefaultRetryPolicy returns 3 retries at 1s, 2s, 4s (plus jitter), capped at 10s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 2,
		Jitter:     0.5,
	}
}

// RetryPolicyFromConfig maps config onto a policy, keeping defaults for unset fields
func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	p := RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay,
		MaxDelay:   cfg.MaxDelay,
		Multiplier: cfg.Multiplier,
		Jitter:     cfg.Jitter,
	}
	return p.withDefaults()
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// jitterBackOff implements backoff.BackOff. Delays grow exponentially with
// multiplicative jitter, never exceed MaxDelay and never decrease.
type jitterBackOff struct {
	policy RetryPolicy
	rand   func() float64
	n      int
	prev   time.Duration
}

func newJitterBackOff(policy RetryPolicy, rnd func() float64) *jitterBackOff {
	if rnd == nil {
		rnd = rand.Float64
	}
	return &jitterBackOff{policy: policy, rand: rnd}
}

func (b *jitterBackOff) NextBackOff() time.Duration {
	d := float64(b.policy.BaseDelay) * math.Pow(b.policy.Multiplier, float64(b.n)) * (1 + b.policy.Jitter*b.rand())
	if d > float64(b.policy.MaxDelay) {
		d = float64(b.policy.MaxDelay)
	}

	delay := time.Duration(d)
	if delay < b.prev {
		delay = b.prev
	}
	b.prev = delay
	b.n++
	return delay
}

func (b *jitterBackOff) Reset() {
	b.n = 0
	b.prev = 0
}
