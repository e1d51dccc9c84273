package approval

import (
	"context"
	"math/rand/v2"
	"time"
)

// Decider makes the approval decisions. stage is the deciding step and
// chance the probability of approval carried in state.
type Decider interface {
	Decide(ctx context.Context, stage string, chance float64) bool
}

// DeciderFunc adapts a function to Decider
type DeciderFunc func(ctx context.Context, stage string, chance float64) bool

// Decide calls f
func (f DeciderFunc) Decide(ctx context.Context, stage string, chance float64) bool {
	return f(ctx, stage, chance)
}

// RandomDecider approves with the given chance
type RandomDecider struct{}

// Decide implements Decider
func (RandomDecider) Decide(ctx context.Context, stage string, chance float64) bool {
	return rand.Float64() < chance
}

// Always returns a decider that always answers approved
func Always(approved bool) Decider {
	return DeciderFunc(func(context.Context, string, float64) bool { return approved })
}

// Delay is a [Min, Max) range of simulated review time
type Delay struct {
	Min time.Duration
	Max time.Duration
}

// pick returns a random duration in the range
func (d Delay) pick() time.Duration {
	if d.Max <= d.Min {
		return d.Min
	}
	return d.Min + rand.N(d.Max-d.Min)
}
