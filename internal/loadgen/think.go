package loadgen

import (
	"context"
	"math/rand/v2"
	"time"
)

// ThinkTime is the idle delay between two iterations of one user, drawn
// uniformly from [Min, Max].
type ThinkTime struct {
	Min time.Duration `json:"min" yaml:"min"`
	Max time.Duration `json:"max" yaml:"max"`
}

// Next draws a delay.
func (t ThinkTime) Next() time.Duration {
	if t.Max <= t.Min {
		return t.Min
	}
	return t.Min + time.Duration(rand.Int64N(int64(t.Max-t.Min)+1))
}

// IsZero reports whether no delay is configured.
func (t ThinkTime) IsZero() bool {
	return t.Min <= 0 && t.Max <= 0
}

// sleep waits for d or until ctx or stop is done. It reports whether the
// full delay elapsed.
func sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}
