package publish

import (
	"context"
	"time"
)

// Simulated pretends to publish. It waits for a fixed delay and never yields a URL.
type Simulated struct {
	delay time.Duration
}

var _ Publisher = Simulated{}

// NewSimulated constructs a simulated publisher.
func NewSimulated(delay time.Duration) Simulated {
	return Simulated{delay: delay}
}

func (Simulated) Name() string { return "simulation" }

func (Simulated) Simulated() bool { return true }

// Publish waits for the configured delay.
func (s Simulated) Publish(ctx context.Context, _ Request) (Result, error) {
	if s.delay <= 0 {
		return Result{}, nil
	}
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-timer.C:
		return Result{}, nil
	}
}
