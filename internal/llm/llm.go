package llm

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

var ErrNoChoices = errors.New("llm: no completion choices returned")

// Client sends one prompt as a single user message and returns the model text.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Backoff doubles base per attempt, caps at 30s and applies +/-25% jitter.
// Attempt 0 waits nothing.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt <= 0 || base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	delay := base * time.Duration(1<<uint(attempt))
	if delay > 30*time.Second || delay <= 0 {
		delay = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(delay)/2)) - delay/4
	return delay + jitter
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
