package fetch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Backoff is a linear wait schedule: attempt i (0-based) that fails waits
// Seed + i*Increment before the next try. MaxAttempts <= 0 means
// DefaultBackoff.MaxAttempts.
type Backoff struct {
	Seed        time.Duration
	Increment   time.Duration
	MaxAttempts int
}

// DefaultBackoff waits 40s, 50s, 60s, ... for up to ten attempts.
var DefaultBackoff = Backoff{Seed: 40 * time.Second, Increment: 10 * time.Second, MaxAttempts: 10}

// Delay returns the wait after the given failed attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	return b.Seed + time.Duration(attempt)*b.Increment
}

func (b Backoff) attempts() int {
	if b.MaxAttempts <= 0 {
		return DefaultBackoff.MaxAttempts
	}
	return b.MaxAttempts
}

// GetThrottled GETs url, sleeping per b whenever the server answers non-2xx.
// Network failures are returned immediately; they are not throttling.
func (f *Fetcher) GetThrottled(ctx context.Context, url string, b Backoff) ([]byte, error) {
	return f.DoThrottled(ctx, Request{Method: http.MethodGet, URL: url}, b)
}

// DoThrottled is GetThrottled for an arbitrary request.
func (f *Fetcher) DoThrottled(ctx context.Context, req Request, b Backoff) ([]byte, error) {
	max := b.attempts()
	var last error
	for attempt := 0; attempt < max; attempt++ {
		res, err := f.Do(ctx, req)
		if err == nil {
			return res.Body, nil
		}
		var fe *FetchError
		if !errors.As(err, &fe) || fe.Status == 0 {
			return nil, err
		}
		last = err
		if attempt == max-1 {
			break
		}

		delay := b.Delay(attempt)
		f.logger.Info("throttled, waiting before retry",
			zap.String("url", req.URL),
			zap.Int("status", fe.Status),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
		)
		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, &ThrottleExceededError{URL: req.URL, Attempts: max, Last: last}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
