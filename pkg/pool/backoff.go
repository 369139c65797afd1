package pool

import (
	"context"
	"time"
)

// Schedule is a progressive backoff schedule. Attempts beyond the listed
// steps all use the default delay.
type Schedule struct {
	steps []time.Duration
	def   time.Duration
}

// NewSchedule builds a schedule from explicit steps and a default delay
// for attempts past the end of the list.
func NewSchedule(steps []time.Duration, def time.Duration) Schedule {
	copied := make([]time.Duration, len(steps))
	copy(copied, steps)
	return Schedule{steps: copied, def: def}
}

// DefaultSchedule returns the stock recovery schedule: 1s, 5s, 15s, then
// 30s for every later attempt.
func DefaultSchedule() Schedule {
	return NewSchedule([]time.Duration{
		1 * time.Second,
		5 * time.Second,
		15 * time.Second,
	}, 30*time.Second)
}

// Delay returns the wait before the given attempt. Attempts are 1-based.
func (s Schedule) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	if attempt <= len(s.steps) {
		return s.steps[attempt-1]
	}
	return s.def
}

func (s Schedule) isZero() bool {
	return len(s.steps) == 0 && s.def == 0
}

// Retry runs fn up to attempts times, sleeping the schedule delay before
// each retry. It stops early on success, on an error the transient
// classifier rejects, or when ctx is done. A nil classifier retries every
// error.
func Retry(ctx context.Context, attempts int, schedule Schedule, transient func(error) bool, fn func() error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if !sleepCtx(ctx, schedule.Delay(attempt-1)) {
				return ctx.Err()
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if transient != nil && !transient(err) {
			return err
		}
	}
	return err
}

// sleepCtx sleeps for d unless ctx is done first. Returns false when
// interrupted.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
