// Package backoff holds the retry schedule for failed delivery attempts.
package backoff

import "time"

// schedule maps attempt number (1-based) to the delay before the next
// attempt becomes eligible. The delays are hand-tuned, not a formula.
var schedule = [...]time.Duration{
	30 * time.Second,
	1 * time.Minute,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
	30 * time.Minute,
	1 * time.Hour,
	2 * time.Hour,
	4 * time.Hour,
	8 * time.Hour,
}

// MaxAttempts is the attempt count at which a message is permanently failed.
const MaxAttempts = len(schedule)

// Delay returns the backoff delay after the given attempt number (1-based).
// Attempts beyond the table clamp to the last entry.
func Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(schedule) {
		attempt = len(schedule)
	}
	return schedule[attempt-1]
}

// Next computes when a message that has now failed attemptCount times becomes
// eligible again. final is true once the attempt budget is exhausted; the
// returned time is meaningless in that case and must not be persisted.
func Next(attemptCount int, now time.Time) (nextAttemptAt time.Time, final bool) {
	if attemptCount >= MaxAttempts {
		return now, true
	}
	return now.Add(Delay(attemptCount)), false
}
