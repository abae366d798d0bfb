package archive

import (
	"math"
	"time"
)

// PollPolicy decides how long to wait before each availability poll.
type PollPolicy struct {
	// InitialDelay is waited before the first poll, giving the archive time to capture.
	InitialDelay time.Duration
	// Interval is the delay before the second poll.
	Interval time.Duration
	// Multiplier grows the delay after every further poll; values below 1 mean 1.
	Multiplier float64
	// MaxInterval caps a grown delay; zero means no cap.
	MaxInterval time.Duration
	// MaxAttempts is the number of polls allowed; zero means unlimited.
	MaxAttempts int
	// MaxWait is the total budget measured from the first call; zero means unlimited.
	MaxWait time.Duration
}

// DefaultPollPolicy mirrors the capture pace of the Wayback Machine:
// wait 15s, then poll every 5s, at most 5 times within two minutes.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		InitialDelay: 15 * time.Second,
		Interval:     5 * time.Second,
		Multiplier:   1,
		MaxInterval:  time.Minute,
		MaxAttempts:  5,
		MaxWait:      2 * time.Minute,
	}
}

// Next returns the delay before poll number attempt+1, given that attempt polls
// were already made and elapsed time has passed since waiting began.
// The second result is false when the budget is exhausted and waiting must stop.
// A delay that would overrun MaxWait is shortened so the last poll lands on the budget.
func (p PollPolicy) Next(attempt int, elapsed time.Duration) (time.Duration, bool) {
	if attempt < 0 {
		attempt = 0
	}

	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return 0, false
	}

	if p.MaxWait > 0 && elapsed >= p.MaxWait {
		return 0, false
	}

	delay := p.delay(attempt)

	if p.MaxWait > 0 && elapsed+delay > p.MaxWait {
		delay = p.MaxWait - elapsed
	}

	return delay, true
}

// delay is the uncapped-by-budget delay before poll number attempt+1.
func (p PollPolicy) delay(attempt int) time.Duration {
	if attempt == 0 {
		return max(p.InitialDelay, 0)
	}

	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	grown := float64(p.Interval) * math.Pow(multiplier, float64(attempt-1))

	if p.MaxInterval > 0 && grown > float64(p.MaxInterval) {
		return p.MaxInterval
	}

	if grown > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	return max(time.Duration(grown), 0)
}
