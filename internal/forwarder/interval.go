package forwarder

import (
	"time"

	"github.com/meko-christian/imap2smtp/internal/config"
)

const (
	// RetryDelay is used after a failed cycle instead of the normal interval.
	RetryDelay = 10 * time.Second

	// AutoDayInterval and AutoNightInterval are the "auto" schedule's pauses.
	AutoDayInterval   = 5 * time.Minute
	AutoNightInterval = 30 * time.Minute

	// The auto schedule treats hours 7 through 20 inclusive as daytime.
	autoDayStartHour = 7
	autoDayEndHour   = 20
)

// Interval returns the base pause after a successful cycle. It is zero when
// scheduling is disabled.
func Interval(sleep config.Sleep, now time.Time) time.Duration {
	switch sleep.Mode {
	case config.SleepFixed:
		return sleep.Interval
	case config.SleepAuto:
		if hour := now.Hour(); hour >= autoDayStartHour && hour <= autoDayEndHour {
			return AutoDayInterval
		}
		return AutoNightInterval
	default:
		return 0
	}
}

// Jitter shifts base by up to pct percent in either direction. r must be
// uniformly distributed in [0, 1).
func Jitter(base time.Duration, pct float64, r float64) time.Duration {
	if pct <= 0 {
		return base
	}
	delta := (2*r - 1) * (pct / 100) * float64(base)
	return base + time.Duration(delta)
}
