package ratelimit

import "time"

// Window is the persisted counter pair for one account and kind.
type Window struct {
	HourlyCount   int       `dynamodbav:"hourlyCount" json:"hourlyCount"`
	DailyCount    int       `dynamodbav:"dailyCount" json:"dailyCount"`
	LastHourReset time.Time `dynamodbav:"lastHourReset" json:"lastHourReset"`
	LastDayReset  time.Time `dynamodbav:"lastDayReset" json:"lastDayReset"`
	Version       int64     `dynamodbav:"version" json:"version"`
}

// Reset applies the lazy window reset at now: a window whose last reset is
// at least one period old starts over at zero with lastReset = now.
func (w Window) Reset(now time.Time) Window {
	if w.LastHourReset.IsZero() || now.Sub(w.LastHourReset) >= time.Hour {
		w.HourlyCount = 0
		w.LastHourReset = now
	}
	if w.LastDayReset.IsZero() || now.Sub(w.LastDayReset) >= 24*time.Hour {
		w.DailyCount = 0
		w.LastDayReset = now
	}
	return w
}

// Advance resets as needed, then counts n actions.
func (w Window) Advance(now time.Time, n int) Window {
	w = w.Reset(now)
	w.HourlyCount += n
	w.DailyCount += n
	w.Version++
	return w
}

// Release resets as needed, then returns n previously counted actions.
// Counts never go below zero.
func (w Window) Release(now time.Time, n int) Window {
	w = w.Reset(now)
	w.HourlyCount = max(w.HourlyCount-n, 0)
	w.DailyCount = max(w.DailyCount-n, 0)
	w.Version++
	return w
}
