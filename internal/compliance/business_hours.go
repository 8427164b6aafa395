package compliance

import (
	"fmt"
	"time"
	_ "time/tzdata" // Lambda images ship without a zoneinfo database
)

type window struct {
	open  int // minutes after midnight, inclusive
	close int // minutes after midnight, exclusive
}

var weeklyHours = map[time.Weekday]window{
	time.Monday:    {9 * 60, 19 * 60},
	time.Tuesday:   {9 * 60, 19 * 60},
	time.Wednesday: {9 * 60, 19 * 60},
	time.Thursday:  {9 * 60, 19 * 60},
	time.Friday:    {9 * 60, 19 * 60},
	time.Saturday:  {9 * 60, 12 * 60},
}

// BusinessHours gates outbound sends to Mon-Fri 09:00-19:00 and
// Sat 09:00-12:00 in a fixed reference timezone. Sunday is closed.
type BusinessHours struct {
	location *time.Location
}

// NewBusinessHours loads the reference timezone (e.g. "America/New_York").
func NewBusinessHours(tz string) (*BusinessHours, error) {
	if tz == "" {
		return nil, fmt.Errorf("compliance: business hours timezone required")
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("compliance: load business hours tz: %w", err)
	}
	return &BusinessHours{location: loc}, nil
}

// Location returns the reference timezone.
func (b *BusinessHours) Location() *time.Location {
	return b.location
}

// IsOpen reports whether now falls inside the sending window.
func (b *BusinessHours) IsOpen(now time.Time) bool {
	local := now.In(b.location)
	w, ok := weeklyHours[local.Weekday()]
	if !ok {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= w.open && minutes < w.close
}

// NextOpen returns the next instant the window opens, or now when already open.
func (b *BusinessHours) NextOpen(now time.Time) time.Time {
	if b.IsOpen(now) {
		return now
	}
	local := now.In(b.location)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, b.location)
	for i := 0; i < 8; i++ {
		candidate := day.AddDate(0, 0, i)
		w, ok := weeklyHours[candidate.Weekday()]
		if !ok {
			continue
		}
		opensAt := candidate.Add(time.Duration(w.open) * time.Minute)
		if opensAt.After(local) {
			return opensAt
		}
	}
	return now
}

// NextOpenMessage explains the current gate decision for operators and logs.
func (b *BusinessHours) NextOpenMessage(now time.Time) string {
	local := now.In(b.location)
	zone := local.Format("MST")
	minutes := local.Hour()*60 + local.Minute()
	w, openDay := weeklyHours[local.Weekday()]

	switch {
	case b.IsOpen(now):
		return fmt.Sprintf("Open now until %s %s.", clock(w.close), zone)
	case !openDay:
		return fmt.Sprintf("Closed on Sundays. Outreach resumes Monday at 9:00 AM %s.", zone)
	case minutes < w.open:
		return fmt.Sprintf("Before opening. Outreach starts today at %s %s.", clock(w.open), zone)
	case local.Weekday() == time.Saturday:
		return fmt.Sprintf("Saturday hours ended at %s. Outreach resumes Monday at 9:00 AM %s.", clock(w.close), zone)
	case local.Weekday() == time.Friday:
		return fmt.Sprintf("Closed for the evening. Outreach resumes Saturday at 9:00 AM %s.", zone)
	default:
		return fmt.Sprintf("Closed for the evening. Outreach resumes tomorrow at 9:00 AM %s.", zone)
	}
}

func clock(minutes int) string {
	t := time.Date(2000, 1, 1, minutes/60, minutes%60, 0, 0, time.UTC)
	return t.Format("3:04 PM")
}
