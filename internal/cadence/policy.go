package cadence

import (
	"time"

	"github.com/wolfman30/propreach/internal/crm"
)

// Policy is the touch ceiling and spacing rule for one cadence.
type Policy struct {
	Name           string
	MaxTouches     int
	CountField     string
	LastTouchField string
	// SpacingEnabled turns on the minimum-business-days rule between touches.
	SpacingEnabled  bool
	MinBusinessDays int
}

// SMSPolicy is the conversational SMS cadence.
func SMSPolicy(maxTouches int) Policy {
	return Policy{
		Name:            "sms",
		MaxTouches:      orDefault(maxTouches, 7),
		CountField:      crm.FieldSMSTouchCount,
		LastTouchField:  crm.FieldLastSMSAt,
		MinBusinessDays: 2,
	}
}

// EmailPolicy is the email drip cadence.
func EmailPolicy(maxTouches int) Policy {
	return Policy{
		Name:            "email",
		MaxTouches:      orDefault(maxTouches, 7),
		CountField:      crm.FieldEmailTouchCount,
		LastTouchField:  crm.FieldLastEmailAt,
		MinBusinessDays: 2,
	}
}

// DialTrackingPolicy counts unanswered call attempts logged by agents.
func DialTrackingPolicy(maxTouches int) Policy {
	return Policy{
		Name:            "dial",
		MaxTouches:      orDefault(maxTouches, 8),
		CountField:      crm.FieldDialAttempts,
		LastTouchField:  crm.FieldLastDialAt,
		MinBusinessDays: 1,
	}
}

// WithSpacing returns a copy of p with the business-day rule set.
func (p Policy) WithSpacing(enabled bool, minBusinessDays int) Policy {
	p.SpacingEnabled = enabled
	if minBusinessDays > 0 {
		p.MinBusinessDays = minBusinessDays
	}
	return p
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// BusinessDaysBetween counts Monday–Friday calendar days after from's date up
// to and including to's date, both taken in loc.
func BusinessDaysBetween(from, to time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	start := dateOf(from.In(loc))
	end := dateOf(to.In(loc))
	if !end.After(start) {
		return 0
	}
	days := 0
	for d := start.AddDate(0, 0, 1); !d.After(end); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			days++
		}
	}
	return days
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
