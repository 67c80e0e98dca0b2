package compliance

import "time"

// Contains reports whether local falls inside the window.
func (w Window) Contains(local time.Time) bool {
	if !w.dayAllowed(local.Weekday()) {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= w.Start*60 && minute < w.End*60
}

// NextStart returns the next local window opening at or after local.
func (w Window) NextStart(local time.Time) time.Time {
	if w.dayAllowed(local.Weekday()) && local.Hour()*60+local.Minute() < w.Start*60 {
		return w.startOn(local)
	}
	for i := 1; i <= 7; i++ {
		day := local.AddDate(0, 0, i)
		if w.dayAllowed(day.Weekday()) {
			return w.startOn(day)
		}
	}
	return w.startOn(local.AddDate(0, 0, 1))
}

func (w Window) dayAllowed(day time.Weekday) bool {
	return w.Sunday || day != time.Sunday
}

func (w Window) startOn(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), w.Start, 0, 0, 0, day.Location())
}
