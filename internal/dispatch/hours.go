package dispatch

import (
	"time"

	"github.com/acme/voice-dialer/internal/domain"
)

// withinCallingHours checks the campaign's own calling-hours windows. A campaign
// without windows, or with an unknown zone, is always open; the compliance gate
// still applies the legal window per lead.
func withinCallingHours(nowUTC time.Time, campaign *domain.Campaign) bool {
	if len(campaign.BusinessHours) == 0 {
		return true
	}

	loc, err := time.LoadLocation(campaign.TimeZone)
	if err != nil {
		return true
	}

	local := nowUTC.In(loc)
	minuteOfDay := local.Hour()*60 + local.Minute()
	weekday := local.Weekday()

	for _, window := range campaign.BusinessHours {
		start := window.Start.Hour()*60 + window.Start.Minute()
		end := window.End.Hour()*60 + window.End.Minute()

		if end <= start {
			// window spans midnight
			nextDay := time.Weekday((int(window.DayOfWeek) + 1) % 7)
			if window.DayOfWeek == weekday && minuteOfDay >= start {
				return true
			}
			if nextDay == weekday && minuteOfDay < end {
				return true
			}
			continue
		}

		if window.DayOfWeek == weekday && minuteOfDay >= start && minuteOfDay < end {
			return true
		}
	}

	return false
}
