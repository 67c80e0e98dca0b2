package compliance

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const unknownTimezone = "Etc/Unknown"

// PhoneInfo is what the number itself tells us about the called party.
type PhoneInfo struct {
	E164         string
	Valid        bool
	Region       string
	Jurisdiction string
	Timezone     string
}

// NormalizeNumber formats a number to E.164. If parsing fails it returns the trimmed input.
func NormalizeNumber(input, defaultRegion string) string {
	return Inspect(input, defaultRegion, nil).E164
}

// Inspect parses a number and resolves its region, jurisdiction and timezone.
func Inspect(input, defaultRegion string, rules *Rules) PhoneInfo {
	trimmed := strings.TrimSpace(input)
	info := PhoneInfo{E164: trimmed}
	if trimmed == "" {
		return info
	}

	number, err := phonenumbers.Parse(trimmed, defaultRegion)
	if err != nil {
		return info
	}
	info.Valid = phonenumbers.IsValidNumber(number)
	if info.Valid {
		info.E164 = phonenumbers.Format(number, phonenumbers.E164)
	}

	info.Region = phonenumbers.GetRegionCodeForNumber(number)
	info.Jurisdiction = info.Region
	if rules != nil && number.GetCountryCode() == 1 {
		national := phonenumbers.GetNationalSignificantNumber(number)
		if len(national) >= 3 {
			if j, ok := rules.JurisdictionForArea(national[:3]); ok {
				info.Jurisdiction = j
			}
		}
	}

	if zones, err := phonenumbers.GetTimezonesForNumber(number); err == nil {
		for _, z := range zones {
			if z != "" && z != unknownTimezone {
				info.Timezone = z
				break
			}
		}
	}
	return info
}
