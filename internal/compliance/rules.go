package compliance

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var embeddedRules []byte

// Hours is a local calling window in whole hours, end exclusive.
type Hours struct {
	StartHour int `yaml:"start_hour"`
	EndHour   int `yaml:"end_hour"`
}

// Jurisdiction narrows the legal floor for one region.
type Jurisdiction struct {
	StartHour     *int  `yaml:"start_hour"`
	EndHour       *int  `yaml:"end_hour"`
	SundayCalling *bool `yaml:"sunday_calling"`
}

// Rules is one version of the jurisdiction table.
type Rules struct {
	Version       string                  `yaml:"version"`
	LegalFloor    Hours                   `yaml:"legal_floor"`
	Jurisdictions map[string]Jurisdiction `yaml:"jurisdictions"`
	AreaCodes     map[string]string       `yaml:"area_codes"`
}

// Window is the effective calling window for a jurisdiction.
type Window struct {
	Start  int
	End    int
	Sunday bool
}

// ParseRules decodes and validates a rule set.
func ParseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("compliance rules: decode: %w", err)
	}
	if r.Version == "" {
		return nil, fmt.Errorf("compliance rules: missing version")
	}
	if err := validHours(r.LegalFloor.StartHour, r.LegalFloor.EndHour); err != nil {
		return nil, fmt.Errorf("compliance rules: legal floor: %w", err)
	}
	for name, j := range r.Jurisdictions {
		w := r.window(j)
		if err := validHours(w.Start, w.End); err != nil {
			return nil, fmt.Errorf("compliance rules: %s: %w", name, err)
		}
	}
	return &r, nil
}

// DefaultRules returns the embedded rule set.
func DefaultRules() *Rules {
	r, err := ParseRules(embeddedRules)
	if err != nil {
		panic(err)
	}
	return r
}

// LoadRules reads a rule file, falling back to the embedded set when path is empty.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("compliance rules: read %s: %w", path, err)
	}
	return ParseRules(data)
}

// WindowFor intersects the legal floor with the jurisdiction override.
func (r *Rules) WindowFor(jurisdiction string) Window {
	j, ok := r.Jurisdictions[jurisdiction]
	if !ok {
		return Window{Start: r.LegalFloor.StartHour, End: r.LegalFloor.EndHour, Sunday: true}
	}
	return r.window(j)
}

// JurisdictionForArea maps a NANP area code to a jurisdiction, if known.
func (r *Rules) JurisdictionForArea(areaCode string) (string, bool) {
	j, ok := r.AreaCodes[areaCode]
	return j, ok
}

func (r *Rules) window(j Jurisdiction) Window {
	w := Window{Start: r.LegalFloor.StartHour, End: r.LegalFloor.EndHour, Sunday: true}
	if j.StartHour != nil && *j.StartHour > w.Start {
		w.Start = *j.StartHour
	}
	if j.EndHour != nil && *j.EndHour < w.End {
		w.End = *j.EndHour
	}
	if j.SundayCalling != nil {
		w.Sunday = *j.SundayCalling
	}
	return w
}

func validHours(start, end int) error {
	if start < 0 || end > 24 || start >= end {
		return fmt.Errorf("invalid window %d-%d", start, end)
	}
	return nil
}
