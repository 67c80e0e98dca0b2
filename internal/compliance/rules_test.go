package compliance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRulesLoad(t *testing.T) {
	r := DefaultRules()
	assert.NotEmpty(t, r.Version)
	assert.Equal(t, Window{Start: 8, End: 21, Sunday: true}, r.WindowFor("US-NY"))
	assert.Equal(t, Window{Start: 8, End: 20, Sunday: true}, r.WindowFor("US-FL"))
	assert.False(t, r.WindowFor("US-AL").Sunday)

	j, ok := r.JurisdictionForArea("512")
	require.True(t, ok)
	assert.Equal(t, "US-TX", j)
}

func TestJurisdictionCannotWidenFloor(t *testing.T) {
	r, err := ParseRules([]byte(`
version: "v"
legal_floor: {start_hour: 8, end_hour: 21}
jurisdictions:
  XX: {start_hour: 6, end_hour: 23}
`))
	require.NoError(t, err)
	assert.Equal(t, Window{Start: 8, End: 21, Sunday: true}, r.WindowFor("XX"))
}

func TestParseRulesRejectsBadInput(t *testing.T) {
	_, err := ParseRules([]byte(`legal_floor: {start_hour: 8, end_hour: 21}`))
	assert.Error(t, err)

	_, err = ParseRules([]byte(`
version: "v"
legal_floor: {start_hour: 21, end_hour: 8}
`))
	assert.Error(t, err)
}

func TestLoadRulesEmptyPathUsesEmbedded(t *testing.T) {
	r, err := LoadRules("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRules().Version, r.Version)
}

func TestWindowNextStart(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	w := Window{Start: 8, End: 21, Sunday: false}

	// Saturday 22:00 skips Sunday
	sat := time.Date(2025, 5, 31, 22, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2025, 6, 2, 8, 0, 0, 0, loc), w.NextStart(sat))

	early := time.Date(2025, 6, 2, 6, 30, 0, 0, loc)
	assert.Equal(t, time.Date(2025, 6, 2, 8, 0, 0, 0, loc), w.NextStart(early))
	assert.False(t, w.Contains(early))
	assert.True(t, w.Contains(time.Date(2025, 6, 2, 20, 59, 0, 0, loc)))
	assert.False(t, w.Contains(time.Date(2025, 6, 2, 21, 0, 0, 0, loc)))
}

func TestInspectResolvesArea(t *testing.T) {
	info := Inspect("(512) 736-1234", "US", DefaultRules())
	assert.True(t, info.Valid)
	assert.Equal(t, "+15127361234", info.E164)
	assert.Equal(t, "US-TX", info.Jurisdiction)

	assert.Equal(t, "not a number", NormalizeNumber(" not a number ", "US"))
}
