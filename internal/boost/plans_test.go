package boost

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePlan_CanonicalCodes(t *testing.T) {
	tests := []struct {
		code     string
		days     int
		cadence  CadenceKind
		priceMin int64
	}{
		{"29-3d", 3, CadenceOneShot, 2900},
		{"49-15d", 15, CadenceFixedSlots, 4900},
		{"99-30d", 30, CadenceDaily, 9900},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			p, ok := ResolvePlan(tt.code)
			require.True(t, ok)
			assert.Equal(t, tt.code, p.Code)
			assert.Equal(t, tt.days, p.DurationDays)
			assert.Equal(t, tt.cadence, p.Cadence)
			assert.Equal(t, tt.priceMin, p.PriceMinor)
		})
	}
}

func TestResolvePlan_LegacyAliases(t *testing.T) {
	for alias, canonical := range map[string]string{
		"29":     "29-3d",
		"49":     "49-15d",
		"99":     "99-30d",
		" 99 ":   "99-30d",
		"49-15D": "49-15d",
	} {
		p, ok := ResolvePlan(alias)
		require.True(t, ok, "alias %q", alias)
		assert.Equal(t, canonical, p.Code)
	}
}

func TestResolvePlan_Unknown(t *testing.T) {
	for _, code := range []string{"", "   ", "19", "99-31d", "premium"} {
		_, ok := ResolvePlan(code)
		assert.False(t, ok, "code %q", code)
	}
}

func TestPlans_OrderedByPrice(t *testing.T) {
	plans := Plans()
	require.Len(t, plans, 3)
	assert.Equal(t, "29-3d", plans[0].Code)
	assert.Equal(t, "49-15d", plans[1].Code)
	assert.Equal(t, "99-30d", plans[2].Code)
}

func TestPlan_JSONCadenceName(t *testing.T) {
	p, _ := ResolvePlan("49-15d")
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"cadence":"fixed_slots"`)
	assert.Equal(t, "unknown", CadenceKind(0).String())
}
