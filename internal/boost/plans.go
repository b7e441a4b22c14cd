// Package boost implements the paid listing promotion domain: the plan
// catalog, the bump schedule calculator, and the activation and manual bump
// operations that write a listing's boost record.
package boost

import (
	"fmt"
	"sort"
	"strings"
)

// CadenceKind is the bump policy of a plan.
type CadenceKind int

const (
	// CadenceOneShot bumps once at activation and never again.
	CadenceOneShot CadenceKind = iota + 1
	// CadenceFixedSlots bumps at fixed offsets (day 7 and day 14) from
	// activation, each only if it falls inside the window.
	CadenceFixedSlots
	// CadenceDaily bumps every 24 hours until the window closes.
	CadenceDaily
)

// String returns the wire name of the cadence.
func (k CadenceKind) String() string {
	switch k {
	case CadenceOneShot:
		return "one_shot"
	case CadenceFixedSlots:
		return "fixed_slots"
	case CadenceDaily:
		return "daily"
	default:
		return "unknown"
	}
}

// MarshalText renders the cadence by name so plan listings read naturally.
func (k CadenceKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a cadence name.
func (k *CadenceKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "one_shot":
		*k = CadenceOneShot
	case "fixed_slots":
		*k = CadenceFixedSlots
	case "daily":
		*k = CadenceDaily
	default:
		return fmt.Errorf("unknown cadence %q", b)
	}
	return nil
}

// Plan is an immutable boost product.
type Plan struct {
	Code         string      `json:"code"`
	Title        string      `json:"title"`
	DurationDays int         `json:"durationDays"`
	Cadence      CadenceKind `json:"cadence"`
	// PriceMinor is the price in minor currency units.
	PriceMinor int64 `json:"priceMinor"`
}

// Canonical plan codes.
const (
	PlanOneShot3d = "29-3d"
	PlanSlots15d  = "49-15d"
	PlanDaily30d  = "99-30d"
)

var catalog = map[string]Plan{
	PlanOneShot3d: {
		Code:         PlanOneShot3d,
		Title:        "Top for 3 days",
		DurationDays: 3,
		Cadence:      CadenceOneShot,
		PriceMinor:   2900,
	},
	PlanSlots15d: {
		Code:         PlanSlots15d,
		Title:        "15 days, bumped on day 7 and 14",
		DurationDays: 15,
		Cadence:      CadenceFixedSlots,
		PriceMinor:   4900,
	},
	PlanDaily30d: {
		Code:         PlanDaily30d,
		Title:        "30 days, bumped daily",
		DurationDays: 30,
		Cadence:      CadenceDaily,
		PriceMinor:   9900,
	},
}

// Legacy clients send the price alone.
var aliases = map[string]string{
	"29": PlanOneShot3d,
	"49": PlanSlots15d,
	"99": PlanDaily30d,
}

// ResolvePlan maps a plan code or legacy alias to its plan. Surrounding
// whitespace and letter case are ignored. The second return is false for
// unrecognized input, which callers report as a client error.
func ResolvePlan(code string) (Plan, bool) {
	key := strings.ToLower(strings.TrimSpace(code))
	if key == "" {
		return Plan{}, false
	}
	if canonical, ok := aliases[key]; ok {
		key = canonical
	}
	p, ok := catalog[key]
	return p, ok
}

// Plans returns the catalog ordered by price.
func Plans() []Plan {
	out := make([]Plan, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PriceMinor < out[j].PriceMinor
	})
	return out
}
