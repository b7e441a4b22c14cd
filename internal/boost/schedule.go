package boost

import (
	"math/rand/v2"
	"time"

	"classifieds/internal/types"
)

const (
	// DayMillis is one calendar day in epoch milliseconds.
	DayMillis int64 = 24 * 60 * 60 * 1000

	// MaxJitterMillis bounds the random offset added to priority scores.
	MaxJitterMillis = 500
)

// Day offsets of the FIXED_SLOTS bumps.
var fixedSlotDays = []int64{7, 14}

// ToMillis converts t to epoch milliseconds.
func ToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts epoch milliseconds to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// EndAt returns the instant a window of durationDays starting at startAt
// closes. A zero duration closes the window at startAt.
func EndAt(startAt int64, durationDays int) int64 {
	if durationDays < 0 {
		durationDays = 0
	}
	return startAt + int64(durationDays)*DayMillis
}

// BuildFixedSlots returns the day-7 and day-14 bump instants after startAt,
// keeping only those strictly before the window end. The result has zero,
// one, or two entries.
func BuildFixedSlots(startAt int64, durationDays int) []int64 {
	end := EndAt(startAt, durationDays)
	slots := make([]int64, 0, len(fixedSlotDays))
	for _, d := range fixedSlotDays {
		at := startAt + d*DayMillis
		if at < end {
			slots = append(slots, at)
		}
	}
	return slots
}

// ComputeNextBump returns the next scheduled bump instant, or false when no
// further bump remains in the window.
//
// DAILY bumps follow lastBumpedAt by 24h. FIXED_SLOTS picks the earliest slot
// after now, so a slot that passed without being consumed is skipped rather
// than fired late. ONE_SHOT and a nil plan never schedule.
func ComputeNextBump(plan *Plan, startAt, lastBumpedAt, endAt int64, schedule []int64, now int64) (int64, bool) {
	if plan == nil || endAt <= startAt {
		return 0, false
	}

	switch plan.Cadence {
	case CadenceDaily:
		base := lastBumpedAt
		if base < startAt {
			base = startAt
		}
		next := base + DayMillis
		if next < endAt {
			return next, true
		}
		return 0, false

	case CadenceFixedSlots:
		var (
			best  int64
			found bool
		)
		for _, at := range schedule {
			if at <= now || at >= endAt {
				continue
			}
			if !found || at < best {
				best, found = at, true
			}
		}
		return best, found

	default:
		return 0, false
	}
}

// JitterFunc returns a tie-breaking offset in [0, MaxJitterMillis).
type JitterFunc func() int64

// DefaultJitter draws from the process-wide random source.
func DefaultJitter() int64 {
	return rand.Int64N(MaxJitterMillis)
}

// PriorityAt returns the priority score of a bump at now.
func PriorityAt(now int64, jitter JitterFunc) int64 {
	if jitter == nil {
		jitter = DefaultJitter
	}
	return now + jitter()
}

// NewRecord builds the boost record for a period starting at now. The first
// bump happens at activation, so lastBumpedAt equals startAt and bumpCount
// starts at one.
func NewRecord(plan Plan, now int64) *types.BoostRecord {
	end := EndAt(now, plan.DurationDays)

	var schedule []int64
	if plan.Cadence == CadenceFixedSlots {
		schedule = BuildFixedSlots(now, plan.DurationDays)
	}

	rec := &types.BoostRecord{
		Plan:         plan.Code,
		Active:       true,
		StartAt:      now,
		EndAt:        end,
		LastBumpedAt: now,
		BumpSchedule: schedule,
		BumpCount:    1,
	}
	if next, ok := ComputeNextBump(&plan, now, now, end, schedule, now); ok {
		rec.NextBumpAt = &next
	}
	return rec
}
