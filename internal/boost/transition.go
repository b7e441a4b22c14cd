package boost

import (
	"context"

	"classifieds/internal/types"
)

// Outcome is the sweep decision for one boost record.
type Outcome int

const (
	// OutcomeSkip leaves the record untouched.
	OutcomeSkip Outcome = iota
	// OutcomeBump refreshes priority and advances the schedule.
	OutcomeBump
	// OutcomeExpire closes the boost period.
	OutcomeExpire
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBump:
		return "bump"
	case OutcomeExpire:
		return "expire"
	default:
		return "skip"
	}
}

// Transition is the field update the sweep applies to one listing.
// NextBumpAt is only meaningful for OutcomeBump; expiry always clears it.
// StartAt identifies the boost period the decision was made on.
type Transition struct {
	ListingID     string
	OwnerID       string
	Outcome       Outcome
	StartAt       int64
	PriorityScore int64
	LastBumpedAt  int64
	NextBumpAt    *int64
}

// Batch collects sweep transitions and commits them together. Add rejects
// updates past the batch ceiling; a failed Commit leaves every item
// uncommitted.
type Batch interface {
	Add(t Transition) error
	Len() int
	Full() bool
	Items() []Transition
	Commit(ctx context.Context) error
}

// Advance decides what a sweep at now does to listing l.
//
// A record whose plan no longer resolves, or whose window has closed,
// expires. A due record on an approved listing is bumped with a fresh
// priority and a recomputed next bump. Everything else is skipped, which
// includes a record whose cadence is exhausted but whose window is still
// open: it stays active until endAt.
func Advance(l *types.Listing, now int64, jitter JitterFunc) Transition {
	t := Transition{ListingID: l.ID, OwnerID: l.OwnerID}
	rec := l.Boost
	if rec == nil || !rec.Active {
		return t
	}
	t.StartAt = rec.StartAt

	plan, ok := ResolvePlan(rec.Plan)
	if !ok || rec.Expired(now) {
		t.Outcome = OutcomeExpire
		return t
	}

	if l.Status != types.ListingApproved || !rec.DueForBump(now) {
		return t
	}

	t.Outcome = OutcomeBump
	t.PriorityScore = PriorityAt(now, jitter)
	t.LastBumpedAt = now
	if next, ok := ComputeNextBump(&plan, rec.StartAt, now, rec.EndAt, rec.BumpSchedule, now); ok {
		t.NextBumpAt = &next
	}
	return t
}
