package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"classifieds/internal/boost"
	"classifieds/internal/types"
)

const (
	bumpSQL = `
		UPDATE listings
		SET priority_score = $2,
		    boost = boost || jsonb_build_object(
		        'lastBumpedAt', $3::bigint,
		        'nextBumpAt', $4::bigint,
		        'bumpCount', COALESCE((boost->>'bumpCount')::int, 0) + 1
		    ),
		    updated_at = NOW()
		WHERE id = $1 AND (boost->>'startAt')::bigint = $5`

	expireSQL = `
		UPDATE listings
		SET boost = boost || '{"active": false, "nextBumpAt": null}'::jsonb,
		    updated_at = NOW()
		WHERE id = $1 AND (boost->>'startAt')::bigint = $2`
)

// WriteBatch accumulates sweep transitions and commits them in one round
// trip. Each update matches the boost period the sweep read, so a record
// re-activated after the read is left alone. It holds at most its limit of updates: Add rejects past the ceiling
// instead of dropping updates.
//
// A WriteBatch is not safe for concurrent use.
type WriteBatch struct {
	db    Pool
	limit int
	batch *pgx.Batch
	items []boost.Transition
}

var _ boost.Batch = (*WriteBatch)(nil)

// Add queues the write for t. Skip transitions are ignored.
func (b *WriteBatch) Add(t boost.Transition) error {
	if t.Outcome == boost.OutcomeSkip {
		return nil
	}
	if len(b.items) >= b.limit {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationBatchExceeded,
			"write batch is full",
			nil,
			map[string]any{"limit": b.limit},
		)
	}

	switch t.Outcome {
	case boost.OutcomeBump:
		b.batch.Queue(bumpSQL, t.ListingID, t.PriorityScore, t.LastBumpedAt, t.NextBumpAt, t.StartAt)
	case boost.OutcomeExpire:
		b.batch.Queue(expireSQL, t.ListingID, t.StartAt)
	default:
		return fmt.Errorf("unsupported transition outcome %d", t.Outcome)
	}
	b.items = append(b.items, t)
	return nil
}

// Len returns the number of queued updates.
func (b *WriteBatch) Len() int {
	return len(b.items)
}

// Full reports whether Add would reject the next update.
func (b *WriteBatch) Full() bool {
	return len(b.items) >= b.limit
}

// Items returns the queued transitions in insertion order.
func (b *WriteBatch) Items() []boost.Transition {
	return b.items
}

// Commit sends all queued updates. On error the whole batch is reported
// failed; the caller treats every item as uncommitted.
func (b *WriteBatch) Commit(ctx context.Context) error {
	if len(b.items) == 0 {
		return nil
	}

	br := b.db.SendBatch(ctx, b.batch)
	for i := range b.items {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return types.NewAppError(
				types.ErrCodeInternalDB,
				fmt.Sprintf("failed to apply update for listing %s", b.items[i].ListingID),
				err,
			)
		}
	}
	if err := br.Close(); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to close write batch", err)
	}
	return nil
}
