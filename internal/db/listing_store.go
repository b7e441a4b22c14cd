package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"classifieds/internal/boost"
	"classifieds/internal/types"
)

const listingColumns = `id, owner_id, title, status, priority_score, boost, updated_at`

// ListingStore reads and writes listing documents.
//
// Writers never read-modify-write the boost record in Go: field sets are
// JSONB merges and bumpCount is incremented in SQL, so concurrent
// activation, manual bumps and sweeps can only lose a cosmetic counter
// update, never corrupt the record.
type ListingStore struct {
	db     Pool
	logger *slog.Logger
}

// NewListingStore creates a ListingStore.
func NewListingStore(db Pool, logger *slog.Logger) *ListingStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ListingStore{db: db, logger: logger}
}

// scanListing reads one listing row in listingColumns order.
func scanListing(row pgx.Row) (*types.Listing, error) {
	var (
		l       types.Listing
		status  string
		rawJSON []byte
	)
	if err := row.Scan(&l.ID, &l.OwnerID, &l.Title, &status, &l.PriorityScore, &rawJSON, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.Status = types.ListingStatus(status)

	if len(rawJSON) > 0 && string(rawJSON) != "null" {
		var rec types.BoostRecord
		if err := json.Unmarshal(rawJSON, &rec); err != nil {
			return nil, fmt.Errorf("decoding boost record for listing %s: %w", l.ID, err)
		}
		l.Boost = &rec
	}
	return &l, nil
}

func getListing(ctx context.Context, q DBTX, sql, id string) (*types.Listing, error) {
	l, err := scanListing(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundListing, "listing not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve listing", err)
	}
	return l, nil
}

// GetListing returns a listing by id.
func (s *ListingStore) GetListing(ctx context.Context, id string) (*types.Listing, error) {
	return getListing(ctx, s.db, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
}

// TouchBump sets priority_score and, when a boost record exists, its
// lastBumpedAt. The schedule fields are left as stored.
func (s *ListingStore) TouchBump(ctx context.Context, id string, priorityScore, bumpedAt int64) (*types.Listing, error) {
	l, err := scanListing(s.db.QueryRow(ctx, `
		UPDATE listings
		SET priority_score = $2,
		    boost = CASE
		        WHEN boost IS NULL THEN NULL
		        ELSE jsonb_set(boost, '{lastBumpedAt}', to_jsonb($3::bigint))
		    END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+listingColumns,
		id, priorityScore, bumpedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundListing, "listing not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to bump listing", err)
	}
	return l, nil
}

// RunInTx runs fn in a single transaction. The transaction commits when fn
// returns nil and rolls back otherwise; fn's error is returned unchanged.
func (s *ListingStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx boost.ListingTx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(ctx, &listingTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit transaction", err)
	}
	return nil
}

// listingTx is the transaction-scoped listing view handed to RunInTx
// callbacks.
type listingTx struct {
	tx DBTX
}

func (t *listingTx) GetForUpdate(ctx context.Context, id string) (*types.Listing, error) {
	return getListing(ctx, t.tx, `SELECT `+listingColumns+` FROM listings WHERE id = $1 FOR UPDATE`, id)
}

func (t *listingTx) MergeBoost(ctx context.Context, id string, rec *types.BoostRecord, priorityScore int64) error {
	return mergeBoost(ctx, t.tx, id, rec, priorityScore)
}

// mergeBoost merges rec over the stored boost record and sets the priority.
// Columns other than boost and priority_score are untouched.
func mergeBoost(ctx context.Context, q DBTX, id string, rec *types.BoostRecord, priorityScore int64) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode boost record", err)
	}

	tag, err := q.Exec(ctx, `
		UPDATE listings
		SET boost = COALESCE(boost, '{}'::jsonb) || $2::jsonb,
		    priority_score = $3,
		    updated_at = NOW()
		WHERE id = $1`,
		id, raw, priorityScore,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to write boost record", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundListing, "listing not found", nil)
	}
	return nil
}

// QueryDue returns up to limit active boosts that the sweep must act on at
// now: every record whose window has closed, and every approved listing
// whose next bump is due. Rows come back oldest deadline first.
func (s *ListingStore) QueryDue(ctx context.Context, now int64, limit int) ([]types.Listing, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE (boost->>'active')::boolean IS TRUE
		  AND (
		    (boost->>'endAt')::bigint <= $1
		    OR (status = 'approved' AND (boost->>'nextBumpAt')::bigint <= $1)
		  )
		ORDER BY LEAST(
		    (boost->>'endAt')::bigint,
		    COALESCE((boost->>'nextBumpAt')::bigint, (boost->>'endAt')::bigint)
		) ASC, id ASC
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due boosts", err)
	}
	defer rows.Close()

	var out []types.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan due boost", err)
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate due boosts", err)
	}
	return out, nil
}

// NewWriteBatch starts a batch of sweep transitions holding at most limit
// updates.
func (s *ListingStore) NewWriteBatch(limit int) boost.Batch {
	return &WriteBatch{db: s.db, limit: limit, batch: &pgx.Batch{}}
}
