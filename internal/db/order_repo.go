package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"classifieds/internal/types"
)

// OrderRepository persists boost payment orders.
//
// The pending→paid transition is a conditional UPDATE, so a replayed
// payment webhook finds the order already paid and does nothing.
type OrderRepository struct {
	db DBTX
}

// NewOrderRepository creates an OrderRepository.
func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a new order.
func (r *OrderRepository) Create(ctx context.Context, o *types.BoostOrder) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO boost_orders (
			id, listing_id, user_id, plan_code, amount_minor, currency,
			status, provider_session_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.ListingID, o.UserID, o.PlanCode, o.AmountMinor, o.Currency,
		string(o.Status), o.ProviderSessionID, o.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create order", err)
	}
	return nil
}

// SetProviderSession records the checkout session created for an order.
func (r *OrderRepository) SetProviderSession(ctx context.Context, id, sessionID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE boost_orders SET provider_session_id = $2 WHERE id = $1`,
		id, sessionID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update order", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil)
	}
	return nil
}

// GetByID returns an order by id.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*types.BoostOrder, error) {
	var (
		o      types.BoostOrder
		status string
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, listing_id, user_id, plan_code, amount_minor, currency,
		       status, provider_session_id, created_at, paid_at
		FROM boost_orders
		WHERE id = $1`,
		id,
	).Scan(
		&o.ID, &o.ListingID, &o.UserID, &o.PlanCode, &o.AmountMinor, &o.Currency,
		&status, &o.ProviderSessionID, &o.CreatedAt, &o.PaidAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve order", err)
	}
	o.Status = types.OrderStatus(status)
	return &o, nil
}

// MarkPaid moves a pending order to paid. It reports false without error
// when the order was already paid. An order in any other state is a
// conflict.
func (r *OrderRepository) MarkPaid(ctx context.Context, id string, paidAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE boost_orders
		SET status = 'paid', paid_at = $2
		WHERE id = $1 AND status = 'pending'`,
		id, paidAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark order paid", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	o, err := r.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if o.Status == types.OrderPaid {
		return false, nil
	}
	return false, types.NewAppErrorWithDetails(
		types.ErrCodeConflictOrderState,
		"order cannot be marked paid",
		nil,
		map[string]any{"status": string(o.Status)},
	)
}

// MarkFailed moves a pending order to failed. Orders in other states are
// left alone.
func (r *OrderRepository) MarkFailed(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE boost_orders SET status = 'failed' WHERE id = $1 AND status = 'pending'`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark order failed", err)
	}
	return nil
}
