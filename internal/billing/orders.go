// Package billing sells boosts: it opens a Stripe Checkout for a plan and,
// once Stripe reports the payment, activates the boost on the listing.
package billing

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"classifieds/internal/boost"
	"classifieds/internal/external"
	"classifieds/internal/notifications/push"
	"classifieds/internal/types"
)

// OrderStore persists boost orders. db.OrderRepository implements it.
type OrderStore interface {
	Create(ctx context.Context, o *types.BoostOrder) error
	SetProviderSession(ctx context.Context, id, sessionID string) error
	GetByID(ctx context.Context, id string) (*types.BoostOrder, error)
	// MarkPaid reports true only for the call that moved the order from
	// pending to paid.
	MarkPaid(ctx context.Context, id string, paidAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string) error
}

// ListingReader loads a listing for the pre-checkout checks.
type ListingReader interface {
	GetListing(ctx context.Context, id string) (*types.Listing, error)
}

// Activator starts a boost period. boost.Service implements it.
type Activator interface {
	Activate(ctx context.Context, actor types.Actor, listingID, planCode string) (*boost.ActivateResult, error)
}

// Notifier enqueues a single push message.
type Notifier interface {
	Publish(ctx context.Context, msg types.PushMessage) error
}

// ServiceConfig carries the dependencies and settings of Service. Notifier
// is optional; without it no activation push is sent.
type ServiceConfig struct {
	Orders    OrderStore
	Listings  ListingReader
	Payments  external.PaymentProvider
	Activator Activator
	Notifier  Notifier
	Clock     types.Clock
	Logger    *slog.Logger

	Currency      string
	SuccessURL    string
	CancelURL     string
	PublicBaseURL string
}

// Service creates boost orders and settles them.
type Service struct {
	cfg    ServiceConfig
	clock  types.Clock
	logger *slog.Logger
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Currency = strings.ToLower(cfg.Currency)
	return &Service{cfg: cfg, clock: clock, logger: logger}
}

// CreateOrderResult is returned to the buyer, who continues at CheckoutURL.
type CreateOrderResult struct {
	OrderID     string
	SessionID   string
	CheckoutURL string
	AmountMinor int64
	Currency    string
}

// CreateOrder opens a checkout for planCode on listingID.
//
// The same checks as activation run first (plan, listing, ownership,
// approval) so a buyer cannot pay for a boost that would be refused. The
// order row is written before the checkout session so the webhook can
// always find it; a checkout failure marks the order failed.
func (s *Service) CreateOrder(ctx context.Context, actor types.Actor, listingID, planCode string) (*CreateOrderResult, error) {
	plan, ok := boost.ResolvePlan(planCode)
	if !ok {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidPlan,
			"unknown plan code",
			nil,
			map[string]any{"planCode": planCode},
		)
	}

	listing, err := s.cfg.Listings.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(listing.OwnerID) {
		return nil, types.NewAppError(types.ErrCodePermissionNotOwner, "not allowed to boost this listing", nil)
	}
	if listing.Status != types.ListingApproved {
		return nil, types.NewAppError(types.ErrCodeValidationNotApproved, "listing is not approved", nil)
	}

	order := &types.BoostOrder{
		ID:          uuid.NewString(),
		ListingID:   listing.ID,
		UserID:      actor.ID,
		PlanCode:    plan.Code,
		AmountMinor: plan.PriceMinor,
		Currency:    s.cfg.Currency,
		Status:      types.OrderPending,
		CreatedAt:   s.clock.Now().UTC(),
	}
	if err := s.cfg.Orders.Create(ctx, order); err != nil {
		return nil, err
	}

	session, err := s.cfg.Payments.CreateCheckoutSession(ctx, external.CheckoutRequest{
		OrderID:     order.ID,
		ListingID:   order.ListingID,
		UserID:      order.UserID,
		PlanCode:    plan.Code,
		PlanTitle:   plan.Title,
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
		SuccessURL:  s.cfg.SuccessURL,
		CancelURL:   s.cfg.CancelURL,
	})
	if err != nil {
		if markErr := s.cfg.Orders.MarkFailed(ctx, order.ID); markErr != nil {
			s.logger.ErrorContext(ctx, "failed to mark order failed", "order_id", order.ID, "error", markErr)
		}
		return nil, err
	}

	if err := s.cfg.Orders.SetProviderSession(ctx, order.ID, session.ID); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "boost order created",
		"order_id", order.ID,
		"listing_id", order.ListingID,
		"plan", plan.Code,
		"amount_minor", order.AmountMinor,
	)
	return &CreateOrderResult{
		OrderID:     order.ID,
		SessionID:   session.ID,
		CheckoutURL: session.URL,
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
	}, nil
}

// SettleResult describes what a paid checkout did.
type SettleResult struct {
	OrderID string
	// AlreadyPaid is true when the order had been settled by an earlier
	// delivery of the same event.
	AlreadyPaid bool
	Activation  *boost.ActivateResult
}

// SettlePaidCheckout activates the boost an order paid for and marks the
// order paid.
//
// Activation runs before the order is marked, so a delivery that fails
// midway leaves the order pending and the provider's retry repeats the
// whole step. A replay after success finds the order paid and does
// nothing.
func (s *Service) SettlePaidCheckout(ctx context.Context, paid external.PaidCheckout) (*SettleResult, error) {
	order, err := s.cfg.Orders.GetByID(ctx, paid.OrderID)
	if err != nil {
		return nil, err
	}

	log := s.logger.With("order_id", order.ID, "listing_id", order.ListingID, "event_id", paid.EventID)

	if paid.ListingID != "" && paid.ListingID != order.ListingID {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeConflictOrderState,
			"checkout does not match order",
			nil,
			map[string]any{"orderListing": order.ListingID, "checkoutListing": paid.ListingID},
		)
	}

	switch order.Status {
	case types.OrderPaid:
		log.InfoContext(ctx, "order already paid, ignoring replay")
		return &SettleResult{OrderID: order.ID, AlreadyPaid: true}, nil
	case types.OrderPending:
	default:
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeConflictOrderState,
			"order cannot be settled",
			nil,
			map[string]any{"status": string(order.Status)},
		)
	}

	activation, err := s.cfg.Activator.Activate(ctx, types.SystemActor(), order.ListingID, order.PlanCode)
	if err != nil {
		if IsRetryable(err) {
			return nil, err
		}
		// Paid but refused: the order needs a manual refund or reactivation.
		log.WarnContext(ctx, "activation refused for paid order, marking failed", "plan", order.PlanCode, "error", err)
		if markErr := s.cfg.Orders.MarkFailed(ctx, order.ID); markErr != nil {
			return nil, markErr
		}
		return nil, err
	}

	changed, err := s.cfg.Orders.MarkPaid(ctx, order.ID, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !changed {
		log.WarnContext(ctx, "order was settled concurrently")
		return &SettleResult{OrderID: order.ID, AlreadyPaid: true, Activation: activation}, nil
	}

	log.InfoContext(ctx, "boost order settled", "plan", order.PlanCode)
	s.notifyStarted(ctx, log, activation)
	return &SettleResult{OrderID: order.ID, Activation: activation}, nil
}

// notifyStarted enqueues the boost_started push. Failure is logged only:
// the boost is live whether or not the owner hears about it.
func (s *Service) notifyStarted(ctx context.Context, log *slog.Logger, a *boost.ActivateResult) {
	if s.cfg.Notifier == nil || a == nil {
		return
	}
	msg := push.NewMessage(types.PushEventBoostStarted, a.OwnerID, a.ListingID, a.Title, s.cfg.PublicBaseURL)
	if err := s.cfg.Notifier.Publish(ctx, msg); err != nil {
		log.ErrorContext(ctx, "failed to enqueue boost started push", "error", err)
	}
}

// IsRetryable reports whether a settlement error may succeed on redelivery.
// Client-fault errors (unknown order, state conflicts, refused activation)
// will not.
func IsRetryable(err error) bool {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return !appErr.Code.IsClientFault()
	}
	return true
}
