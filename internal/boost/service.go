package boost

import (
	"context"
	"log/slog"

	"classifieds/internal/types"
)

// ListingTx is the transaction-scoped view of the listing store used by
// activation.
type ListingTx interface {
	// GetForUpdate reads the listing and holds it for the rest of the
	// transaction.
	GetForUpdate(ctx context.Context, id string) (*types.Listing, error)
	// MergeBoost replaces the boost sub-record and priority score, leaving
	// all other listing fields untouched.
	MergeBoost(ctx context.Context, id string, rec *types.BoostRecord, priorityScore int64) error
}

// ListingStore is the listing persistence the boost service needs.
type ListingStore interface {
	GetListing(ctx context.Context, id string) (*types.Listing, error)
	// TouchBump sets priorityScore and boost.lastBumpedAt and returns the
	// listing as stored afterwards.
	TouchBump(ctx context.Context, id string, priorityScore, bumpedAt int64) (*types.Listing, error)
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx ListingTx) error) error
}

// ServiceConfig carries the dependencies of Service. Nil Clock, Jitter and
// Logger fall back to the real clock, DefaultJitter and slog.Default().
type ServiceConfig struct {
	Store  ListingStore
	Clock  types.Clock
	Jitter JitterFunc
	Logger *slog.Logger
}

// Service runs boost activation and manual bumps.
type Service struct {
	store  ListingStore
	clock  types.Clock
	jitter JitterFunc
	logger *slog.Logger
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	jitter := cfg.Jitter
	if jitter == nil {
		jitter = DefaultJitter
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  cfg.Store,
		clock:  clock,
		jitter: jitter,
		logger: logger,
	}
}

// ActivateResult describes a freshly started boost period.
type ActivateResult struct {
	ListingID     string
	OwnerID       string
	Title         string
	Plan          Plan
	Record        *types.BoostRecord
	PriorityScore int64
}

// Activate starts a new boost period on a listing.
//
// Checks run in order: plan code, listing existence, ownership, approval.
// The listing is read and written inside one transaction; an existing
// boost, expired or not, is replaced.
func (s *Service) Activate(ctx context.Context, actor types.Actor, listingID, planCode string) (*ActivateResult, error) {
	plan, ok := ResolvePlan(planCode)
	if !ok {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidPlan,
			"unknown plan code",
			nil,
			map[string]any{"planCode": planCode},
		)
	}

	var result *ActivateResult
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx ListingTx) error {
		listing, err := tx.GetForUpdate(ctx, listingID)
		if err != nil {
			return err
		}
		if !actor.CanManage(listing.OwnerID) {
			return types.NewAppError(types.ErrCodePermissionNotOwner, "not allowed to boost this listing", nil)
		}
		if listing.Status != types.ListingApproved {
			return types.NewAppError(types.ErrCodeValidationNotApproved, "listing is not approved", nil)
		}

		now := ToMillis(s.clock.Now())
		rec := NewRecord(plan, now)
		priority := PriorityAt(now, s.jitter)

		if err := tx.MergeBoost(ctx, listing.ID, rec, priority); err != nil {
			return err
		}

		result = &ActivateResult{
			ListingID:     listing.ID,
			OwnerID:       listing.OwnerID,
			Title:         listing.Title,
			Plan:          plan,
			Record:        rec,
			PriorityScore: priority,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "boost activated",
		"listing_id", result.ListingID,
		"plan", plan.Code,
		"actor_type", actor.Type,
		"end_at", result.Record.EndAt,
	)
	return result, nil
}

// BumpResult describes a manual bump.
type BumpResult struct {
	ListingID     string
	PriorityScore int64
	LastBumpedAt  int64
	// NextBumpAt echoes the stored schedule; a manual bump never moves it.
	NextBumpAt *int64
}

// ManualBump refreshes a listing's priority outside the schedule. Only
// ownership is checked; the listing need not be approved or boosted.
func (s *Service) ManualBump(ctx context.Context, actor types.Actor, listingID string) (*BumpResult, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(listing.OwnerID) {
		return nil, types.NewAppError(types.ErrCodePermissionNotOwner, "not allowed to bump this listing", nil)
	}

	now := ToMillis(s.clock.Now())
	priority := PriorityAt(now, s.jitter)

	updated, err := s.store.TouchBump(ctx, listing.ID, priority, now)
	if err != nil {
		return nil, err
	}

	res := &BumpResult{
		ListingID:     listing.ID,
		PriorityScore: priority,
		LastBumpedAt:  now,
	}
	if updated != nil && updated.Boost != nil {
		res.NextBumpAt = updated.Boost.NextBumpAt
	}

	s.logger.InfoContext(ctx, "listing bumped manually",
		"listing_id", listing.ID,
		"actor_type", actor.Type,
	)
	return res, nil
}

// Status returns the listing with its boost record after an ownership check.
func (s *Service) Status(ctx context.Context, actor types.Actor, listingID string) (*types.Listing, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(listing.OwnerID) {
		return nil, types.NewAppError(types.ErrCodePermissionNotOwner, "not allowed to view this listing", nil)
	}
	return listing, nil
}
