package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"classifieds/internal/boost"
	"classifieds/internal/external"
	"classifieds/internal/types"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// ============================================================
// Mocks
// ============================================================

type mockOrders struct{ mock.Mock }

func (m *mockOrders) Create(ctx context.Context, o *types.BoostOrder) error {
	return m.Called(ctx, o).Error(0)
}

func (m *mockOrders) SetProviderSession(ctx context.Context, id, sessionID string) error {
	return m.Called(ctx, id, sessionID).Error(0)
}

func (m *mockOrders) GetByID(ctx context.Context, id string) (*types.BoostOrder, error) {
	args := m.Called(ctx, id)
	o, _ := args.Get(0).(*types.BoostOrder)
	return o, args.Error(1)
}

func (m *mockOrders) MarkPaid(ctx context.Context, id string, paidAt time.Time) (bool, error) {
	args := m.Called(ctx, id, paidAt)
	return args.Bool(0), args.Error(1)
}

func (m *mockOrders) MarkFailed(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type stubListings struct {
	listings map[string]*types.Listing
}

func (s *stubListings) GetListing(_ context.Context, id string) (*types.Listing, error) {
	l, ok := s.listings[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundListing, "listing not found", nil)
	}
	return l, nil
}

type stubPayments struct {
	got     []external.CheckoutRequest
	session external.CheckoutSession
	err     error
}

func (p *stubPayments) CreateCheckoutSession(_ context.Context, req external.CheckoutRequest) (external.CheckoutSession, error) {
	p.got = append(p.got, req)
	return p.session, p.err
}

type stubActivator struct {
	calls []string
	actor types.Actor
	err   error
}

func (a *stubActivator) Activate(_ context.Context, actor types.Actor, listingID, planCode string) (*boost.ActivateResult, error) {
	a.calls = append(a.calls, listingID+"/"+planCode)
	a.actor = actor
	if a.err != nil {
		return nil, a.err
	}
	plan, _ := boost.ResolvePlan(planCode)
	return &boost.ActivateResult{ListingID: listingID, OwnerID: "u1", Title: "Blue bike", Plan: plan}, nil
}

type stubNotifier struct {
	msgs []types.PushMessage
	err  error
}

func (n *stubNotifier) Publish(_ context.Context, msg types.PushMessage) error {
	n.msgs = append(n.msgs, msg)
	return n.err
}

type fixture struct {
	orders    *mockOrders
	listings  *stubListings
	payments  *stubPayments
	activator *stubActivator
	notifier  *stubNotifier
	svc       *Service
}

func newFixture() *fixture {
	f := &fixture{
		orders: &mockOrders{},
		listings: &stubListings{listings: map[string]*types.Listing{
			"L1": {ID: "L1", OwnerID: "u1", Title: "Blue bike", Status: types.ListingApproved},
			"L2": {ID: "L2", OwnerID: "u1", Status: types.ListingPending},
		}},
		payments:  &stubPayments{session: external.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}},
		activator: &stubActivator{},
		notifier:  &stubNotifier{},
	}
	f.svc = NewService(ServiceConfig{
		Orders:        f.orders,
		Listings:      f.listings,
		Payments:      f.payments,
		Activator:     f.activator,
		Notifier:      f.notifier,
		Clock:         types.FixedClock{At: now},
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Currency:      "EUR",
		SuccessURL:    "https://example.com/boost/success",
		CancelURL:     "https://example.com/boost/cancel",
		PublicBaseURL: "https://example.com",
	})
	return f
}

func owner() types.Actor { return types.Actor{ID: "u1", Type: types.ActorTypeUser} }

func appCode(t *testing.T, err error) types.ErrorCode {
	t.Helper()
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	return appErr.Code
}

// ============================================================
// CreateOrder
// ============================================================

func TestCreateOrder_Success(t *testing.T) {
	f := newFixture()

	var created *types.BoostOrder
	f.orders.On("Create", mock.Anything, mock.AnythingOfType("*types.BoostOrder")).
		Run(func(args mock.Arguments) { created = args.Get(1).(*types.BoostOrder) }).
		Return(nil)
	f.orders.On("SetProviderSession", mock.Anything, mock.AnythingOfType("string"), "cs_test_1").Return(nil)

	res, err := f.svc.CreateOrder(context.Background(), owner(), "L1", " 49 ")
	require.NoError(t, err)

	require.NotNil(t, created)
	assert.Equal(t, created.ID, res.OrderID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", res.CheckoutURL)
	assert.Equal(t, boost.PlanSlots15d, created.PlanCode)
	assert.Equal(t, int64(4900), created.AmountMinor)
	assert.Equal(t, "eur", created.Currency)
	assert.Equal(t, types.OrderPending, created.Status)
	assert.Equal(t, now, created.CreatedAt)

	require.Len(t, f.payments.got, 1)
	req := f.payments.got[0]
	assert.Equal(t, created.ID, req.OrderID)
	assert.Equal(t, "L1", req.ListingID)
	assert.Equal(t, "u1", req.UserID)
	assert.Equal(t, int64(4900), req.AmountMinor)
	assert.Equal(t, "https://example.com/boost/success", req.SuccessURL)

	f.orders.AssertExpectations(t)
}

func TestCreateOrder_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		actor    types.Actor
		listing  string
		plan     string
		wantCode types.ErrorCode
	}{
		{name: "unknown plan", actor: owner(), listing: "L1", plan: "19", wantCode: types.ErrCodeValidationInvalidPlan},
		{name: "missing listing", actor: owner(), listing: "nope", plan: "29", wantCode: types.ErrCodeNotFoundListing},
		{name: "not owner", actor: types.Actor{ID: "u2", Type: types.ActorTypeUser}, listing: "L1", plan: "29", wantCode: types.ErrCodePermissionNotOwner},
		{name: "not approved", actor: owner(), listing: "L2", plan: "29", wantCode: types.ErrCodeValidationNotApproved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.CreateOrder(context.Background(), tt.actor, tt.listing, tt.plan)
			assert.Equal(t, tt.wantCode, appCode(t, err))
			assert.Empty(t, f.payments.got)
			f.orders.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestCreateOrder_CheckoutFailureMarksOrderFailed(t *testing.T) {
	f := newFixture()
	f.payments.err = types.NewAppError(types.ErrCodeUpstreamStripe, "stripe down", nil)

	var orderID string
	f.orders.On("Create", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { orderID = args.Get(1).(*types.BoostOrder).ID }).
		Return(nil)
	f.orders.On("MarkFailed", mock.Anything, mock.Anything).Return(nil)

	_, err := f.svc.CreateOrder(context.Background(), owner(), "L1", "99")
	assert.Equal(t, types.ErrCodeUpstreamStripe, appCode(t, err))

	f.orders.AssertCalled(t, "MarkFailed", mock.Anything, orderID)
	f.orders.AssertNotCalled(t, "SetProviderSession", mock.Anything, mock.Anything, mock.Anything)
}

// ============================================================
// SettlePaidCheckout
// ============================================================

func pendingOrder() *types.BoostOrder {
	return &types.BoostOrder{
		ID:        "o-1",
		ListingID: "L1",
		UserID:    "u1",
		PlanCode:  boost.PlanDaily30d,
		Status:    types.OrderPending,
	}
}

func TestSettlePaidCheckout_ActivatesAndNotifies(t *testing.T) {
	f := newFixture()
	f.orders.On("GetByID", mock.Anything, "o-1").Return(pendingOrder(), nil)
	f.orders.On("MarkPaid", mock.Anything, "o-1", now).Return(true, nil)

	res, err := f.svc.SettlePaidCheckout(context.Background(), external.PaidCheckout{OrderID: "o-1", ListingID: "L1"})
	require.NoError(t, err)

	assert.False(t, res.AlreadyPaid)
	assert.Equal(t, []string{"L1/" + boost.PlanDaily30d}, f.activator.calls)
	assert.True(t, f.activator.actor.IsSystem(), "settlement activates as the system actor")

	require.Len(t, f.notifier.msgs, 1)
	msg := f.notifier.msgs[0]
	assert.Equal(t, types.PushEventBoostStarted, msg.Event)
	assert.Equal(t, "u1", msg.RecipientID)
	assert.Contains(t, msg.Body, "Blue bike")
	assert.Equal(t, "https://example.com/items/L1", msg.LinkURL)
	f.orders.AssertExpectations(t)
}

func TestSettlePaidCheckout_ReplayIsNoop(t *testing.T) {
	f := newFixture()
	paid := pendingOrder()
	paid.Status = types.OrderPaid
	f.orders.On("GetByID", mock.Anything, "o-1").Return(paid, nil)

	res, err := f.svc.SettlePaidCheckout(context.Background(), external.PaidCheckout{OrderID: "o-1"})
	require.NoError(t, err)

	assert.True(t, res.AlreadyPaid)
	assert.Empty(t, f.activator.calls)
	assert.Empty(t, f.notifier.msgs)
	f.orders.AssertNotCalled(t, "MarkPaid", mock.Anything, mock.Anything, mock.Anything)
}

func TestSettlePaidCheckout_ActivationFailureLeavesOrderPending(t *testing.T) {
	f := newFixture()
	f.orders.On("GetByID", mock.Anything, "o-1").Return(pendingOrder(), nil)
	f.activator.err = types.NewAppError(types.ErrCodeInternalDB, "deadlock", nil)

	_, err := f.svc.SettlePaidCheckout(context.Background(), external.PaidCheckout{OrderID: "o-1"})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	f.orders.AssertNotCalled(t, "MarkPaid", mock.Anything, mock.Anything, mock.Anything)
	f.orders.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything)
}

func TestSettlePaidCheckout_RefusedActivationMarksOrderFailed(t *testing.T) {
	f := newFixture()
	f.orders.On("GetByID", mock.Anything, "o-1").Return(pendingOrder(), nil)
	f.orders.On("MarkFailed", mock.Anything, "o-1").Return(nil)
	f.activator.err = types.NewAppError(types.ErrCodeValidationNotApproved, "listing is not approved", nil)

	_, err := f.svc.SettlePaidCheckout(context.Background(), external.PaidCheckout{OrderID: "o-1"})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeValidationNotApproved, appCode(t, err))
	assert.False(t, IsRetryable(err))
	f.orders.AssertCalled(t, "MarkFailed", mock.Anything, "o-1")
	f.orders.AssertNotCalled(t, "MarkPaid", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.notifier.msgs)
}

func TestSettlePaidCheckout_RefusedActivationMarkFailureIsRetryable(t *testing.T) {
	f := newFixture()
	f.orders.On("GetByID", mock.Anything, "o-1").Return(pendingOrder(), nil)
	f.orders.On("MarkFailed", mock.Anything, "o-1").Return(types.NewAppError(types.ErrCodeInternalDB, "conn reset", nil))
	f.activator.err = types.NewAppError(types.ErrCodeValidationNotApproved, "listing is not approved", nil)

	_, err := f.svc.SettlePaidCheckout(context.Background(), external.PaidCheckout{OrderID: "o-1"})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestSettlePaidCheckout_ConcurrentSettlementSkipsPush(t *testing.T) {
	f := newFixture()
	f.orders.On("GetByID", mock.Anything, "o-1").Return(pendingOrder(), nil)
	f.orders.On("MarkPaid", mock.Anything, "o-1", now).Return(false, nil)

	res, err := f.svc.SettlePaidCheckout(context.Background(), external.PaidCheckout{OrderID: "o-1"})
	require.NoError(t, err)
	assert.True(t, res.AlreadyPaid)
	assert.Empty(t, f.notifier.msgs)
}

func TestSettlePaidCheckout_Conflicts(t *testing.T) {
	t.Run("listing mismatch", func(t *testing.T) {
		f := newFixture()
		f.orders.On("GetByID", mock.Anything, "o-1").Return(pendingOrder(), nil)

		_, err := f.svc.SettlePaidCheckout(context.Background(), external.PaidCheckout{OrderID: "o-1", ListingID: "L9"})
		assert.Equal(t, types.ErrCodeConflictOrderState, appCode(t, err))
		assert.False(t, IsRetryable(err))
		assert.Empty(t, f.activator.calls)
	})

	t.Run("failed order", func(t *testing.T) {
		f := newFixture()
		failed := pendingOrder()
		failed.Status = types.OrderFailed
		f.orders.On("GetByID", mock.Anything, "o-1").Return(failed, nil)

		_, err := f.svc.SettlePaidCheckout(context.Background(), external.PaidCheckout{OrderID: "o-1"})
		assert.Equal(t, types.ErrCodeConflictOrderState, appCode(t, err))
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newFixture()
		f.orders.On("GetByID", mock.Anything, "o-x").
			Return(nil, types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil))

		_, err := f.svc.SettlePaidCheckout(context.Background(), external.PaidCheckout{OrderID: "o-x"})
		assert.Equal(t, types.ErrCodeNotFoundOrder, appCode(t, err))
		assert.False(t, IsRetryable(err))
	})
}

func TestSettlePaidCheckout_NotifierFailureDoesNotFail(t *testing.T) {
	f := newFixture()
	f.notifier.err = errors.New("sqs throttled")
	f.orders.On("GetByID", mock.Anything, "o-1").Return(pendingOrder(), nil)
	f.orders.On("MarkPaid", mock.Anything, "o-1", now).Return(true, nil)

	_, err := f.svc.SettlePaidCheckout(context.Background(), external.PaidCheckout{OrderID: "o-1"})
	assert.NoError(t, err)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("connection reset")))
	assert.True(t, IsRetryable(types.NewAppError(types.ErrCodeUpstreamUnavailable, "x", nil)))
	assert.False(t, IsRetryable(types.NewAppError(types.ErrCodePermissionNotOwner, "x", nil)))
}
