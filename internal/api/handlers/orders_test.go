package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classifieds/internal/billing"
	"classifieds/internal/config"
	"classifieds/internal/core"
	"classifieds/internal/types"
)

type stubOrderCreator struct {
	gotActor   types.Actor
	gotListing string
	gotPlan    string
	result     *billing.CreateOrderResult
	err        error
}

func (s *stubOrderCreator) CreateOrder(_ context.Context, actor types.Actor, listingID, planCode string) (*billing.CreateOrderResult, error) {
	s.gotActor = actor
	s.gotListing = listingID
	s.gotPlan = planCode
	return s.result, s.err
}

func newOrderServer(t *testing.T, creator OrderCreator) http.Handler {
	t.Helper()
	srv, err := core.NewServer(&config.Config{}, discardLogger())
	require.NoError(t, err)
	srv.Tokens = &core.MockTokenVerifier{Tokens: map[string]string{ownerToken: "U1"}}

	h := NewOrderHandler(creator, srv.Validator, discardLogger())
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) { h.RegisterRoutes(r) })
	srv.MountRoutes()
	return srv.Handler()
}

func TestCreateOrder_ReturnsCheckoutURL(t *testing.T) {
	creator := &stubOrderCreator{result: &billing.CreateOrderResult{
		OrderID:     "o-1",
		SessionID:   "cs_1",
		CheckoutURL: "https://checkout.stripe.com/c/pay/cs_1",
		AmountMinor: 9900,
		Currency:    "eur",
	}}
	h := newOrderServer(t, creator)

	rec := do(t, h, http.MethodPost, "/v1/orders", map[string]string{"itemId": "L1", "planCode": "99"}, bearer(ownerToken))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp CreateOrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "o-1", resp.OrderID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_1", resp.CheckoutURL)

	assert.Equal(t, "U1", creator.gotActor.ID)
	assert.Equal(t, "L1", creator.gotListing)
	assert.Equal(t, "99", creator.gotPlan)
}

func TestCreateOrder_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		cred       credential
		err        error
		wantStatus int
		wantCalled bool
	}{
		{name: "unauthenticated", body: map[string]string{"itemId": "L1", "planCode": "29"}, cred: anonymous, wantStatus: http.StatusUnauthorized},
		{name: "unknown plan", body: map[string]string{"itemId": "L1", "planCode": "7"}, cred: bearer(ownerToken), wantStatus: http.StatusBadRequest},
		{name: "unknown field", body: `{"itemId":"L1","planCode":"29","coupon":"x"}`, cred: bearer(ownerToken), wantStatus: http.StatusBadRequest},
		{
			name:       "not owner",
			body:       map[string]string{"itemId": "L1", "planCode": "29"},
			cred:       bearer(ownerToken),
			err:        types.NewAppError(types.ErrCodePermissionNotOwner, "not allowed", nil),
			wantStatus: http.StatusForbidden,
			wantCalled: true,
		},
		{
			name:       "stripe down",
			body:       map[string]string{"itemId": "L1", "planCode": "29"},
			cred:       bearer(ownerToken),
			err:        types.NewAppError(types.ErrCodeUpstreamStripe, "stripe unavailable", nil),
			wantStatus: http.StatusInternalServerError,
			wantCalled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creator := &stubOrderCreator{err: tt.err}
			h := newOrderServer(t, creator)

			rec := do(t, h, http.MethodPost, "/v1/orders", tt.body, tt.cred)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCalled, creator.gotListing != "")
		})
	}
}
