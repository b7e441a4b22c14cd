package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"classifieds/internal/billing"
	"classifieds/internal/external"
	"classifieds/internal/types"
)

const webhookSecret = "whsec_test"

type mockVerifier struct{ mock.Mock }

func (m *mockVerifier) Verify(payload []byte, header, secret string) error {
	return m.Called(payload, header, secret).Error(0)
}

type mockSettler struct{ mock.Mock }

func (m *mockSettler) SettlePaidCheckout(ctx context.Context, paid external.PaidCheckout) (*billing.SettleResult, error) {
	args := m.Called(ctx, paid)
	res, _ := args.Get(0).(*billing.SettleResult)
	return res, args.Error(1)
}

const paidCheckoutEvent = `{
  "id": "evt_1",
  "object": "event",
  "type": "checkout.session.completed",
  "data": {
    "object": {
      "id": "cs_1",
      "object": "checkout.session",
      "payment_status": "paid",
      "client_reference_id": "o-1",
      "metadata": {"order_id": "o-1", "listing_id": "L1", "plan_code": "99-30d"}
    }
  }
}`

const unpaidCheckoutEvent = `{
  "id": "evt_2",
  "object": "event",
  "type": "checkout.session.completed",
  "data": {"object": {"id": "cs_2", "object": "checkout.session", "payment_status": "unpaid", "metadata": {"order_id": "o-2"}}}
}`

const invoiceEvent = `{"id": "evt_3", "object": "event", "type": "invoice.paid", "data": {"object": {"id": "in_1", "object": "invoice"}}}`

func postWebhook(h *StripeWebhookHandler, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(HeaderStripeSignature, signature)
	}
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func wantPaid() external.PaidCheckout {
	return external.PaidCheckout{
		EventID:   "evt_1",
		SessionID: "cs_1",
		OrderID:   "o-1",
		ListingID: "L1",
		PlanCode:  "99-30d",
	}
}

func TestStripeWebhook_SettlesPaidCheckout(t *testing.T) {
	verifier := &mockVerifier{}
	verifier.On("Verify", []byte(paidCheckoutEvent), "t=1,v1=abc", webhookSecret).Return(nil)
	settler := &mockSettler{}
	settler.On("SettlePaidCheckout", mock.Anything, wantPaid()).Return(&billing.SettleResult{OrderID: "o-1"}, nil)

	h := NewStripeWebhookHandler(verifier, settler, webhookSecret, discardLogger())
	rec := postWebhook(h, paidCheckoutEvent, "t=1,v1=abc")

	assert.Equal(t, http.StatusOK, rec.Code)
	verifier.AssertExpectations(t)
	settler.AssertExpectations(t)
}

func TestStripeWebhook_IgnoresOtherEvents(t *testing.T) {
	for name, body := range map[string]string{"unpaid": unpaidCheckoutEvent, "invoice": invoiceEvent} {
		t.Run(name, func(t *testing.T) {
			verifier := &mockVerifier{}
			verifier.On("Verify", mock.Anything, mock.Anything, mock.Anything).Return(nil)
			settler := &mockSettler{}

			h := NewStripeWebhookHandler(verifier, settler, webhookSecret, discardLogger())
			rec := postWebhook(h, body, "sig")

			assert.Equal(t, http.StatusOK, rec.Code)
			settler.AssertNotCalled(t, "SettlePaidCheckout", mock.Anything, mock.Anything)
		})
	}
}

func TestStripeWebhook_SignatureFailures(t *testing.T) {
	t.Run("missing header", func(t *testing.T) {
		settler := &mockSettler{}
		h := NewStripeWebhookHandler(&mockVerifier{}, settler, webhookSecret, discardLogger())

		rec := postWebhook(h, paidCheckoutEvent, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		settler.AssertNotCalled(t, "SettlePaidCheckout", mock.Anything, mock.Anything)
	})

	t.Run("bad signature", func(t *testing.T) {
		verifier := &mockVerifier{}
		verifier.On("Verify", mock.Anything, "forged", webhookSecret).Return(errors.New("signature mismatch"))
		settler := &mockSettler{}
		h := NewStripeWebhookHandler(verifier, settler, webhookSecret, discardLogger())

		rec := postWebhook(h, paidCheckoutEvent, "forged")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		settler.AssertNotCalled(t, "SettlePaidCheckout", mock.Anything, mock.Anything)
	})
}

func TestStripeWebhook_MalformedPayload(t *testing.T) {
	verifier := &mockVerifier{}
	verifier.On("Verify", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	h := NewStripeWebhookHandler(verifier, &mockSettler{}, webhookSecret, discardLogger())

	rec := postWebhook(h, `{"id": "evt_x", "type": `, "sig")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStripeWebhook_OversizedBody(t *testing.T) {
	h := NewStripeWebhookHandler(&mockVerifier{}, &mockSettler{}, webhookSecret, discardLogger())

	rec := postWebhook(h, strings.Repeat("x", maxWebhookBodySize+1), "sig")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStripeWebhook_SettlementErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "database failure asks for redelivery",
			err:        types.NewAppError(types.ErrCodeInternalDB, "deadlock", nil),
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "plain error asks for redelivery",
			err:        errors.New("connection reset"),
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "unknown order is acknowledged",
			err:        types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil),
			wantStatus: http.StatusOK,
		},
		{
			name:       "state conflict is acknowledged",
			err:        types.NewAppError(types.ErrCodeConflictOrderState, "order cannot be settled", nil),
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := &mockVerifier{}
			verifier.On("Verify", mock.Anything, mock.Anything, mock.Anything).Return(nil)
			settler := &mockSettler{}
			settler.On("SettlePaidCheckout", mock.Anything, mock.Anything).Return(nil, tt.err)

			h := NewStripeWebhookHandler(verifier, settler, webhookSecret, discardLogger())
			rec := postWebhook(h, paidCheckoutEvent, "sig")

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}
