package handlers

// The Stripe webhook is not behind auth middleware: Stripe calls it directly
// and the Stripe-Signature header is the credential.

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"classifieds/internal/billing"
	"classifieds/internal/core"
	"classifieds/internal/external"
	"classifieds/internal/types"
)

// maxWebhookBodySize caps a Stripe webhook payload. Checkout events are a
// few kilobytes.
const maxWebhookBodySize = 64 * 1024

// HeaderStripeSignature carries Stripe's timestamped HMAC.
const HeaderStripeSignature = "Stripe-Signature"

// CheckoutSettler settles a paid checkout. billing.Service implements it.
type CheckoutSettler interface {
	SettlePaidCheckout(ctx context.Context, paid external.PaidCheckout) (*billing.SettleResult, error)
}

// StripeWebhookHandler turns paid checkouts into active boosts.
type StripeWebhookHandler struct {
	verifier external.WebhookVerifier
	settler  CheckoutSettler
	secret   string
	logger   *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	settler CheckoutSettler,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier: verifier,
		settler:  settler,
		secret:   secret,
		logger:   logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. It belongs on the public
// router.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes one Stripe event delivery.
//
//  1. Reads the body (size-limited) and verifies Stripe-Signature.
//  2. Ignores anything but a paid checkout.session.completed.
//  3. Settles the order, which activates the boost.
//
// Settlement errors that a redelivery cannot fix (unknown order, state
// conflict, refused activation) are acknowledged with 200 and logged.
// Anything else answers 500 so that Stripe retries.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidInput,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get(HeaderStripeSignature)
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}
	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenInvalid,
			"webhook signature verification failed",
			err,
		))
		return
	}

	paid, ok, err := external.ParsePaidCheckout(payload)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to parse webhook event", "error", err)
		core.Error(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	log := h.logger.With("event_id", paid.EventID, "order_id", paid.OrderID)

	res, err := h.settler.SettlePaidCheckout(r.Context(), paid)
	if err != nil {
		if billing.IsRetryable(err) {
			log.ErrorContext(r.Context(), "checkout settlement failed, requesting redelivery", "error", err)
			core.Error(w, r, err)
			return
		}
		log.WarnContext(r.Context(), "checkout settlement rejected", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	log.InfoContext(r.Context(), "checkout settled", "already_paid", res.AlreadyPaid)
	w.WriteHeader(http.StatusOK)
}
