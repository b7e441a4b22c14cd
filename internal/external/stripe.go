package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"classifieds/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey types.SecretString
	BaseURL   string // defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient calls the Stripe REST API directly through BaseClient so
// Stripe traffic shares the breaker, retry and error mapping of every other
// vendor.
type StripeClient struct {
	base      *BaseClient
	secretKey types.SecretString
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient creates a StripeClient.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig, opts ...BaseClientOption) *StripeClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"Classifieds-Boost/1.0",
		opts...,
	)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// CreateCheckoutSession opens a one-off payment Checkout Session for a boost
// order. The order id travels as client_reference_id and in the metadata so
// the webhook can correlate the payment.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if req.AmountMinor <= 0 {
		return CheckoutSession{}, types.NewAppError(types.ErrCodeValidationInvalidInput, "checkout amount must be positive", nil)
	}

	params := url.Values{}
	params.Set("mode", "payment")
	params.Set("client_reference_id", req.OrderID)
	params.Set("success_url", req.SuccessURL)
	params.Set("cancel_url", req.CancelURL)
	params.Set("metadata["+MetadataOrderID+"]", req.OrderID)
	params.Set("metadata["+MetadataListingID+"]", req.ListingID)
	params.Set("metadata["+MetadataPlanCode+"]", req.PlanCode)
	params.Set("payment_intent_data[metadata]["+MetadataOrderID+"]", req.OrderID)
	params.Set("line_items[0][quantity]", "1")
	params.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	params.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.AmountMinor, 10))
	params.Set("line_items[0][price_data][product_data][name]", checkoutProductName(req))

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params, req.OrderID)
	if err != nil {
		return CheckoutSession{}, s.wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return CheckoutSession{}, s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripe.CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return CheckoutSession{}, types.NewAppError(
			types.ErrCodeUpstreamStripe,
			"failed to decode Stripe checkout session response",
			err,
		)
	}

	s.logger.InfoContext(ctx, "checkout session created",
		"order_id", req.OrderID,
		"session_id", session.ID,
	)
	return CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func checkoutProductName(req CheckoutRequest) string {
	if req.PlanTitle != "" {
		return req.PlanTitle
	}
	return "Boost " + req.PlanCode
}

// doPost performs an authenticated form POST. The idempotency key makes
// retries of the same order safe on Stripe's side.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values, idempotencyKey string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.secretKey.Unmask())
	req.Header.Set("Stripe-Version", stripe.APIVersion)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	return s.base.Do(req)
}

// stripeErrorResponse is the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
		Param   string `json:"param"`
	} `json:"error"`
}

func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if err := json.Unmarshal(body, &stripeErr); err != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			err,
		)
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe error (%d): %s", operation, resp.StatusCode, stripeErr.Error.Message),
		nil,
		map[string]any{
			"stripe_type":  stripeErr.Error.Type,
			"stripe_code":  stripeErr.Error.Code,
			"stripe_param": stripeErr.Error.Param,
		},
	)
}

// wrapStripeError keeps AppErrors from BaseClient as they are and wraps
// anything else.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed", operation),
		err,
	)
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

// StripeVerifier checks webhook signatures with stripe-go, which validates
// the HMAC and the timestamp tolerance.
type StripeVerifier struct{}

// Verify implements WebhookVerifier.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return webhook.ValidatePayload(payload, header, secret)
}

// PaidCheckout is a completed and paid boost checkout.
type PaidCheckout struct {
	EventID   string
	SessionID string
	OrderID   string
	ListingID string
	PlanCode  string
}

// ParsePaidCheckout decodes a verified webhook payload. It returns ok=false
// for events that are not a paid checkout.session.completed.
func ParsePaidCheckout(payload []byte) (PaidCheckout, bool, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return PaidCheckout{}, false, types.NewAppError(types.ErrCodeValidationInvalidJSON, "malformed webhook event", err)
	}
	if event.Type != stripe.EventTypeCheckoutSessionCompleted || event.Data == nil {
		return PaidCheckout{}, false, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return PaidCheckout{}, false, types.NewAppError(types.ErrCodeValidationInvalidJSON, "malformed checkout session", err)
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return PaidCheckout{}, false, nil
	}

	out := PaidCheckout{
		EventID:   event.ID,
		SessionID: session.ID,
		OrderID:   session.Metadata[MetadataOrderID],
		ListingID: session.Metadata[MetadataListingID],
		PlanCode:  session.Metadata[MetadataPlanCode],
	}
	if out.OrderID == "" {
		out.OrderID = session.ClientReferenceID
	}
	if out.OrderID == "" {
		return PaidCheckout{}, false, types.NewAppError(types.ErrCodeValidationMissingField, "checkout session carries no order id", nil)
	}
	return out, true, nil
}

var (
	_ PaymentProvider = (*StripeClient)(nil)
	_ WebhookVerifier = (*StripeVerifier)(nil)
)
