package external

import (
	"context"
)

// ---------------------------------------------------------------------------
// Payments (Stripe)
// ---------------------------------------------------------------------------

// CheckoutRequest describes a one-off payment for a boost plan.
type CheckoutRequest struct {
	OrderID     string
	ListingID   string
	UserID      string
	PlanCode    string
	PlanTitle   string
	AmountMinor int64
	Currency    string
	SuccessURL  string
	CancelURL   string
}

// CheckoutSession is the provider's hosted payment page.
type CheckoutSession struct {
	ID  string
	URL string
}

// PaymentProvider creates hosted checkout sessions.
type PaymentProvider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
}

// WebhookVerifier abstracts Stripe webhook signature checking.
type WebhookVerifier interface {
	// Verify returns nil when header is a valid signature of payload under
	// secret and its timestamp is within tolerance.
	Verify(payload []byte, header string, secret string) error
}

// Stripe metadata keys attached to boost checkout sessions.
const (
	MetadataOrderID   = "order_id"
	MetadataListingID = "listing_id"
	MetadataPlanCode  = "plan_code"
)

// ---------------------------------------------------------------------------
// Push providers
// ---------------------------------------------------------------------------

// PushDelivery is one notification addressed to one device token.
type PushDelivery struct {
	Token    string            `json:"token"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	ImageURL string            `json:"image,omitempty"`
	LinkURL  string            `json:"link,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
}

// PushProvider delivers a notification to a single device. An error with
// code upstream_invalid_recipient means the token is permanently dead.
type PushProvider interface {
	Deliver(ctx context.Context, d PushDelivery) error
}
