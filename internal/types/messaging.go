package types

// PushEvent identifies why a push notification was emitted.
type PushEvent string

const (
	PushEventBoostBumped  PushEvent = "boost_bumped"
	PushEventBoostExpired PushEvent = "boost_expired"
	PushEventBoostStarted PushEvent = "boost_started"
)

// PushMessage is the SQS envelope consumed by the push worker. Delivery is
// at-least-once; MessageID lets providers and logs correlate retries.
type PushMessage struct {
	MessageID   string    `json:"message_id"`
	Event       PushEvent `json:"event"`
	RecipientID string    `json:"recipient_id"`
	ListingID   string    `json:"listing_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	ImageURL    string    `json:"image_url,omitempty"`
	LinkURL     string    `json:"link_url,omitempty"`
	RetryCount  int       `json:"retry_count"`
	TraceID     string    `json:"trace_id,omitempty"`
}
