package types

import "time"

// ListingStatus is the moderation state of a listing.
type ListingStatus string

const (
	ListingPending  ListingStatus = "pending"
	ListingApproved ListingStatus = "approved"
	ListingRejected ListingStatus = "rejected"
	ListingSold     ListingStatus = "sold"
)

// Listing is a classified ad as seen by the boost subsystem. The listing
// row is shared with the ranking path, which orders by PriorityScore.
type Listing struct {
	ID            string
	OwnerID       string
	Title         string
	Status        ListingStatus
	PriorityScore int64
	Boost         *BoostRecord
	UpdatedAt     time.Time
}

// BoostRecord is the boost sub-document embedded in a listing. It is stored
// as JSONB, and every instant is epoch milliseconds.
//
// NextBumpAt is nil once no further scheduled bump remains. BumpSchedule is
// only populated for fixed-slot plans and is never rewritten after
// activation.
type BoostRecord struct {
	Plan         string  `json:"plan"`
	Active       bool    `json:"active"`
	StartAt      int64   `json:"startAt"`
	EndAt        int64   `json:"endAt"`
	LastBumpedAt int64   `json:"lastBumpedAt"`
	NextBumpAt   *int64  `json:"nextBumpAt"`
	BumpSchedule []int64 `json:"bumpSchedule"`
	BumpCount    int     `json:"bumpCount"`
}

// Expired reports whether the boost window has closed at now (epoch ms).
func (b *BoostRecord) Expired(now int64) bool {
	return now >= b.EndAt
}

// DueForBump reports whether a scheduled bump is due at now (epoch ms).
func (b *BoostRecord) DueForBump(now int64) bool {
	return b.Active && b.NextBumpAt != nil && *b.NextBumpAt <= now
}

// OrderStatus is the lifecycle state of a boost payment order.
type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderPaid    OrderStatus = "paid"
	OrderFailed  OrderStatus = "failed"
)

// BoostOrder is a payment order for a boost plan. Once paid, the listing's
// boost is activated with the ordered plan.
type BoostOrder struct {
	ID                string
	ListingID         string
	UserID            string
	PlanCode          string
	AmountMinor       int64
	Currency          string
	Status            OrderStatus
	ProviderSessionID string
	CreatedAt         time.Time
	PaidAt            *time.Time
}

// DevicePlatform identifies which push provider serves a device.
type DevicePlatform string

const (
	PlatformWeb    DevicePlatform = "web"
	PlatformMobile DevicePlatform = "mobile"
)

// PushDevice is a registered push destination for a user.
type PushDevice struct {
	ID       string
	UserID   string
	Platform DevicePlatform
	Token    string
}
