package model

import "time"

type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Subscription is the payment-state ledger row correlating a (team, user)
// pair to an external recurring charge. At most one row exists per pair.
type Subscription struct {
	TeamID         string             `json:"team_id"`
	UserID         string             `json:"user_id"`
	SessionID      string             `json:"session_id"`
	SubscriptionID string             `json:"subscription_id,omitempty"`
	CustomerID     string             `json:"customer_id,omitempty"`
	AmountCents    int64              `json:"amount_cents"`
	Status         SubscriptionStatus `json:"status"`
	ExpiresAt      *time.Time         `json:"expires_at,omitempty"`
	CreatedAt      *time.Time         `json:"created_at,omitempty"`
	UpdatedAt      *time.Time         `json:"updated_at,omitempty"`
	CancelledAt    *time.Time         `json:"cancelled_at,omitempty"`
}
