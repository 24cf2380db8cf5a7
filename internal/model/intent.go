package model

import "time"

type IntentStatus string

const (
	IntentStatusPending  IntentStatus = "pending"
	IntentStatusConsumed IntentStatus = "consumed"
)

// TeamIntent is a durable pending-creation record for a paid team. It is
// written before the owner is redirected to checkout and consumed exactly
// once by the webhook that confirms the payment.
type TeamIntent struct {
	ID              string       `json:"intent_id"`
	UserID          string       `json:"user_id"`
	TeamName        string       `json:"team_name"`
	Tier            Tier         `json:"tier"`
	TierPriceCents  int64        `json:"tier_price_cents"`
	JoiningFeeCents int64        `json:"joining_fee_cents"`
	Status          IntentStatus `json:"status"`
	CreatedAt       *time.Time   `json:"created_at,omitempty"`
	ExpiresAt       *time.Time   `json:"expires_at,omitempty"`
}
