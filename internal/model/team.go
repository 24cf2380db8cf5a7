package model

import "time"

type AccessMode string

const (
	AccessModeFree AccessMode = "free"
	AccessModePaid AccessMode = "paid"
)

type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

type Team struct {
	ID              string     `json:"team_id"`
	Name            string     `json:"team_name" validate:"required"`
	AccessMode      AccessMode `json:"access_mode" validate:"required"`
	Tier            Tier       `json:"tier"`
	TierPriceCents  int64      `json:"tier_price_cents"`
	JoiningFeeCents int64      `json:"joining_fee_cents"`
	CreatedBy       string     `json:"created_by"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
}

type TeamSummary struct {
	ID              string     `json:"team_id"`
	Name            string     `json:"team_name"`
	AccessMode      AccessMode `json:"access_mode"`
	Tier            Tier       `json:"tier"`
	JoiningFeeCents int64      `json:"joining_fee_cents"`
	MemberCount     int        `json:"member_count"`
}
