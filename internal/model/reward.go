package model

import "time"

type Reward struct {
	ID          int64     `json:"id"`
	StoreID     int64     `json:"store_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	PointCost   int       `json:"point_cost"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

type Redemption struct {
	ID          int64     `json:"id"`
	PublicID    string    `json:"public_id"`
	RewardID    int64     `json:"reward_id"`
	CustomerID  *int64    `json:"customer_id"`
	StoreID     int64     `json:"store_id"`
	PointsSpent int       `json:"points_spent"`
	RedeemedAt  time.Time `json:"redeemed_at"`
}

// VerificationCode authenticates one redemption at pickup. A code is
// single-use: ConsumedAt is set on the first successful validation.
type VerificationCode struct {
	ID           int64      `json:"id"`
	RedemptionID int64      `json:"redemption_id"`
	StoreID      int64      `json:"store_id"`
	Code         string     `json:"code"`
	GeneratedAt  time.Time  `json:"generated_at"`
	ConsumedAt   *time.Time `json:"consumed_at"`
}
