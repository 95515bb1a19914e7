package model

import "time"

// Store is a tenant: a shop whose owner configures earning rules and rewards.
// PointsPerReal is the number of points credited per whole currency unit of a
// purchase. APIKey authenticates the store's point-of-sale integration.
type Store struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Slug          string    `json:"slug"`
	OwnerID       int64     `json:"owner_id"`
	PointsPerReal int       `json:"points_per_real"`
	APIKey        string    `json:"-"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
