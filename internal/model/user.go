package model

import "time"

const (
	RoleAdmin    = "admin"
	RoleOwner    = "owner"
	RoleCustomer = "customer"
)

// User is a platform account: a store owner (lojista) or a platform admin.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
