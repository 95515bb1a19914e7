package model

import "time"

// Customer is an end user who accumulates and redeems points. CPF is stored
// digits-only and is the customer's provisional identity before registration.
type Customer struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	CPF          string    `json:"cpf"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
