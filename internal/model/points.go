package model

import "time"

// PendingPointsEntry records points earned before any customer account exists
// to hold them, keyed by CPF. Once migrated it is immutable and kept for
// audit.
type PendingPointsEntry struct {
	ID         int64      `json:"id"`
	CPF        string     `json:"cpf"`
	StoreID    int64      `json:"store_id"`
	Amount     int        `json:"amount"`
	ReceiptKey string     `json:"receipt_key,omitempty"`
	Migrated   bool       `json:"migrated"`
	MigratedAt *time.Time `json:"migrated_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

type PointBalance struct {
	CustomerID int64     `json:"customer_id"`
	StoreID    int64     `json:"store_id"`
	Balance    int       `json:"balance"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Transaction kinds.
const (
	TxPurchase   = "purchase"
	TxMigration  = "migration"
	TxRedemption = "redemption"
)

type PointTransaction struct {
	ID          int64     `json:"id"`
	CustomerID  int64     `json:"customer_id"`
	StoreID     int64     `json:"store_id"`
	Amount      int       `json:"amount"`
	Kind        string    `json:"kind"`
	SourceID    string    `json:"source_id,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// MigrationResult aggregates one MigratePendingPoints invocation.
type MigrationResult struct {
	MigratedCount int `json:"migrated_count"`
	TotalPoints   int `json:"total_points"`
}

// Receipt is an ingested NFC-e purchase event. AccessKey is the 44-digit
// NFC-e access key and doubles as the ingestion idempotency key.
type Receipt struct {
	AccessKey  string    `json:"access_key"`
	StoreID    int64     `json:"store_id"`
	CPF        string    `json:"cpf,omitempty"`
	TotalCents int64     `json:"total_cents"`
	Points     int       `json:"points"`
	CustomerID *int64    `json:"customer_id"`
	CreatedAt  time.Time `json:"created_at"`
}
