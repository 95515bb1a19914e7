package model

import "time"

// Backup records one uploaded database snapshot.
type Backup struct {
	ID        int64     `json:"id"`
	Key       string    `json:"key"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}
