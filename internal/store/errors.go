package store

import (
	"errors"
	"strings"
)

// Domain errors surfaced by the stores. Handlers map these to HTTP statuses.
var (
	// ErrValidation rejects malformed input before any write happens.
	ErrValidation = errors.New("invalid input")

	// ErrInsufficientPoints rejects a redemption the balance cannot cover.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrCodeConsumed rejects a verification code presented a second time.
	ErrCodeConsumed = errors.New("verification code already consumed")

	// ErrDuplicateReceipt rejects a receipt access key that was already
	// ingested.
	ErrDuplicateReceipt = errors.New("receipt already ingested")

	// ErrRewardInactive rejects redemption of a deactivated reward.
	ErrRewardInactive = errors.New("reward is not active")
)

// uniqueViolation reports whether err is a UNIQUE constraint failure on the
// given column (e.g. "customers.email").
func uniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}

// busy reports whether err is a SQLite write-contention error worth retrying.
func busy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
