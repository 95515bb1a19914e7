// Package verification generates and checks the human-presentable codes that
// authenticate a reward redemption at pickup. A code is 12 uppercase
// alphanumeric characters: a 4-character prefix derived from the store name
// followed by an 8-character hash suffix.
package verification

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

const (
	prefixLen = 4
	suffixLen = 8
	// CodeLen is the total length of a verification code.
	CodeLen = prefixLen + suffixLen

	filler = 'A'
)

// Generate returns a new code for the given store name and redemption id.
// The suffix hashes the inputs together with the current instant, so two
// calls for the same redemption at different times produce different codes.
// Generate performs no I/O; persisting the code is the caller's job.
func Generate(storeName, redemptionID string) string {
	return generate(storeName, redemptionID, time.Now())
}

func generate(storeName, redemptionID string, at time.Time) string {
	sum := sha256.Sum256([]byte(storeName + "|" + redemptionID + "|" + strconv.FormatInt(at.UnixNano(), 10)))
	suffix := strings.ToUpper(hex.EncodeToString(sum[:]))[:suffixLen]
	return StoreNamePrefix(storeName) + suffix
}

// StoreNamePrefix derives the 4-character code prefix from a store name:
// the first four characters uppercased, with non-letters replaced by the
// filler letter and short names right-padded with it.
func StoreNamePrefix(storeName string) string {
	prefix := [prefixLen]byte{filler, filler, filler, filler}
	for i := 0; i < prefixLen && i < len(storeName); i++ {
		c := storeName[i]
		switch {
		case c >= 'A' && c <= 'Z':
			prefix[i] = c
		case c >= 'a' && c <= 'z':
			prefix[i] = c - 'a' + 'A'
		}
	}
	return string(prefix[:])
}

// ValidFormat reports whether code is structurally a verification code:
// exactly 12 uppercase letters or digits. It says nothing about whether the
// code exists or has been consumed.
func ValidFormat(code string) bool {
	if len(code) != CodeLen {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// StorePrefix extracts the store-derived prefix for display or routing. It
// must not be trusted to identify the store without a persisted lookup.
func StorePrefix(code string) string {
	if len(code) < prefixLen {
		return code
	}
	return code[:prefixLen]
}
