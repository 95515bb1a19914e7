// Package receipt parses the 44-digit access key printed on NF-e/NFC-e fiscal
// receipts. The access key identifies one purchase nationwide and is the
// idempotency key for purchase ingestion.
package receipt

import (
	"errors"
	"fmt"
)

// AccessKeyLen is the fixed length of an NF-e/NFC-e access key.
const AccessKeyLen = 44

var (
	ErrKeyLength     = errors.New("access key must be 44 digits")
	ErrKeyNotNumeric = errors.New("access key must contain only digits")
	ErrKeyCheckDigit = errors.New("access key check digit mismatch")
)

// AccessKey is the decoded structure of a fiscal receipt key:
// cUF(2) AAMM(4) CNPJ(14) model(2) series(3) number(9) emission(1) code(8) DV(1).
type AccessKey struct {
	UF           int    // IBGE state code
	Year         int    // full emission year
	Month        int    // emission month, 1-12
	CNPJ         string // issuer CNPJ, 14 digits
	Model        int    // 55 = NF-e, 65 = NFC-e
	Series       int
	Number       int64
	EmissionType int
	Code         string // random numeric code (cNF)
	CheckDigit   int
}

// ParseAccessKey decodes and verifies a 44-digit access key.
func ParseAccessKey(key string) (*AccessKey, error) {
	if len(key) != AccessKeyLen {
		return nil, ErrKeyLength
	}
	for i := 0; i < len(key); i++ {
		if key[i] < '0' || key[i] > '9' {
			return nil, ErrKeyNotNumeric
		}
	}

	if CheckDigit(key[:43]) != int(key[43]-'0') {
		return nil, ErrKeyCheckDigit
	}

	month := atoi(key[4:6])
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("invalid emission month %02d", month)
	}

	return &AccessKey{
		UF:           atoi(key[0:2]),
		Year:         2000 + atoi(key[2:4]),
		Month:        month,
		CNPJ:         key[6:20],
		Model:        atoi(key[20:22]),
		Series:       atoi(key[22:25]),
		Number:       int64(atoi(key[25:34])),
		EmissionType: atoi(key[34:35]),
		Code:         key[35:43],
		CheckDigit:   int(key[43] - '0'),
	}, nil
}

// CheckDigit computes the mod-11 check digit over the first 43 digits,
// weighting 2 through 9 cyclically from the rightmost digit.
func CheckDigit(first43 string) int {
	sum := 0
	weight := 2
	for i := len(first43) - 1; i >= 0; i-- {
		sum += int(first43[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	rem := sum % 11
	if rem < 2 {
		return 0
	}
	return 11 - rem
}

func atoi(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}
