// Package cpf normalizes and validates Brazilian individual taxpayer numbers
// (CPF), the provisional customer identity used before account registration.
package cpf

import "strings"

// Normalize strips every non-digit character from s.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// Valid reports whether s is a well-formed CPF after normalization: exactly
// 11 digits, not a repeated-digit sequence, and with matching mod-11 check
// digits.
func Valid(s string) bool {
	s = Normalize(s)
	if len(s) != 11 {
		return false
	}

	// Repeated-digit sequences (000..., 111..., etc.) pass the checksum but
	// are not assignable CPFs.
	repeated := true
	for i := 1; i < 11; i++ {
		if s[i] != s[0] {
			repeated = false
			break
		}
	}
	if repeated {
		return false
	}

	if checkDigit(s, 9) != int(s[9]-'0') {
		return false
	}
	return checkDigit(s, 10) == int(s[10]-'0')
}

// checkDigit computes the mod-11 check digit over the first n digits of s,
// using descending weights starting at n+1.
func checkDigit(s string, n int) int {
	sum := 0
	for i := 0; i < n; i++ {
		sum += int(s[i]-'0') * (n + 1 - i)
	}
	d := (sum * 10) % 11
	if d == 10 {
		return 0
	}
	return d
}
