package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is how long a session cookie stays valid.
const TokenTTL = 7 * 24 * time.Hour

var ErrInvalidToken = errors.New("invalid session token")

// Claims is the JWT payload stored in the session cookie. Subject is the
// account id (users or customers row, depending on Role).
type Claims struct {
	Role    string `json:"role"`
	StoreID int64  `json:"store_id,omitempty"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies session tokens with an HMAC secret.
type Tokens struct {
	secret []byte
}

func NewTokens(secret string) *Tokens {
	return &Tokens{secret: []byte(secret)}
}

// Issue creates a signed session token for the given identity.
func (t *Tokens) Issue(ac AuthContext, now time.Time) (string, error) {
	claims := Claims{
		Role:    ac.Role,
		StoreID: ac.StoreID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", ac.AccountID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies a session token and returns the identity it carries.
func (t *Tokens) Parse(tokenStr string) (AuthContext, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return AuthContext{}, ErrInvalidToken
	}

	var accountID int64
	if _, err := fmt.Sscanf(claims.Subject, "%d", &accountID); err != nil || accountID <= 0 {
		return AuthContext{}, ErrInvalidToken
	}

	return AuthContext{
		AccountID: accountID,
		Role:      claims.Role,
		StoreID:   claims.StoreID,
	}, nil
}
