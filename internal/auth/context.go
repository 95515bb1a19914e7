package auth

import (
	"context"

	"github.com/branlyclub/branlyclub/internal/model"
)

type contextKey struct{}

// AuthContext carries the authenticated identity through a request. For
// owners and admins AccountID is a users row; for customers it is a
// customers row. StoreID is the owner's store, zero otherwise.
type AuthContext struct {
	AccountID int64
	Role      string
	StoreID   int64
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func AccountID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.AccountID
}

func StoreID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.StoreID
}

func Role(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.Role
}

func IsAdmin(ctx context.Context) bool {
	return Role(ctx) == model.RoleAdmin
}

func IsCustomer(ctx context.Context) bool {
	return Role(ctx) == model.RoleCustomer
}
