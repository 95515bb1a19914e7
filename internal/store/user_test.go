package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/branlyclub/branlyclub/internal/database"
	"github.com/branlyclub/branlyclub/internal/model"
)

func setupUserTestDB(t *testing.T) *UserStore {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "user_test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewUserStore(db)
}

func TestUserCreate(t *testing.T) {
	us := setupUserTestDB(t)

	u, err := us.Create("Admin@Example.com", "Admin", testPassword, model.RoleAdmin)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.Email != "admin@example.com" {
		t.Errorf("email = %q, want lowercased", u.Email)
	}
	if u.Role != model.RoleAdmin {
		t.Errorf("role = %q, want %q", u.Role, model.RoleAdmin)
	}

	if _, err := us.Create("admin@example.com", "Dup", testPassword, model.RoleOwner); !errors.Is(err, ErrValidation) {
		t.Errorf("duplicate email: err = %v, want ErrValidation", err)
	}
	if _, err := us.Create("x@example.com", "X", testPassword, "customer"); !errors.Is(err, ErrValidation) {
		t.Errorf("bad role: err = %v, want ErrValidation", err)
	}
	if _, err := us.Create("y@example.com", "Y", "", model.RoleOwner); !errors.Is(err, ErrValidation) {
		t.Errorf("empty password hash: err = %v, want ErrValidation", err)
	}
}

func TestUserLookupAndUpdate(t *testing.T) {
	us := setupUserTestDB(t)
	u, err := us.Create("owner@example.com", "Owner", testPassword, model.RoleOwner)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	got, err := us.GetByEmail("OWNER@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if got == nil || got.ID != u.ID {
		t.Errorf("get by email = %+v, want id %d", got, u.ID)
	}

	updated, err := us.Update(u.ID, "novo@example.com", "Novo Nome")
	if err != nil {
		t.Fatalf("update user: %v", err)
	}
	if updated.Email != "novo@example.com" || updated.Name != "Novo Nome" {
		t.Errorf("updated = %+v", updated)
	}

	if err := us.Delete(u.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	got, err = us.GetByID(u.ID)
	if err != nil || got != nil {
		t.Errorf("after delete: got (%+v, %v), want (nil, nil)", got, err)
	}
}
