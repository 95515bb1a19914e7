package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/branlyclub/branlyclub/internal/model"
)

// TenantStore manages stores (lojas), the tenants of the platform.
type TenantStore struct {
	db *sql.DB
}

func NewTenantStore(db *sql.DB) *TenantStore {
	return &TenantStore{db: db}
}

func scanStore(scanner interface{ Scan(...any) error }) (*model.Store, error) {
	var st model.Store
	var active int

	err := scanner.Scan(&st.ID, &st.Name, &st.Slug, &st.OwnerID, &st.PointsPerReal, &st.APIKey, &active, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}

	st.Active = active != 0
	return &st, nil
}

const storeCols = `id, name, slug, owner_id, points_per_real, api_key, active, created_at, updated_at`

func (s *TenantStore) Create(name, slug string, ownerID int64, pointsPerReal int) (*model.Store, error) {
	name = strings.TrimSpace(name)
	slug = strings.ToLower(strings.TrimSpace(slug))
	if name == "" || slug == "" || ownerID <= 0 {
		return nil, fmt.Errorf("%w: name, slug and owner are required", ErrValidation)
	}
	if pointsPerReal <= 0 {
		return nil, fmt.Errorf("%w: points_per_real must be positive", ErrValidation)
	}

	result, err := s.db.Exec(
		`INSERT INTO stores (name, slug, owner_id, points_per_real, api_key) VALUES (?, ?, ?, ?, ?)`,
		name, slug, ownerID, pointsPerReal, uuid.NewString(),
	)
	if uniqueViolation(err, "stores.slug") {
		return nil, fmt.Errorf("%w: slug already in use", ErrValidation)
	}
	if err != nil {
		return nil, fmt.Errorf("insert store: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *TenantStore) GetByID(id int64) (*model.Store, error) {
	row := s.db.QueryRow(`SELECT `+storeCols+` FROM stores WHERE id = ?`, id)
	st, err := scanStore(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get store: %w", err)
	}
	return st, nil
}

func (s *TenantStore) GetBySlug(slug string) (*model.Store, error) {
	row := s.db.QueryRow(`SELECT `+storeCols+` FROM stores WHERE slug = ?`, strings.ToLower(slug))
	st, err := scanStore(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get store by slug: %w", err)
	}
	return st, nil
}

// GetByAPIKey resolves the store behind a point-of-sale integration key.
// Inactive stores are excluded so a disabled tenant cannot ingest receipts.
func (s *TenantStore) GetByAPIKey(apiKey string) (*model.Store, error) {
	if apiKey == "" {
		return nil, nil
	}
	row := s.db.QueryRow(`SELECT `+storeCols+` FROM stores WHERE api_key = ? AND active = 1`, apiKey)
	st, err := scanStore(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get store by api key: %w", err)
	}
	return st, nil
}

func (s *TenantStore) GetByOwner(ownerID int64) (*model.Store, error) {
	row := s.db.QueryRow(`SELECT `+storeCols+` FROM stores WHERE owner_id = ?`, ownerID)
	st, err := scanStore(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get store by owner: %w", err)
	}
	return st, nil
}

// List returns all stores, active first, then by name.
func (s *TenantStore) List() ([]model.Store, error) {
	rows, err := s.db.Query(`SELECT ` + storeCols + ` FROM stores ORDER BY active DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	defer rows.Close()

	var stores []model.Store
	for rows.Next() {
		st, err := scanStore(rows)
		if err != nil {
			return nil, fmt.Errorf("scan store: %w", err)
		}
		stores = append(stores, *st)
	}
	return stores, rows.Err()
}

func (s *TenantStore) Update(id int64, name string, pointsPerReal int, active bool) (*model.Store, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if pointsPerReal <= 0 {
		return nil, fmt.Errorf("%w: points_per_real must be positive", ErrValidation)
	}

	var a int
	if active {
		a = 1
	}

	_, err := s.db.Exec(
		`UPDATE stores SET name = ?, points_per_real = ?, active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		name, pointsPerReal, a, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update store: %w", err)
	}
	return s.GetByID(id)
}

// RotateAPIKey replaces the store's POS integration key and returns the
// updated store.
func (s *TenantStore) RotateAPIKey(id int64) (*model.Store, error) {
	_, err := s.db.Exec(
		`UPDATE stores SET api_key = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		uuid.NewString(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("rotate api key: %w", err)
	}
	return s.GetByID(id)
}

func (s *TenantStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM stores WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete store: %w", err)
	}
	return nil
}
