package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/branlyclub/branlyclub/internal/cpf"
	"github.com/branlyclub/branlyclub/internal/model"
)

// CustomerStore manages end-user accounts. CPF is normalized to digits on
// every write and lookup.
type CustomerStore struct {
	db *sql.DB
}

func NewCustomerStore(db *sql.DB) *CustomerStore {
	return &CustomerStore{db: db}
}

func scanCustomer(scanner interface{ Scan(...any) error }) (*model.Customer, error) {
	var c model.Customer
	err := scanner.Scan(&c.ID, &c.Name, &c.Email, &c.CPF, &c.PasswordHash, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const customerCols = `id, name, email, cpf, password_hash, created_at, updated_at`

func (s *CustomerStore) Create(name, email, taxDocument, passwordHash string) (*model.Customer, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	doc := cpf.Normalize(taxDocument)

	if name == "" || email == "" || passwordHash == "" {
		return nil, fmt.Errorf("%w: name, email and password are required", ErrValidation)
	}
	if !cpf.Valid(doc) {
		return nil, fmt.Errorf("%w: invalid CPF", ErrValidation)
	}

	result, err := s.db.Exec(
		`INSERT INTO customers (name, email, cpf, password_hash) VALUES (?, ?, ?, ?)`,
		name, email, doc, passwordHash,
	)
	if uniqueViolation(err, "customers.email") {
		return nil, fmt.Errorf("%w: email already registered", ErrValidation)
	}
	if uniqueViolation(err, "customers.cpf") {
		return nil, fmt.Errorf("%w: CPF already registered", ErrValidation)
	}
	if err != nil {
		return nil, fmt.Errorf("insert customer: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *CustomerStore) GetByID(id int64) (*model.Customer, error) {
	row := s.db.QueryRow(`SELECT `+customerCols+` FROM customers WHERE id = ?`, id)
	c, err := scanCustomer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return c, nil
}

func (s *CustomerStore) GetByEmail(email string) (*model.Customer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	row := s.db.QueryRow(`SELECT `+customerCols+` FROM customers WHERE email = ?`, email)
	c, err := scanCustomer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get customer by email: %w", err)
	}
	return c, nil
}

func (s *CustomerStore) GetByCPF(taxDocument string) (*model.Customer, error) {
	doc := cpf.Normalize(taxDocument)
	if doc == "" {
		return nil, nil
	}
	row := s.db.QueryRow(`SELECT `+customerCols+` FROM customers WHERE cpf = ?`, doc)
	c, err := scanCustomer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get customer by cpf: %w", err)
	}
	return c, nil
}

func (s *CustomerStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM customers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete customer: %w", err)
	}
	return nil
}
