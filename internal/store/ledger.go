package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/branlyclub/branlyclub/internal/cpf"
	"github.com/branlyclub/branlyclub/internal/model"
)

// LedgerStore is the points ledger: pending credits keyed by CPF before a
// customer account exists, per-store balances, and the transaction log.
type LedgerStore struct {
	db *sql.DB
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// withBusyRetry runs fn, retrying with exponential backoff while SQLite
// reports write contention. Transactions roll back before each retry, so a
// retried invocation starts from a clean slate.
func withBusyRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(5, retry.NewExponential(10*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if busy(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func scanPendingEntry(scanner interface{ Scan(...any) error }) (*model.PendingPointsEntry, error) {
	var e model.PendingPointsEntry
	var receiptKey sql.NullString
	var migrated int
	var migratedAt sql.NullTime

	err := scanner.Scan(&e.ID, &e.CPF, &e.StoreID, &e.Amount, &receiptKey, &migrated, &migratedAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	e.ReceiptKey = receiptKey.String
	e.Migrated = migrated != 0
	if migratedAt.Valid {
		e.MigratedAt = &migratedAt.Time
	}
	return &e, nil
}

const pendingCols = `id, cpf, store_id, amount, receipt_key, migrated, migrated_at, created_at`

// CreditPending records points earned by a CPF that has no customer account
// yet. The entry stays unmigrated until MigratePendingPoints claims it.
func (s *LedgerStore) CreditPending(taxDocument string, storeID int64, amount int, receiptKey string) (*model.PendingPointsEntry, error) {
	doc := cpf.Normalize(taxDocument)
	if doc == "" || storeID <= 0 {
		return nil, fmt.Errorf("%w: cpf and store are required", ErrValidation)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	var rk sql.NullString
	if receiptKey != "" {
		rk = sql.NullString{String: receiptKey, Valid: true}
	}

	result, err := s.db.Exec(
		`INSERT INTO pending_points (cpf, store_id, amount, receipt_key) VALUES (?, ?, ?, ?)`,
		doc, storeID, amount, rk,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pending entry: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetPendingEntry(id)
}

func (s *LedgerStore) GetPendingEntry(id int64) (*model.PendingPointsEntry, error) {
	row := s.db.QueryRow(`SELECT `+pendingCols+` FROM pending_points WHERE id = ?`, id)
	e, err := scanPendingEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending entry: %w", err)
	}
	return e, nil
}

// ListUnmigrated returns all unmigrated entries for a CPF across stores,
// oldest first. An empty result is the expected steady state, not an error.
func (s *LedgerStore) ListUnmigrated(taxDocument string) ([]model.PendingPointsEntry, error) {
	doc := cpf.Normalize(taxDocument)
	rows, err := s.db.Query(
		`SELECT `+pendingCols+` FROM pending_points WHERE cpf = ? AND migrated = 0 ORDER BY id ASC`,
		doc,
	)
	if err != nil {
		return nil, fmt.Errorf("list unmigrated: %w", err)
	}
	defer rows.Close()

	var entries []model.PendingPointsEntry
	for rows.Next() {
		e, err := scanPendingEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *LedgerStore) CountUnmigrated(taxDocument string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM pending_points WHERE cpf = ? AND migrated = 0`,
		cpf.Normalize(taxDocument),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unmigrated: %w", err)
	}
	return count, nil
}

// MigratePendingPoints moves every unmigrated entry for a CPF into the
// customer's per-store balances. The whole invocation is one transaction:
// each entry is claimed with a conditional update (migrated 0 -> 1), so a
// concurrent invocation can never apply the same entry twice, and any
// failure rolls back every change, leaving the entries claimable again.
func (s *LedgerStore) MigratePendingPoints(ctx context.Context, taxDocument string, customerID int64) (*model.MigrationResult, error) {
	doc := cpf.Normalize(taxDocument)
	if doc == "" || customerID <= 0 {
		return nil, fmt.Errorf("%w: cpf and customer are required", ErrValidation)
	}

	var result *model.MigrationResult
	err := withBusyRetry(ctx, func() error {
		var err error
		result, err = s.migrateOnce(ctx, doc, customerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *LedgerStore) migrateOnce(ctx context.Context, doc string, customerID int64) (*model.MigrationResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT id, store_id, amount FROM pending_points WHERE cpf = ? AND migrated = 0 ORDER BY id ASC`,
		doc,
	)
	if err != nil {
		return nil, fmt.Errorf("select unmigrated: %w", err)
	}

	type pending struct {
		id      int64
		storeID int64
		amount  int
	}
	var entries []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.storeID, &p.amount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan unmigrated: %w", err)
		}
		entries = append(entries, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate unmigrated: %w", err)
	}
	rows.Close()

	res := &model.MigrationResult{}
	for _, e := range entries {
		// Claim: only the invocation that flips the flag applies the entry.
		claimed, err := tx.Exec(
			`UPDATE pending_points SET migrated = 1, migrated_at = CURRENT_TIMESTAMP WHERE id = ? AND migrated = 0`,
			e.id,
		)
		if err != nil {
			return nil, fmt.Errorf("claim pending entry %d: %w", e.id, err)
		}
		if n, err := claimed.RowsAffected(); err != nil {
			return nil, fmt.Errorf("claim rows affected: %w", err)
		} else if n == 0 {
			continue
		}

		if err := creditBalance(tx, customerID, e.storeID, e.amount); err != nil {
			return nil, fmt.Errorf("credit balance for entry %d: %w", e.id, err)
		}

		_, err = tx.Exec(
			`INSERT INTO point_transactions (customer_id, store_id, amount, kind, source_id, description)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			customerID, e.storeID, e.amount, model.TxMigration, fmt.Sprintf("pending:%d", e.id), "pending points migration",
		)
		if err != nil {
			return nil, fmt.Errorf("record migration transaction: %w", err)
		}

		res.MigratedCount++
		res.TotalPoints += e.amount
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit migration: %w", err)
	}
	return res, nil
}

// creditBalance upserts a (customer, store) balance inside tx.
func creditBalance(tx *sql.Tx, customerID, storeID int64, amount int) error {
	_, err := tx.Exec(
		`INSERT INTO point_balances (customer_id, store_id, balance) VALUES (?, ?, ?)
		 ON CONFLICT(customer_id, store_id) DO UPDATE SET
		   balance = balance + excluded.balance,
		   updated_at = CURRENT_TIMESTAMP`,
		customerID, storeID, amount,
	)
	return err
}

// CreditPurchase ingests a scanned receipt for a known customer: the receipt
// row (keyed by access key for idempotency), the balance increment, and the
// transaction record are committed together.
func (s *LedgerStore) CreditPurchase(ctx context.Context, customerID, storeID int64, points int, accessKey string, totalCents int64, taxDocument string) (*model.Receipt, error) {
	if customerID <= 0 || storeID <= 0 || accessKey == "" {
		return nil, fmt.Errorf("%w: customer, store and access key are required", ErrValidation)
	}
	if points <= 0 {
		return nil, fmt.Errorf("%w: points must be positive", ErrValidation)
	}

	err := withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin purchase credit: %w", err)
		}
		defer tx.Rollback()

		_, err = tx.Exec(
			`INSERT INTO receipts (access_key, store_id, cpf, total_cents, points, customer_id) VALUES (?, ?, ?, ?, ?, ?)`,
			accessKey, storeID, cpf.Normalize(taxDocument), totalCents, points, customerID,
		)
		if uniqueViolation(err, "receipts.access_key") {
			return ErrDuplicateReceipt
		}
		if err != nil {
			return fmt.Errorf("insert receipt: %w", err)
		}

		if err := creditBalance(tx, customerID, storeID, points); err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}

		_, err = tx.Exec(
			`INSERT INTO point_transactions (customer_id, store_id, amount, kind, source_id, description)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			customerID, storeID, points, model.TxPurchase, accessKey, "receipt scan",
		)
		if err != nil {
			return fmt.Errorf("record purchase transaction: %w", err)
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return s.GetReceipt(accessKey)
}

// CreditPendingPurchase ingests a receipt whose CPF matches no customer yet:
// the receipt row and a pending entry are committed together.
func (s *LedgerStore) CreditPendingPurchase(ctx context.Context, taxDocument string, storeID int64, points int, accessKey string, totalCents int64) (*model.PendingPointsEntry, error) {
	doc := cpf.Normalize(taxDocument)
	if doc == "" || storeID <= 0 || accessKey == "" {
		return nil, fmt.Errorf("%w: cpf, store and access key are required", ErrValidation)
	}
	if points <= 0 {
		return nil, fmt.Errorf("%w: points must be positive", ErrValidation)
	}

	var entryID int64
	err := withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin pending credit: %w", err)
		}
		defer tx.Rollback()

		_, err = tx.Exec(
			`INSERT INTO receipts (access_key, store_id, cpf, total_cents, points) VALUES (?, ?, ?, ?, ?)`,
			accessKey, storeID, doc, totalCents, points,
		)
		if uniqueViolation(err, "receipts.access_key") {
			return ErrDuplicateReceipt
		}
		if err != nil {
			return fmt.Errorf("insert receipt: %w", err)
		}

		result, err := tx.Exec(
			`INSERT INTO pending_points (cpf, store_id, amount, receipt_key) VALUES (?, ?, ?, ?)`,
			doc, storeID, points, accessKey,
		)
		if err != nil {
			return fmt.Errorf("insert pending entry: %w", err)
		}
		entryID, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return s.GetPendingEntry(entryID)
}

func (s *LedgerStore) GetReceipt(accessKey string) (*model.Receipt, error) {
	var r model.Receipt
	var doc sql.NullString
	var customerID sql.NullInt64

	err := s.db.QueryRow(
		`SELECT access_key, store_id, cpf, total_cents, points, customer_id, created_at FROM receipts WHERE access_key = ?`,
		accessKey,
	).Scan(&r.AccessKey, &r.StoreID, &doc, &r.TotalCents, &r.Points, &customerID, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}

	r.CPF = doc.String
	if customerID.Valid {
		r.CustomerID = &customerID.Int64
	}
	return &r, nil
}

// GetBalance returns the (customer, store) balance, or nil when no credit
// has ever reached that pair.
func (s *LedgerStore) GetBalance(customerID, storeID int64) (*model.PointBalance, error) {
	var b model.PointBalance
	err := s.db.QueryRow(
		`SELECT customer_id, store_id, balance, updated_at FROM point_balances WHERE customer_id = ? AND store_id = ?`,
		customerID, storeID,
	).Scan(&b.CustomerID, &b.StoreID, &b.Balance, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return &b, nil
}

// ListBalances returns every store balance a customer holds, highest first.
func (s *LedgerStore) ListBalances(customerID int64) ([]model.PointBalance, error) {
	rows, err := s.db.Query(
		`SELECT customer_id, store_id, balance, updated_at FROM point_balances WHERE customer_id = ? ORDER BY balance DESC, store_id ASC`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	var balances []model.PointBalance
	for rows.Next() {
		var b model.PointBalance
		if err := rows.Scan(&b.CustomerID, &b.StoreID, &b.Balance, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// ListTransactions returns a customer's transaction log, newest first.
// A zero storeID means all stores.
func (s *LedgerStore) ListTransactions(customerID, storeID int64, limit int) ([]model.PointTransaction, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, customer_id, store_id, amount, kind, source_id, description, created_at
	          FROM point_transactions WHERE customer_id = ?`
	args := []any{customerID}
	if storeID > 0 {
		query += ` AND store_id = ?`
		args = append(args, storeID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []model.PointTransaction
	for rows.Next() {
		var t model.PointTransaction
		if err := rows.Scan(&t.ID, &t.CustomerID, &t.StoreID, &t.Amount, &t.Kind, &t.SourceID, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
