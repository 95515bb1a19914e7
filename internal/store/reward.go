package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/branlyclub/branlyclub/internal/model"
	"github.com/branlyclub/branlyclub/internal/verification"
)

// RewardStore manages a store's reward catalog, redemptions, and the
// verification codes that authenticate pickups.
type RewardStore struct {
	db *sql.DB
}

func NewRewardStore(db *sql.DB) *RewardStore {
	return &RewardStore{db: db}
}

// --- Reward methods ---

func scanReward(scanner interface{ Scan(...any) error }) (*model.Reward, error) {
	var r model.Reward
	var active int

	err := scanner.Scan(&r.ID, &r.StoreID, &r.Title, &r.Description, &r.PointCost, &active, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	r.Active = active != 0
	return &r, nil
}

const rewardCols = `id, store_id, title, description, point_cost, active, created_at`

func (s *RewardStore) Create(storeID int64, title, description string, pointCost int, active bool) (*model.Reward, error) {
	title = strings.TrimSpace(title)
	if storeID <= 0 || title == "" {
		return nil, fmt.Errorf("%w: store and title are required", ErrValidation)
	}
	if pointCost <= 0 {
		return nil, fmt.Errorf("%w: point_cost must be positive", ErrValidation)
	}

	var a int
	if active {
		a = 1
	}

	result, err := s.db.Exec(
		`INSERT INTO rewards (store_id, title, description, point_cost, active) VALUES (?, ?, ?, ?, ?)`,
		storeID, title, description, pointCost, a,
	)
	if err != nil {
		return nil, fmt.Errorf("insert reward: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *RewardStore) GetByID(id int64) (*model.Reward, error) {
	row := s.db.QueryRow(`SELECT `+rewardCols+` FROM rewards WHERE id = ?`, id)
	r, err := scanReward(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reward: %w", err)
	}
	return r, nil
}

// ListByStore returns a store's rewards, active first, then by title.
func (s *RewardStore) ListByStore(storeID int64) ([]model.Reward, error) {
	rows, err := s.db.Query(
		`SELECT `+rewardCols+` FROM rewards WHERE store_id = ? ORDER BY active DESC, title ASC`,
		storeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list rewards: %w", err)
	}
	defer rows.Close()

	var rewards []model.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		rewards = append(rewards, *r)
	}
	return rewards, rows.Err()
}

func (s *RewardStore) Update(id int64, title, description string, pointCost int, active bool) (*model.Reward, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if pointCost <= 0 {
		return nil, fmt.Errorf("%w: point_cost must be positive", ErrValidation)
	}

	var a int
	if active {
		a = 1
	}

	_, err := s.db.Exec(
		`UPDATE rewards SET title = ?, description = ?, point_cost = ?, active = ? WHERE id = ?`,
		title, description, pointCost, a, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update reward: %w", err)
	}
	return s.GetByID(id)
}

func (s *RewardStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM rewards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete reward: %w", err)
	}
	return nil
}

// --- Redemption methods ---

func scanRedemption(scanner interface{ Scan(...any) error }) (*model.Redemption, error) {
	var r model.Redemption
	var customerID sql.NullInt64

	err := scanner.Scan(&r.ID, &r.PublicID, &r.RewardID, &customerID, &r.StoreID, &r.PointsSpent, &r.RedeemedAt)
	if err != nil {
		return nil, err
	}

	if customerID.Valid {
		r.CustomerID = &customerID.Int64
	}
	return &r, nil
}

const redemptionCols = `id, public_id, reward_id, customer_id, store_id, points_spent, redeemed_at`

// Redeem spends a customer's points on a reward and issues the verification
// code, all in one transaction: the balance decrement is conditional on
// sufficient funds, so the balance can never go negative, and a failed code
// insert rolls the redemption back. A code cannot be regenerated for an
// existing redemption; a new code requires a new redemption.
func (s *RewardStore) Redeem(ctx context.Context, rewardID, customerID int64) (*model.Redemption, *model.VerificationCode, error) {
	if rewardID <= 0 || customerID <= 0 {
		return nil, nil, fmt.Errorf("%w: reward and customer are required", ErrValidation)
	}

	reward, err := s.GetByID(rewardID)
	if err != nil {
		return nil, nil, err
	}
	if reward == nil {
		return nil, nil, nil
	}
	if !reward.Active {
		return nil, nil, ErrRewardInactive
	}

	var (
		redemption *model.Redemption
		code       *model.VerificationCode
	)
	err = withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin redeem: %w", err)
		}
		defer tx.Rollback()

		// Conditional decrement keeps the non-negative balance invariant.
		debited, err := tx.Exec(
			`UPDATE point_balances SET balance = balance - ?, updated_at = CURRENT_TIMESTAMP
			 WHERE customer_id = ? AND store_id = ? AND balance >= ?`,
			reward.PointCost, customerID, reward.StoreID, reward.PointCost,
		)
		if err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}
		if n, err := debited.RowsAffected(); err != nil {
			return fmt.Errorf("debit rows affected: %w", err)
		} else if n == 0 {
			return ErrInsufficientPoints
		}

		publicID := uuid.NewString()
		result, err := tx.Exec(
			`INSERT INTO redemptions (public_id, reward_id, customer_id, store_id, points_spent) VALUES (?, ?, ?, ?, ?)`,
			publicID, rewardID, customerID, reward.StoreID, reward.PointCost,
		)
		if err != nil {
			return fmt.Errorf("insert redemption: %w", err)
		}
		redemptionID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}

		var storeName string
		if err := tx.QueryRow(`SELECT name FROM stores WHERE id = ?`, reward.StoreID).Scan(&storeName); err != nil {
			return fmt.Errorf("get store name: %w", err)
		}

		codeStr := verification.Generate(storeName, publicID)
		if _, err := tx.Exec(
			`INSERT INTO verification_codes (redemption_id, store_id, code) VALUES (?, ?, ?)`,
			redemptionID, reward.StoreID, codeStr,
		); err != nil {
			return fmt.Errorf("insert verification code: %w", err)
		}

		if _, err := tx.Exec(
			`INSERT INTO point_transactions (customer_id, store_id, amount, kind, source_id, description)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			customerID, reward.StoreID, -reward.PointCost, model.TxRedemption, publicID, reward.Title,
		); err != nil {
			return fmt.Errorf("record redemption transaction: %w", err)
		}

		row := tx.QueryRow(`SELECT `+redemptionCols+` FROM redemptions WHERE id = ?`, redemptionID)
		if redemption, err = scanRedemption(row); err != nil {
			return fmt.Errorf("get redemption: %w", err)
		}
		row = tx.QueryRow(`SELECT `+codeCols+` FROM verification_codes WHERE redemption_id = ?`, redemptionID)
		if code, err = scanCode(row); err != nil {
			return fmt.Errorf("get verification code: %w", err)
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, nil, err
	}
	return redemption, code, nil
}

func (s *RewardStore) GetRedemptionByPublicID(publicID string) (*model.Redemption, error) {
	row := s.db.QueryRow(`SELECT `+redemptionCols+` FROM redemptions WHERE public_id = ?`, publicID)
	r, err := scanRedemption(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get redemption: %w", err)
	}
	return r, nil
}

func (s *RewardStore) ListRedemptionsByCustomer(customerID int64) ([]model.Redemption, error) {
	rows, err := s.db.Query(
		`SELECT `+redemptionCols+` FROM redemptions WHERE customer_id = ? ORDER BY redeemed_at DESC`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list redemptions by customer: %w", err)
	}
	defer rows.Close()

	var redemptions []model.Redemption
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		redemptions = append(redemptions, *r)
	}
	return redemptions, rows.Err()
}

func (s *RewardStore) ListRedemptionsByStore(storeID int64, limit int) ([]model.Redemption, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+redemptionCols+` FROM redemptions WHERE store_id = ? ORDER BY redeemed_at DESC LIMIT ?`,
		storeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list redemptions by store: %w", err)
	}
	defer rows.Close()

	var redemptions []model.Redemption
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		redemptions = append(redemptions, *r)
	}
	return redemptions, rows.Err()
}

// --- Verification code methods ---

func scanCode(scanner interface{ Scan(...any) error }) (*model.VerificationCode, error) {
	var c model.VerificationCode
	var consumedAt sql.NullTime

	err := scanner.Scan(&c.ID, &c.RedemptionID, &c.StoreID, &c.Code, &c.GeneratedAt, &consumedAt)
	if err != nil {
		return nil, err
	}

	if consumedAt.Valid {
		c.ConsumedAt = &consumedAt.Time
	}
	return &c, nil
}

const codeCols = `id, redemption_id, store_id, code, generated_at, consumed_at`

func (s *RewardStore) GetCode(code string) (*model.VerificationCode, error) {
	row := s.db.QueryRow(`SELECT `+codeCols+` FROM verification_codes WHERE code = ?`, code)
	c, err := scanCode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get verification code: %w", err)
	}
	return c, nil
}

// ConsumeCode transitions a code Active -> Consumed. The update is
// conditional on the code being unconsumed, so of two concurrent attempts
// exactly one succeeds; the other gets ErrCodeConsumed. Unknown codes return
// (nil, nil).
func (s *RewardStore) ConsumeCode(code string) (*model.VerificationCode, error) {
	result, err := s.db.Exec(
		`UPDATE verification_codes SET consumed_at = CURRENT_TIMESTAMP WHERE code = ? AND consumed_at IS NULL`,
		code,
	)
	if err != nil {
		return nil, fmt.Errorf("consume verification code: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("consume rows affected: %w", err)
	}

	existing, err := s.GetCode(code)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}
	if n == 0 {
		return nil, ErrCodeConsumed
	}
	return existing, nil
}
