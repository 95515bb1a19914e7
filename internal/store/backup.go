package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/branlyclub/branlyclub/internal/model"
)

// BackupStore tracks uploaded database snapshots.
type BackupStore struct {
	db *sql.DB
}

func NewBackupStore(db *sql.DB) *BackupStore {
	return &BackupStore{db: db}
}

func (s *BackupStore) Create(key string, sizeBytes int64) (*model.Backup, error) {
	result, err := s.db.Exec(
		`INSERT INTO backups (key, size_bytes) VALUES (?, ?)`,
		key, sizeBytes,
	)
	if err != nil {
		return nil, fmt.Errorf("insert backup: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	var b model.Backup
	err = s.db.QueryRow(
		`SELECT id, key, size_bytes, created_at FROM backups WHERE id = ?`, id,
	).Scan(&b.ID, &b.Key, &b.SizeBytes, &b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get backup: %w", err)
	}
	return &b, nil
}

func (s *BackupStore) List() ([]model.Backup, error) {
	rows, err := s.db.Query(`SELECT id, key, size_bytes, created_at FROM backups ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var backups []model.Backup
	for rows.Next() {
		var b model.Backup
		if err := rows.Scan(&b.ID, &b.Key, &b.SizeBytes, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, b)
	}
	return backups, rows.Err()
}

// DeleteOlderThan removes records created before the cutoff and returns their
// object keys so the caller can delete the uploads too.
func (s *BackupStore) DeleteOlderThan(before time.Time) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM backups WHERE created_at < ?`, before)
	if err != nil {
		return nil, fmt.Errorf("select old backups: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan backup key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(`DELETE FROM backups WHERE created_at < ?`, before); err != nil {
		return nil, fmt.Errorf("delete old backups: %w", err)
	}
	return keys, nil
}
