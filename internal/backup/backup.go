package backup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sethvargo/go-retry"

	"github.com/branlyclub/branlyclub/internal/store"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Config holds backup manager configuration. The manager stays disabled
// unless the S3 credentials and the passphrase are all set.
type Config struct {
	S3            S3Config
	DBPath        string
	Passphrase    string
	Hour          int // UTC hour of the nightly run
	RetentionDays int
}

// State represents the backup manager state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current backup manager status.
type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	Error      string     `json:"error,omitempty"`
	InProgress bool       `json:"in_progress"`
}

// Manager uploads nightly encrypted snapshots of the ledger database to
// S3-compatible storage.
type Manager struct {
	mu     sync.RWMutex
	cfg    Config
	status Status

	db          *sql.DB
	backupStore *store.BackupStore
	client      s3Client
	logger      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a new backup manager.
func NewManager(cfg Config, db *sql.DB, bs *store.BackupStore, logger *slog.Logger) *Manager {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}

	m := &Manager{
		cfg:         cfg,
		db:          db,
		backupStore: bs,
		logger:      logger,
		status:      Status{State: StateDisabled},
	}

	if cfg.S3.Bucket != "" && cfg.S3.AccessKey != "" && cfg.S3.SecretKey != "" && cfg.Passphrase != "" {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
	}

	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Start begins the scheduled backup loop.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.status.State == StateDisabled {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkSchedule(ctx)
			}
		}
	}()
}

// Stop gracefully stops the backup manager.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Status returns the current backup status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *Manager) checkSchedule(ctx context.Context) {
	now := time.Now().UTC()
	if now.Hour() != m.cfg.Hour || now.Minute() != 0 {
		return
	}

	if err := m.RunNow(ctx); err != nil {
		m.logger.Error("scheduled backup failed", "error", err)
	}
	if err := m.Cleanup(ctx); err != nil {
		m.logger.Error("backup cleanup failed", "error", err)
	}
}

// RunNow performs one snapshot: VACUUM INTO a temp copy, encrypt, upload.
func (m *Manager) RunNow(ctx context.Context) error {
	m.mu.RLock()
	client := m.client
	cfg := m.cfg
	m.mu.RUnlock()
	if client == nil {
		return fmt.Errorf("backup not configured")
	}

	m.setStatus(Status{State: StateRunning, InProgress: true})

	timestamp := time.Now().UTC().Format("2006-01-02T150405Z")
	key := fmt.Sprintf("snapshots/branly-%s.db.enc", timestamp)

	tmpDir := os.TempDir()
	dbCopy := filepath.Join(tmpDir, fmt.Sprintf("branly-backup-%s.db", timestamp))
	encFile := dbCopy + ".enc"
	defer os.Remove(dbCopy)
	defer os.Remove(encFile)

	// VACUUM INTO writes a consistent snapshot without blocking writers.
	if _, err := m.db.ExecContext(ctx, "VACUUM INTO ?", dbCopy); err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return fmt.Errorf("vacuum into: %w", err)
	}

	salt, err := GenerateSalt()
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return err
	}
	if err := EncryptFile(dbCopy, encFile, cfg.Passphrase, salt); err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return fmt.Errorf("encrypt snapshot: %w", err)
	}

	size, err := m.upload(ctx, client, cfg.S3.Bucket, key, encFile)
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return err
	}

	if _, err := m.backupStore.Create(key, size); err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return fmt.Errorf("record backup: %w", err)
	}

	now := time.Now().UTC()
	m.setStatus(Status{State: StateIdle, LastBackup: &now})
	m.logger.Info("backup uploaded", "key", key, "size_bytes", size)
	return nil
}

// upload puts the encrypted file to S3, retrying transient failures.
func (m *Manager) upload(ctx context.Context, client s3Client, bucket, key, path string) (int64, error) {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(2*time.Second))
	var size int64
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		stat, err := f.Stat()
		if err != nil {
			return err
		}
		size = stat.Size()

		_, err = client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			Body:          f,
			ContentLength: aws.Int64(size),
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upload to s3: %w", err)
	}
	return size, nil
}

// Cleanup deletes snapshots older than the retention period, both the
// records and the uploaded objects.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.mu.RLock()
	client := m.client
	cfg := m.cfg
	m.mu.RUnlock()

	if client == nil {
		return nil
	}

	before := time.Now().UTC().AddDate(0, 0, -cfg.RetentionDays)
	keys, err := m.backupStore.DeleteOlderThan(before)
	if err != nil {
		return fmt.Errorf("delete old backups: %w", err)
	}

	for _, key := range keys {
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(cfg.S3.Bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("delete old snapshot", "key", key, "error", err)
		}
	}

	return nil
}
