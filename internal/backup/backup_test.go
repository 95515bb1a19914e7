package backup

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/branlyclub/branlyclub/internal/database"
	"github.com/branlyclub/branlyclub/internal/store"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	delErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.delErr != nil {
		return nil, m.delErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func enabledConfig(dbPath string) Config {
	return Config{
		S3:         S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret"},
		DBPath:     dbPath,
		Passphrase: "test-passphrase",
		Hour:       3,
	}
}

func TestManagerStateLifecycle(t *testing.T) {
	// Without S3 config -> disabled
	m := NewManager(Config{}, nil, nil, slog.Default())
	if m.Status().State != StateDisabled {
		t.Errorf("state = %q, want %q", m.Status().State, StateDisabled)
	}

	// Missing passphrase -> still disabled
	cfg := enabledConfig("")
	cfg.Passphrase = ""
	m2 := NewManager(cfg, nil, nil, slog.Default())
	if m2.Status().State != StateDisabled {
		t.Errorf("state = %q, want %q", m2.Status().State, StateDisabled)
	}

	// Full config -> idle
	m3 := NewManager(enabledConfig(""), nil, nil, slog.Default())
	if m3.Status().State != StateIdle {
		t.Errorf("state = %q, want %q", m3.Status().State, StateIdle)
	}
}

func TestRunNow(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "backup_test.db")
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	bs := store.NewBackupStore(db)

	m := NewManager(enabledConfig(dbPath), db, bs, slog.Default())
	mock := newMockS3()
	m.client = mock

	if err := m.RunNow(context.Background()); err != nil {
		t.Fatalf("run backup: %v", err)
	}

	if m.Status().State != StateIdle {
		t.Errorf("state after backup = %q, want %q", m.Status().State, StateIdle)
	}
	if m.Status().LastBackup == nil {
		t.Error("expected last_backup to be set")
	}

	mock.mu.Lock()
	uploads := len(mock.objects)
	mock.mu.Unlock()
	if uploads != 1 {
		t.Fatalf("expected 1 uploaded object, got %d", uploads)
	}

	backups, err := bs.List()
	if err != nil {
		t.Fatalf("list backups: %v", err)
	}
	if len(backups) != 1 {
		t.Fatalf("expected 1 backup record, got %d", len(backups))
	}
	if backups[0].SizeBytes <= 0 {
		t.Errorf("size_bytes = %d, want > 0", backups[0].SizeBytes)
	}
}

func TestCleanup(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cleanup_test.db")
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	bs := store.NewBackupStore(db)

	// One old record, one fresh
	if _, err := db.Exec(
		`INSERT INTO backups (key, size_bytes, created_at) VALUES ('snapshots/old.db.enc', 10, datetime('now', '-60 days'))`,
	); err != nil {
		t.Fatalf("insert old backup: %v", err)
	}
	if _, err := bs.Create("snapshots/fresh.db.enc", 20); err != nil {
		t.Fatalf("insert fresh backup: %v", err)
	}

	cfg := enabledConfig(dbPath)
	cfg.RetentionDays = 30
	m := NewManager(cfg, db, bs, slog.Default())
	mock := newMockS3()
	mock.objects["snapshots/old.db.enc"] = []byte("x")
	mock.objects["snapshots/fresh.db.enc"] = []byte("y")
	m.client = mock

	if err := m.Cleanup(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	backups, _ := bs.List()
	if len(backups) != 1 || backups[0].Key != "snapshots/fresh.db.enc" {
		t.Errorf("backups after cleanup = %+v, want only the fresh one", backups)
	}

	mock.mu.Lock()
	defer mock.mu.Unlock()
	if _, ok := mock.objects["snapshots/old.db.enc"]; ok {
		t.Error("old object should have been deleted")
	}
	if _, ok := mock.objects["snapshots/fresh.db.enc"]; !ok {
		t.Error("fresh object should remain")
	}
}

func TestManagerStopSafety(t *testing.T) {
	m := NewManager(enabledConfig(""), nil, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	m.Stop()

	// Double stop should not panic
	m.Stop()
}

func TestManagerDisabledNoStart(t *testing.T) {
	m := NewManager(Config{}, nil, nil, slog.Default())

	m.Start(context.Background()) // no-op when disabled

	// Stop should not block
	m.Stop()
}
