package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/branlyclub/branlyclub/internal/backup"
	"github.com/branlyclub/branlyclub/internal/database"
	"github.com/branlyclub/branlyclub/internal/logging"
	"github.com/branlyclub/branlyclub/internal/server"
)

func main() {
	port := os.Getenv("BRANLY_PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("BRANLY_DB_PATH")
	if dbPath == "" {
		dbPath = "branlyclub.db"
	}

	jwtSecret := os.Getenv("BRANLY_JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("BRANLY_JWT_SECRET is required")
	}

	logger := logging.Setup(os.Getenv("BRANLY_LOG_LEVEL"), os.Getenv("BRANLY_LOG_FORMAT"))

	var wsOrigins []string
	for _, o := range strings.Split(os.Getenv("BRANLY_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			wsOrigins = append(wsOrigins, o)
		}
	}

	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	backupCfg := backup.Config{
		S3: backup.S3Config{
			Endpoint:  os.Getenv("BRANLY_BACKUP_S3_ENDPOINT"),
			Bucket:    os.Getenv("BRANLY_BACKUP_S3_BUCKET"),
			Region:    os.Getenv("BRANLY_BACKUP_S3_REGION"),
			AccessKey: os.Getenv("BRANLY_BACKUP_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("BRANLY_BACKUP_S3_SECRET_KEY"),
		},
		DBPath:     dbPath,
		Passphrase: os.Getenv("BRANLY_BACKUP_PASSPHRASE"),
	}
	backupCfg.Hour, _ = strconv.Atoi(os.Getenv("BRANLY_BACKUP_HOUR"))
	backupCfg.RetentionDays, _ = strconv.Atoi(os.Getenv("BRANLY_BACKUP_RETENTION_DAYS"))

	srv := server.New(db, jwtSecret, wsOrigins, backupCfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv.BackupManager().Start(ctx)
	defer srv.BackupManager().Stop()

	// Drop expired rate limiter windows periodically.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			}
		}
	}()

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("listening", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}
