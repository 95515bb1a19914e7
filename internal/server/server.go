package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/branlyclub/branlyclub/internal/auth"
	"github.com/branlyclub/branlyclub/internal/backup"
	"github.com/branlyclub/branlyclub/internal/handler"
	"github.com/branlyclub/branlyclub/internal/middleware"
	"github.com/branlyclub/branlyclub/internal/model"
	"github.com/branlyclub/branlyclub/internal/store"
	ws "github.com/branlyclub/branlyclub/internal/websocket"
)

type Server struct {
	db            *sql.DB
	hub           *ws.Hub
	authH         *handler.AuthHandler
	tenantH       *handler.TenantHandler
	rewardH       *handler.RewardHandler
	pointsH       *handler.PointsHandler
	receiptH      *handler.ReceiptHandler
	tenantStore   *store.TenantStore
	tokens        *auth.Tokens
	rateLimiter   *middleware.RateLimiter
	backupManager *backup.Manager
	wsOrigins     []string
	logger        *slog.Logger
}

func New(db *sql.DB, jwtSecret string, wsOrigins []string, backupCfg backup.Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))
	tokens := auth.NewTokens(jwtSecret)

	userStore := store.NewUserStore(db)
	customerStore := store.NewCustomerStore(db)
	tenantStore := store.NewTenantStore(db)
	ledgerStore := store.NewLedgerStore(db)
	rewardStore := store.NewRewardStore(db)
	backupStore := store.NewBackupStore(db)

	backupMgr := backup.NewManager(backupCfg, db, backupStore, logger.With("component", "backup"))

	return &Server{
		db:            db,
		hub:           hub,
		authH:         handler.NewAuthHandler(userStore, customerStore, tenantStore, ledgerStore, tokens, logger.With("component", "auth")),
		tenantH:       handler.NewTenantHandler(tenantStore, logger.With("component", "tenant")),
		rewardH:       handler.NewRewardHandler(rewardStore, hub, logger.With("component", "reward")),
		pointsH:       handler.NewPointsHandler(ledgerStore, customerStore, hub, logger.With("component", "points")),
		receiptH:      handler.NewReceiptHandler(ledgerStore, customerStore, hub, logger.With("component", "receipt")),
		tenantStore:   tenantStore,
		tokens:        tokens,
		rateLimiter:   middleware.NewRateLimiter(),
		backupManager: backupMgr,
		wsOrigins:     wsOrigins,
		logger:        logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// BackupManager returns the backup manager.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("POST /register", s.rateLimited(s.authH.Register))
	outerMux.HandleFunc("POST /login", s.rateLimited(s.authH.Login))
	outerMux.HandleFunc("POST /customers/register", s.rateLimited(s.authH.CustomerRegister))
	outerMux.HandleFunc("POST /customers/login", s.rateLimited(s.authH.CustomerLogin))
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Receipt ingestion authenticates with the store API key, not a session.
	ingestLimit := middleware.RateLimit(s.rateLimiter, middleware.KeyByAPIKey, 120, time.Minute)
	outerMux.Handle("POST /api/receipts",
		ingestLimit(middleware.RequireAPIKey(s.tenantStore)(http.HandlerFunc(s.receiptH.Ingest))))

	// Protected routes
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.tokens)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimited(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.RealIP, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	staff := middleware.RequireRole(model.RoleAdmin, model.RoleOwner)

	mux.HandleFunc("POST /logout", s.authH.Logout)

	// Store administration
	mux.HandleFunc("GET /api/stores", s.tenantH.List)
	mux.Handle("POST /api/stores", middleware.RequireAdmin(http.HandlerFunc(s.tenantH.Create)))
	mux.HandleFunc("GET /api/stores/{id}", s.tenantH.Get)
	mux.HandleFunc("PUT /api/stores/{id}", s.tenantH.Update)
	mux.Handle("DELETE /api/stores/{id}", middleware.RequireAdmin(http.HandlerFunc(s.tenantH.Delete)))
	mux.Handle("POST /api/stores/{id}/rotate-key", staff(http.HandlerFunc(s.tenantH.RotateKey)))

	// Reward catalog and redemptions
	mux.HandleFunc("GET /api/rewards", s.rewardH.List)
	mux.Handle("POST /api/rewards", staff(http.HandlerFunc(s.rewardH.Create)))
	mux.Handle("PUT /api/rewards/{id}", staff(http.HandlerFunc(s.rewardH.Update)))
	mux.Handle("DELETE /api/rewards/{id}", staff(http.HandlerFunc(s.rewardH.Delete)))
	mux.HandleFunc("POST /api/rewards/{id}/redeem", s.rewardH.Redeem)
	mux.Handle("POST /api/redemptions/verify", staff(http.HandlerFunc(s.rewardH.Verify)))
	mux.HandleFunc("GET /api/redemptions", s.rewardH.Redemptions)

	// Points ledger
	mux.Handle("POST /api/points/pending", staff(http.HandlerFunc(s.pointsH.CreditPending)))
	mux.HandleFunc("GET /api/points/pending", s.pointsH.Pending)
	mux.HandleFunc("POST /api/points/migrate", s.pointsH.Migrate)
	mux.Handle("POST /api/admin/points/migrate", middleware.RequireAdmin(http.HandlerFunc(s.pointsH.AdminMigrate)))
	mux.HandleFunc("GET /api/points/balances", s.pointsH.Balances)
	mux.HandleFunc("GET /api/points/transactions", s.pointsH.Transactions)

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.wsOrigins))
}
