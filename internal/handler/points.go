package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/branlyclub/branlyclub/internal/auth"
	"github.com/branlyclub/branlyclub/internal/model"
	"github.com/branlyclub/branlyclub/internal/store"
	"github.com/branlyclub/branlyclub/internal/websocket"
)

type PointsHandler struct {
	ledgerStore   *store.LedgerStore
	customerStore *store.CustomerStore
	hub           *websocket.Hub
	logger        *slog.Logger
}

func NewPointsHandler(ls *store.LedgerStore, cs *store.CustomerStore, hub *websocket.Hub, logger *slog.Logger) *PointsHandler {
	return &PointsHandler{ledgerStore: ls, customerStore: cs, hub: hub, logger: logger}
}

type pendingCreditRequest struct {
	CPF     string `json:"cpf"`
	Amount  int    `json:"amount"`
	StoreID int64  `json:"store_id"`
}

// CreditPending records a manual pending credit against a CPF, for purchases
// the POS integration missed. Owners credit their own store; admins have no
// store of their own and name one in the body.
func (h *PointsHandler) CreditPending(w http.ResponseWriter, r *http.Request) {
	var req pendingCreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	storeID := auth.StoreID(r.Context())
	if storeID <= 0 {
		if !auth.IsAdmin(r.Context()) {
			writeError(w, http.StatusForbidden, "no store for this account")
			return
		}
		if req.StoreID <= 0 {
			writeError(w, http.StatusBadRequest, "store_id is required")
			return
		}
		storeID = req.StoreID
	}

	entry, err := h.ledgerStore.CreditPending(req.CPF, storeID, req.Amount, "")
	if errors.Is(err, store.ErrValidation) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("credit pending", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to credit points")
		return
	}

	h.hub.Broadcast(websocket.NewMessage("pending", "credited", storeID, entry.ID, map[string]any{
		"amount": entry.Amount,
	}))
	writeJSON(w, http.StatusCreated, entry)
}

// Migrate moves the authenticated customer's pending points into balances.
// Signup and login already do this; the endpoint covers points that landed
// mid-session.
func (h *PointsHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	if !auth.IsCustomer(r.Context()) {
		writeError(w, http.StatusForbidden, "only customers can migrate points")
		return
	}

	customer, err := h.customerStore.GetByID(auth.AccountID(r.Context()))
	if err != nil {
		h.logger.Error("migrate customer lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if customer == nil {
		writeError(w, http.StatusNotFound, "customer not found")
		return
	}

	result, err := h.ledgerStore.MigratePendingPoints(r.Context(), customer.CPF, customer.ID)
	if err != nil {
		h.logger.Error("migrate", "error", err, "customer_id", customer.ID)
		writeError(w, http.StatusInternalServerError, "failed to migrate points")
		return
	}

	if result.MigratedCount > 0 {
		h.hub.Broadcast(websocket.NewMessage("balance", "migrated", 0, customer.ID, map[string]any{
			"migrated_count": result.MigratedCount,
			"total_points":   result.TotalPoints,
		}))
	}
	writeJSON(w, http.StatusOK, result)
}

type adminMigrateRequest struct {
	CPF        string `json:"cpf"`
	CustomerID int64  `json:"customer_id"`
}

// AdminMigrate runs the pending-points migration on a customer's behalf, for
// support cases where the customer cannot trigger it themselves. The CPF
// defaults to the one on the customer record.
func (h *PointsHandler) AdminMigrate(w http.ResponseWriter, r *http.Request) {
	var req adminMigrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.CustomerID <= 0 {
		writeError(w, http.StatusBadRequest, "customer_id is required")
		return
	}

	customer, err := h.customerStore.GetByID(req.CustomerID)
	if err != nil {
		h.logger.Error("admin migrate customer lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if customer == nil {
		writeError(w, http.StatusNotFound, "customer not found")
		return
	}

	doc := req.CPF
	if doc == "" {
		doc = customer.CPF
	}

	result, err := h.ledgerStore.MigratePendingPoints(r.Context(), doc, customer.ID)
	if err != nil {
		h.logger.Error("admin migrate", "error", err, "customer_id", customer.ID)
		writeError(w, http.StatusInternalServerError, "failed to migrate points")
		return
	}

	if result.MigratedCount > 0 {
		h.hub.Broadcast(websocket.NewMessage("balance", "migrated", 0, customer.ID, map[string]any{
			"migrated_count": result.MigratedCount,
			"total_points":   result.TotalPoints,
		}))
	}
	writeJSON(w, http.StatusOK, result)
}

// Pending lists the caller's unmigrated entries. Customers see their own CPF;
// owners and admins may query any CPF with ?cpf=.
func (h *PointsHandler) Pending(w http.ResponseWriter, r *http.Request) {
	var doc string
	if auth.IsCustomer(r.Context()) {
		customer, err := h.customerStore.GetByID(auth.AccountID(r.Context()))
		if err != nil || customer == nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		doc = customer.CPF
	} else {
		doc = r.URL.Query().Get("cpf")
		if doc == "" {
			writeError(w, http.StatusBadRequest, "cpf is required")
			return
		}
	}

	entries, err := h.ledgerStore.ListUnmigrated(doc)
	if err != nil {
		h.logger.Error("list pending", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list pending points")
		return
	}
	if entries == nil {
		entries = []model.PendingPointsEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Balances returns the authenticated customer's per-store balances.
func (h *PointsHandler) Balances(w http.ResponseWriter, r *http.Request) {
	if !auth.IsCustomer(r.Context()) {
		writeError(w, http.StatusForbidden, "only customers have balances")
		return
	}

	balances, err := h.ledgerStore.ListBalances(auth.AccountID(r.Context()))
	if err != nil {
		h.logger.Error("list balances", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list balances")
		return
	}
	if balances == nil {
		balances = []model.PointBalance{}
	}
	writeJSON(w, http.StatusOK, balances)
}

// Transactions returns the customer's ledger history, optionally filtered by
// ?store_id= and bounded by ?limit=.
func (h *PointsHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	if !auth.IsCustomer(r.Context()) {
		writeError(w, http.StatusForbidden, "only customers have transactions")
		return
	}

	var storeID int64
	if s := r.URL.Query().Get("store_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid store_id")
			return
		}
		storeID = id
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	txs, err := h.ledgerStore.ListTransactions(auth.AccountID(r.Context()), storeID, limit)
	if err != nil {
		h.logger.Error("list transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	if txs == nil {
		txs = []model.PointTransaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}
