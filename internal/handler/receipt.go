package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/branlyclub/branlyclub/internal/middleware"
	"github.com/branlyclub/branlyclub/internal/receipt"
	"github.com/branlyclub/branlyclub/internal/store"
	"github.com/branlyclub/branlyclub/internal/websocket"
)

// ReceiptHandler ingests scanned NFC-e receipts posted by a store's
// point-of-sale integration. The store is resolved upstream from the
// X-API-Key header.
type ReceiptHandler struct {
	ledgerStore   *store.LedgerStore
	customerStore *store.CustomerStore
	hub           *websocket.Hub
	logger        *slog.Logger
}

func NewReceiptHandler(ls *store.LedgerStore, cs *store.CustomerStore, hub *websocket.Hub, logger *slog.Logger) *ReceiptHandler {
	return &ReceiptHandler{ledgerStore: ls, customerStore: cs, hub: hub, logger: logger}
}

type ingestRequest struct {
	AccessKey  string `json:"access_key"`
	TotalCents int64  `json:"total_cents"`
	CPF        string `json:"cpf"`
}

// Ingest credits points for a purchase. If the CPF on the receipt matches a
// registered customer the balance is credited directly; otherwise the points
// wait in the pending ledger under that CPF. Points are floor(reais * rate).
func (h *ReceiptHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	st := middleware.StoreFromContext(r.Context())
	if st == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	key, err := receipt.ParseAccessKey(req.AccessKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TotalCents <= 0 {
		writeError(w, http.StatusBadRequest, "total_cents must be positive")
		return
	}
	if req.CPF == "" {
		// A receipt without a CPF earns nobody points; acknowledge and drop.
		writeJSON(w, http.StatusOK, map[string]any{"credited": false, "reason": "no cpf on receipt"})
		return
	}

	points := int(req.TotalCents * int64(st.PointsPerReal) / 100)
	if points <= 0 {
		writeJSON(w, http.StatusOK, map[string]any{"credited": false, "reason": "purchase below 1 point"})
		return
	}

	customer, err := h.customerStore.GetByCPF(req.CPF)
	if err != nil {
		h.logger.Error("ingest customer lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if customer != nil {
		rec, err := h.ledgerStore.CreditPurchase(r.Context(), customer.ID, st.ID, points, req.AccessKey, req.TotalCents, req.CPF)
		if errors.Is(err, store.ErrDuplicateReceipt) {
			writeError(w, http.StatusConflict, "receipt already processed")
			return
		}
		if errors.Is(err, store.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			h.logger.Error("credit purchase", "error", err, "access_key", req.AccessKey)
			writeError(w, http.StatusInternalServerError, "failed to credit purchase")
			return
		}

		h.hub.Broadcast(websocket.NewMessage("balance", "credited", st.ID, customer.ID, map[string]any{
			"points": points,
		}))
		writeJSON(w, http.StatusCreated, map[string]any{"credited": true, "pending": false, "points": points, "receipt": rec, "model": key.Model})
		return
	}

	entry, err := h.ledgerStore.CreditPendingPurchase(r.Context(), req.CPF, st.ID, points, req.AccessKey, req.TotalCents)
	if errors.Is(err, store.ErrDuplicateReceipt) {
		writeError(w, http.StatusConflict, "receipt already processed")
		return
	}
	if errors.Is(err, store.ErrValidation) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("credit pending purchase", "error", err, "access_key", req.AccessKey)
		writeError(w, http.StatusInternalServerError, "failed to credit purchase")
		return
	}

	h.hub.Broadcast(websocket.NewMessage("pending", "credited", st.ID, entry.ID, map[string]any{
		"points": points,
	}))
	writeJSON(w, http.StatusCreated, map[string]any{"credited": true, "pending": true, "points": points, "entry": entry, "model": key.Model})
}
