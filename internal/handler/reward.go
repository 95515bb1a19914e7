package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/branlyclub/branlyclub/internal/auth"
	"github.com/branlyclub/branlyclub/internal/model"
	"github.com/branlyclub/branlyclub/internal/store"
	"github.com/branlyclub/branlyclub/internal/websocket"
)

type RewardHandler struct {
	rewardStore *store.RewardStore
	hub         *websocket.Hub
	logger      *slog.Logger
}

func NewRewardHandler(rs *store.RewardStore, hub *websocket.Hub, logger *slog.Logger) *RewardHandler {
	return &RewardHandler{rewardStore: rs, hub: hub, logger: logger}
}

type rewardRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	PointCost   int    `json:"point_cost"`
	Active      *bool  `json:"active"`
}

// List returns a store's catalog. Owners get their own store; customers pass
// ?store_id= to browse.
func (h *RewardHandler) List(w http.ResponseWriter, r *http.Request) {
	storeID := auth.StoreID(r.Context())
	if s := r.URL.Query().Get("store_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid store_id")
			return
		}
		storeID = id
	}
	if storeID <= 0 {
		writeError(w, http.StatusBadRequest, "store_id is required")
		return
	}

	rewards, err := h.rewardStore.ListByStore(storeID)
	if err != nil {
		h.logger.Error("list rewards", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list rewards")
		return
	}
	if rewards == nil {
		rewards = []model.Reward{}
	}
	writeJSON(w, http.StatusOK, rewards)
}

func (h *RewardHandler) Create(w http.ResponseWriter, r *http.Request) {
	storeID := auth.StoreID(r.Context())
	if storeID <= 0 {
		writeError(w, http.StatusForbidden, "no store for this account")
		return
	}

	var req rewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	reward, err := h.rewardStore.Create(storeID, req.Title, req.Description, req.PointCost, active)
	if errors.Is(err, store.ErrValidation) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("create reward", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create reward")
		return
	}
	writeJSON(w, http.StatusCreated, reward)
}

func (h *RewardHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.rewardStore.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get reward")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "reward not found")
		return
	}
	if !h.canManage(r, existing.StoreID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req rewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		req.Title = existing.Title
	}
	if req.PointCost <= 0 {
		req.PointCost = existing.PointCost
	}
	active := existing.Active
	if req.Active != nil {
		active = *req.Active
	}

	reward, err := h.rewardStore.Update(id, req.Title, req.Description, req.PointCost, active)
	if errors.Is(err, store.ErrValidation) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("update reward", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update reward")
		return
	}
	writeJSON(w, http.StatusOK, reward)
}

func (h *RewardHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.rewardStore.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get reward")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "reward not found")
		return
	}
	if !h.canManage(r, existing.StoreID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	if err := h.rewardStore.Delete(id); err != nil {
		h.logger.Error("delete reward", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete reward")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Redeem spends the authenticated customer's points on a reward and returns
// the verification code to present at the counter.
func (h *RewardHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	if !auth.IsCustomer(r.Context()) {
		writeError(w, http.StatusForbidden, "only customers can redeem")
		return
	}
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	redemption, code, err := h.rewardStore.Redeem(r.Context(), id, auth.AccountID(r.Context()))
	switch {
	case errors.Is(err, store.ErrInsufficientPoints):
		writeError(w, http.StatusConflict, "insufficient points")
		return
	case errors.Is(err, store.ErrRewardInactive):
		writeError(w, http.StatusConflict, "reward is not active")
		return
	case errors.Is(err, store.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("redeem", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to redeem")
		return
	}
	if redemption == nil {
		writeError(w, http.StatusNotFound, "reward not found")
		return
	}

	h.hub.Broadcast(websocket.NewMessage("redemption", "created", redemption.StoreID, redemption.ID, map[string]any{
		"points_spent": redemption.PointsSpent,
	}))
	writeJSON(w, http.StatusCreated, map[string]any{"redemption": redemption, "code": code})
}

type verifyRequest struct {
	Code string `json:"code"`
}

// Verify consumes a verification code at the counter. A second attempt on the
// same code is rejected with 409.
func (h *RewardHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	// The code must belong to the verifying store unless an admin asks.
	existing, err := h.rewardStore.GetCode(req.Code)
	if err != nil {
		h.logger.Error("verify lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to verify code")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "code not found")
		return
	}
	if !h.canManage(r, existing.StoreID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	code, err := h.rewardStore.ConsumeCode(req.Code)
	if errors.Is(err, store.ErrCodeConsumed) {
		writeError(w, http.StatusConflict, "code already used")
		return
	}
	if err != nil {
		h.logger.Error("consume code", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to verify code")
		return
	}
	if code == nil {
		writeError(w, http.StatusNotFound, "code not found")
		return
	}

	h.hub.Broadcast(websocket.NewMessage("code", "consumed", code.StoreID, code.ID, nil))
	writeJSON(w, http.StatusOK, code)
}

// Redemptions lists redemption history: the customer's own, or the store's
// for owners.
func (h *RewardHandler) Redemptions(w http.ResponseWriter, r *http.Request) {
	var (
		redemptions []model.Redemption
		err         error
	)
	if auth.IsCustomer(r.Context()) {
		redemptions, err = h.rewardStore.ListRedemptionsByCustomer(auth.AccountID(r.Context()))
	} else {
		redemptions, err = h.rewardStore.ListRedemptionsByStore(auth.StoreID(r.Context()), 0)
	}
	if err != nil {
		h.logger.Error("list redemptions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list redemptions")
		return
	}
	if redemptions == nil {
		redemptions = []model.Redemption{}
	}
	writeJSON(w, http.StatusOK, redemptions)
}

func (h *RewardHandler) canManage(r *http.Request, storeID int64) bool {
	return auth.IsAdmin(r.Context()) || auth.StoreID(r.Context()) == storeID
}
