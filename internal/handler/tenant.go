package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/branlyclub/branlyclub/internal/auth"
	"github.com/branlyclub/branlyclub/internal/model"
	"github.com/branlyclub/branlyclub/internal/store"
)

// TenantHandler exposes store administration. Admins see every store; owners
// only their own.
type TenantHandler struct {
	tenantStore *store.TenantStore
	logger      *slog.Logger
}

func NewTenantHandler(ts *store.TenantStore, logger *slog.Logger) *TenantHandler {
	return &TenantHandler{tenantStore: ts, logger: logger}
}

type storeRequest struct {
	Name          string `json:"name"`
	Slug          string `json:"slug"`
	OwnerID       int64  `json:"owner_id"`
	PointsPerReal int    `json:"points_per_real"`
	Active        *bool  `json:"active"`
}

func (h *TenantHandler) List(w http.ResponseWriter, r *http.Request) {
	if !auth.IsAdmin(r.Context()) {
		st, err := h.tenantStore.GetByID(auth.StoreID(r.Context()))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get store")
			return
		}
		if st == nil {
			writeJSON(w, http.StatusOK, []model.Store{})
			return
		}
		writeJSON(w, http.StatusOK, []model.Store{*st})
		return
	}

	stores, err := h.tenantStore.List()
	if err != nil {
		h.logger.Error("list stores", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list stores")
		return
	}
	if stores == nil {
		stores = []model.Store{}
	}
	writeJSON(w, http.StatusOK, stores)
}

func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.PointsPerReal <= 0 {
		req.PointsPerReal = 1
	}

	st, err := h.tenantStore.Create(req.Name, req.Slug, req.OwnerID, req.PointsPerReal)
	if errors.Is(err, store.ErrValidation) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("create store", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create store")
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (h *TenantHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if !h.canManage(r, id) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	st, err := h.tenantStore.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get store")
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "store not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *TenantHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if !h.canManage(r, id) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	existing, err := h.tenantStore.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get store")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "store not found")
		return
	}

	var req storeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		req.Name = existing.Name
	}
	if req.PointsPerReal <= 0 {
		req.PointsPerReal = existing.PointsPerReal
	}
	active := existing.Active
	if req.Active != nil {
		// Only admins can suspend or reinstate a tenant.
		if !auth.IsAdmin(r.Context()) && *req.Active != existing.Active {
			writeError(w, http.StatusForbidden, "only admins can change store status")
			return
		}
		active = *req.Active
	}

	st, err := h.tenantStore.Update(id, req.Name, req.PointsPerReal, active)
	if errors.Is(err, store.ErrValidation) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("update store", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update store")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *TenantHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.tenantStore.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get store")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "store not found")
		return
	}

	if err := h.tenantStore.Delete(id); err != nil {
		h.logger.Error("delete store", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete store")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotateKey issues a fresh POS integration key, invalidating the old one.
func (h *TenantHandler) RotateKey(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if !h.canManage(r, id) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	existing, err := h.tenantStore.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get store")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "store not found")
		return
	}

	st, err := h.tenantStore.RotateAPIKey(id)
	if err != nil {
		h.logger.Error("rotate api key", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to rotate key")
		return
	}
	// The key is returned exactly once, at rotation time.
	writeJSON(w, http.StatusOK, map[string]any{"store": st, "api_key": st.APIKey})
}

func (h *TenantHandler) canManage(r *http.Request, storeID int64) bool {
	return auth.IsAdmin(r.Context()) || auth.StoreID(r.Context()) == storeID
}
