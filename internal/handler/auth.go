package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/branlyclub/branlyclub/internal/auth"
	"github.com/branlyclub/branlyclub/internal/model"
	"github.com/branlyclub/branlyclub/internal/store"
)

const sessionCookieName = "branly_session"

type AuthHandler struct {
	userStore     *store.UserStore
	customerStore *store.CustomerStore
	tenantStore   *store.TenantStore
	ledgerStore   *store.LedgerStore
	tokens        *auth.Tokens
	logger        *slog.Logger
}

func NewAuthHandler(
	us *store.UserStore,
	cs *store.CustomerStore,
	ts *store.TenantStore,
	ls *store.LedgerStore,
	tokens *auth.Tokens,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		userStore:     us,
		customerStore: cs,
		tenantStore:   ts,
		ledgerStore:   ls,
		tokens:        tokens,
		logger:        logger,
	}
}

type registerRequest struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Password      string `json:"password"`
	StoreName     string `json:"store_name"`
	StoreSlug     string `json:"store_slug"`
	PointsPerReal int    `json:"points_per_real"`
}

// Register creates an owner account together with its store.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	if req.PointsPerReal <= 0 {
		req.PointsPerReal = 1
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	user, err := h.userStore.Create(req.Email, req.Name, string(hash), model.RoleOwner)
	if errors.Is(err, store.ErrValidation) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("create owner", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	st, err := h.tenantStore.Create(req.StoreName, req.StoreSlug, user.ID, req.PointsPerReal)
	if errors.Is(err, store.ErrValidation) {
		// The account without a store is useless; drop it so the email can retry.
		h.userStore.Delete(user.ID)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("create store", "error", err)
		h.userStore.Delete(user.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.setSession(w, r, auth.AuthContext{AccountID: user.ID, Role: model.RoleOwner, StoreID: st.ID})
	// The POS key is shown once here; afterwards it is only available via rotation.
	writeJSON(w, http.StatusCreated, map[string]any{"user": user, "store": st, "api_key": st.APIKey})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates an owner or admin account.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	user, err := h.userStore.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("login lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	ac := auth.AuthContext{AccountID: user.ID, Role: user.Role}
	if user.Role == model.RoleOwner {
		st, err := h.tenantStore.GetByOwner(user.ID)
		if err != nil {
			h.logger.Error("login store lookup", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if st != nil {
			ac.StoreID = st.ID
		}
	}

	h.setSession(w, r, ac)
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

type customerRegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	CPF      string `json:"cpf"`
	Password string `json:"password"`
}

// CustomerRegister creates a customer account and immediately migrates any
// pending points accumulated under the CPF before signup.
func (h *AuthHandler) CustomerRegister(w http.ResponseWriter, r *http.Request) {
	var req customerRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	customer, err := h.customerStore.Create(req.Name, req.Email, req.CPF, string(hash))
	if errors.Is(err, store.ErrValidation) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("create customer", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	migration, err := h.ledgerStore.MigratePendingPoints(r.Context(), customer.CPF, customer.ID)
	if err != nil {
		// The account exists; points stay pending and migrate on next login.
		h.logger.Error("signup migration", "error", err, "customer_id", customer.ID)
		migration = &model.MigrationResult{}
	}

	h.setSession(w, r, auth.AuthContext{AccountID: customer.ID, Role: model.RoleCustomer})
	writeJSON(w, http.StatusCreated, map[string]any{"customer": customer, "migration": migration})
}

// CustomerLogin authenticates a customer. Pending points that appeared since
// the last visit are migrated on the way in.
func (h *AuthHandler) CustomerLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	customer, err := h.customerStore.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("customer login lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if customer == nil || bcrypt.CompareHashAndPassword([]byte(customer.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	migration, err := h.ledgerStore.MigratePendingPoints(r.Context(), customer.CPF, customer.ID)
	if err != nil {
		h.logger.Error("login migration", "error", err, "customer_id", customer.ID)
		migration = &model.MigrationResult{}
	}

	h.setSession(w, r, auth.AuthContext{AccountID: customer.ID, Role: model.RoleCustomer})
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer, "migration": migration})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) setSession(w http.ResponseWriter, r *http.Request, ac auth.AuthContext) {
	token, err := h.tokens.Issue(ac, time.Now())
	if err != nil {
		h.logger.Error("issue session token", "error", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(auth.TokenTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
}
