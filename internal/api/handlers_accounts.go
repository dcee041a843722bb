package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/richytech/webhookrelay/internal/models"
	"github.com/richytech/webhookrelay/internal/storage"
)

// AccountHandler exposes the thin identity/quota CRUD the pipeline depends on.
type AccountHandler struct {
	store storage.Store
}

func NewAccountHandler(store storage.Store) *AccountHandler {
	return &AccountHandler{store: store}
}

type createAccountRequest struct {
	Email string      `json:"email"`
	Name  string      `json:"name"`
	Tier  models.Tier `json:"tier"`
}

func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "invalid request body")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, CodeValidation, "email is required")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, CodeValidation, "name is required")
		return
	}
	if req.Tier == "" {
		req.Tier = models.TierFree
	}
	if _, ok := models.WebhookQuotas[req.Tier]; !ok {
		writeError(w, http.StatusBadRequest, CodeValidation, "unknown tier")
		return
	}

	now := time.Now().UTC()
	acct := &models.Account{
		ID:           models.NewID("acct"),
		Email:        req.Email,
		Name:         req.Name,
		APIKey:       models.NewAPIKey(),
		Tier:         req.Tier,
		WebhookQuota: models.QuotaFor(req.Tier),
		UsageResetAt: models.NextUsageReset(now),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.store.CreateAccount(r.Context(), acct); err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to create account")
		return
	}

	writeSuccess(w, http.StatusCreated, acct)
}

func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	acct, err := h.store.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to get account")
		return
	}
	if acct == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "account not found")
		return
	}
	acct.APIKey = "" // don't expose
	writeSuccess(w, http.StatusOK, acct)
}

func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to list accounts")
		return
	}
	for i := range accounts {
		accounts[i].APIKey = ""
	}
	if accounts == nil {
		accounts = []models.Account{}
	}
	writeSuccess(w, http.StatusOK, accounts)
}

func (h *AccountHandler) RotateKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	acct, err := h.store.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to get account")
		return
	}
	if acct == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "account not found")
		return
	}

	newKey := models.NewAPIKey()
	if err := h.store.UpdateAccountAPIKey(r.Context(), id, newKey); err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to rotate key")
		return
	}

	writeSuccess(w, http.StatusOK, map[string]string{"api_key": newKey})
}

// Me returns the authenticated account's quota snapshot.
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	acct := AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, CodeAuthentication, "unauthorized")
		return
	}
	acct.APIKey = ""
	writeSuccess(w, http.StatusOK, acct)
}
