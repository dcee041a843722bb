package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/richytech/webhookrelay/internal/models"
	"github.com/richytech/webhookrelay/internal/storage"
)

type EndpointHandler struct {
	store storage.Store
}

func NewEndpointHandler(store storage.Store) *EndpointHandler {
	return &EndpointHandler{store: store}
}

type endpointRequest struct {
	Name          string              `json:"name"`
	Description   *string             `json:"description"`
	URL           string              `json:"url"`
	CustomHeaders models.Headers      `json:"custom_headers"`
	RetryPolicy   *models.RetryPolicy `json:"retry_policy"`
}

func validDestinationURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Create provisions an endpoint with a freshly generated signing secret. The
// secret appears in this response only; reads redact it.
func (h *EndpointHandler) Create(w http.ResponseWriter, r *http.Request) {
	acct := AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, CodeAuthentication, "unauthorized")
		return
	}

	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, CodeValidation, "name is required")
		return
	}
	if req.URL == "" || !validDestinationURL(req.URL) {
		writeError(w, http.StatusBadRequest, CodeValidation, "url must be a valid HTTP or HTTPS URL")
		return
	}

	policy := models.DefaultRetryPolicy()
	if req.RetryPolicy != nil {
		policy = *req.RetryPolicy
	}

	description := ""
	if req.Description != nil {
		description = *req.Description
	}

	now := time.Now().UTC()
	ep := &models.Endpoint{
		ID:            models.NewID("ep"),
		AccountID:     acct.ID,
		Name:          req.Name,
		Description:   description,
		URL:           req.URL,
		Secret:        models.NewSecret(),
		CustomHeaders: req.CustomHeaders,
		RetryPolicy:   policy,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if ep.CustomHeaders == nil {
		ep.CustomHeaders = models.Headers{}
	}

	if err := h.store.CreateEndpoint(r.Context(), ep); err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to create endpoint")
		return
	}

	writeSuccess(w, http.StatusCreated, ep)
}

func (h *EndpointHandler) ownedEndpoint(w http.ResponseWriter, r *http.Request) *models.Endpoint {
	acct := AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, CodeAuthentication, "unauthorized")
		return nil
	}

	id := chi.URLParam(r, "id")
	ep, err := h.store.GetEndpoint(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to get endpoint")
		return nil
	}
	if ep == nil || ep.AccountID != acct.ID {
		writeError(w, http.StatusNotFound, CodeNotFound, "endpoint not found")
		return nil
	}
	return ep
}

func (h *EndpointHandler) Get(w http.ResponseWriter, r *http.Request) {
	ep := h.ownedEndpoint(w, r)
	if ep == nil {
		return
	}
	ep.Secret = "" // write-once, never read back
	writeSuccess(w, http.StatusOK, ep)
}

func (h *EndpointHandler) List(w http.ResponseWriter, r *http.Request) {
	acct := AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, CodeAuthentication, "unauthorized")
		return
	}

	eps, err := h.store.ListEndpoints(r.Context(), acct.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to list endpoints")
		return
	}
	for i := range eps {
		eps[i].Secret = ""
	}
	if eps == nil {
		eps = []models.Endpoint{}
	}
	writeSuccess(w, http.StatusOK, eps)
}

func (h *EndpointHandler) Update(w http.ResponseWriter, r *http.Request) {
	ep := h.ownedEndpoint(w, r)
	if ep == nil {
		return
	}

	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "invalid request body")
		return
	}

	if req.URL != "" {
		if !validDestinationURL(req.URL) {
			writeError(w, http.StatusBadRequest, CodeValidation, "url must be a valid HTTP or HTTPS URL")
			return
		}
		ep.URL = req.URL
	}
	if req.Name != "" {
		ep.Name = req.Name
	}
	if req.Description != nil {
		ep.Description = *req.Description
	}
	if req.CustomHeaders != nil {
		ep.CustomHeaders = req.CustomHeaders
	}
	if req.RetryPolicy != nil {
		ep.RetryPolicy = *req.RetryPolicy
	}

	if err := h.store.UpdateEndpoint(r.Context(), ep); err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to update endpoint")
		return
	}

	ep.Secret = ""
	writeSuccess(w, http.StatusOK, ep)
}

func (h *EndpointHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ep := h.ownedEndpoint(w, r)
	if ep == nil {
		return
	}

	if err := h.store.DeleteEndpoint(r.Context(), ep.ID); err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to delete endpoint")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EndpointHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	ep := h.ownedEndpoint(w, r)
	if ep == nil {
		return
	}

	newActive := !ep.Active
	if err := h.store.ToggleEndpoint(r.Context(), ep.ID, newActive); err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to toggle endpoint")
		return
	}

	ep.Active = newActive
	ep.Secret = ""
	writeSuccess(w, http.StatusOK, ep)
}

// RotateSecret replaces the signing secret. The old one stops working
// immediately; there is no dual-secret grace window.
func (h *EndpointHandler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	ep := h.ownedEndpoint(w, r)
	if ep == nil {
		return
	}

	secret := models.NewSecret()
	if err := h.store.RotateEndpointSecret(r.Context(), ep.ID, secret); err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to rotate secret")
		return
	}

	writeSuccess(w, http.StatusOK, map[string]string{"secret": secret})
}

func (h *EndpointHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ep := h.ownedEndpoint(w, r)
	if ep == nil {
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"endpoint_id":  ep.ID,
		"statistics":   ep.Stats,
		"success_rate": ep.Stats.SuccessRate(),
	})
}
