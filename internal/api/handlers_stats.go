package api

import (
	"net/http"

	"github.com/richytech/webhookrelay/internal/storage"
)

type StatsHandler struct {
	store storage.Store
}

func NewStatsHandler(store storage.Store) *StatsHandler {
	return &StatsHandler{store: store}
}

func (h *StatsHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "webhookrelay",
	})
}

func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	acct := AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, CodeAuthentication, "unauthorized")
		return
	}

	stats, err := h.store.GetAccountStats(r.Context(), acct.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to get stats")
		return
	}
	writeSuccess(w, http.StatusOK, stats)
}
