package server

import "net/http"

// healthResponse is the wire shape for GET /health (spec.md §4.7).
type healthResponse struct {
	Status         string `json:"status"`
	AuthMethod     string `json:"auth_method"`
	VaultReachable bool   `json:"vault_reachable"`
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	reachable := false
	if h.vault != nil {
		reachable = h.vault.Reachable(r.Context())
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "healthy",
		AuthMethod:     "okta_oidc",
		VaultReachable: reachable,
	})
}
