package server

import (
	"encoding/json"
	"net/http"

	brokererrors "github.com/jrsteele09/bazel-auth-broker/internal/errors"
	"github.com/rs/zerolog/log"
)

// errorResponse is the wire shape for every failed request: a single
// closed-taxonomy kind under "error" (spec.md §7, §9) and nothing else —
// unknown fields are never emitted on output.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// writeError translates any error into the broker's closed wire taxonomy.
// An error that isn't already a *brokererrors.Error is never leaked
// verbatim — it is logged server-side and reported as INTERNAL.
func writeError(w http.ResponseWriter, err error) {
	var be *brokererrors.Error
	if brokererrors.As(err, &be) {
		log.Warn().Str("kind", string(be.Kind)).Bool("retryable", be.Retryable()).Err(err).Msg("request failed")
		writeJSON(w, be.HTTPStatus(), errorResponse{Error: string(be.Kind)})
		return
	}

	log.Error().Err(err).Msg("unclassified error crossing http boundary")
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: string(brokererrors.KindInternal)})
}
