package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/jrsteele09/bazel-auth-broker/brokerjwt"
	brokererrors "github.com/jrsteele09/bazel-auth-broker/internal/errors"
)

// maxMetadataFieldBytes bounds each /exchange metadata field (spec.md §4.8:
// "size-bounded (≤256 bytes per field)").
const maxMetadataFieldBytes = 256

// cliStartResponse is the wire shape for POST /cli/start.
type cliStartResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	AuthURL   string `json:"auth_url"`
	ExpiresIn int    `json:"expires_in"`
}

// exchangeRequest is the wire shape for POST /exchange. Unknown fields are
// tolerated, never emitted (spec.md §4.7).
type exchangeRequest struct {
	SessionID string `json:"session_id"`
	Pipeline  string `json:"pipeline,omitempty"`
	Repo      string `json:"repo,omitempty"`
	Target    string `json:"target,omitempty"`
	RunID     string `json:"run_id,omitempty"`
}

func (r exchangeRequest) metadata() brokerjwt.ExchangeMetadata {
	return brokerjwt.ExchangeMetadata{
		Pipeline: r.Pipeline,
		Repo:     r.Repo,
		Target:   r.Target,
		RunID:    r.RunID,
	}
}

// validate enforces the per-field size bound; a violation never mutates
// session state since it is rejected before any orchestrator call is made.
func (r exchangeRequest) validate() error {
	if r.SessionID == "" {
		return brokererrors.New(brokererrors.KindSessionNotFound, "session_id is required")
	}
	fields := map[string]string{
		"pipeline": r.Pipeline,
		"repo":     r.Repo,
		"target":   r.Target,
		"run_id":   r.RunID,
	}
	for name, value := range fields {
		if len(value) > maxMetadataFieldBytes {
			return brokererrors.New(brokererrors.KindInvalidState, "metadata field "+name+" exceeds 256 bytes")
		}
	}
	return nil
}

// exchangeResponse is the wire shape for a successful POST /exchange
// (spec.md §3 ChildToken, §4.7).
type exchangeResponse struct {
	Token         string            `json:"token"`
	TTL           int               `json:"ttl"`
	UsesRemaining int               `json:"uses_remaining"`
	Policies      []string          `json:"policies"`
	Metadata      map[string]string `json:"metadata"`
}

// selectTeamRequest is the wire shape for POST /auth/select-team, accepted
// as either JSON (CLI/API caller) or an HTML form post (the browser page
// rendered by this same broker).
type selectTeamRequest struct {
	SessionID string `json:"session_id"`
	Team      string `json:"team"`
}

func decodeSelectTeamRequest(r *http.Request) (selectTeamRequest, error) {
	var req selectTeamRequest
	if isJSONRequest(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, brokererrors.New(brokererrors.KindInvalidState, "malformed json body")
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return req, brokererrors.New(brokererrors.KindInvalidState, "malformed form body")
	}
	req.SessionID = r.FormValue("session_id")
	req.Team = r.FormValue("team")
	return req, nil
}

func isJSONRequest(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return len(ct) >= len("application/json") && ct[:len("application/json")] == "application/json"
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return err
		}
		return brokererrors.New(brokererrors.KindInvalidState, "malformed json body")
	}
	return nil
}
