// Package session implements the broker's in-memory, TTL-bounded session
// store (spec.md §3, §4.3, component C3). One record tracks a single
// authentication flow from /cli/start or /auth/login through /exchange.
package session

import "time"

// Status is a state in the session state machine (spec.md §4.8).
type Status string

const (
	StatusPendingCallback       Status = "PENDING_CALLBACK"
	StatusAwaitingTeamSelection Status = "AWAITING_TEAM_SELECTION"
	StatusReadyForExchange      Status = "READY_FOR_EXCHANGE"
	StatusExchanged             Status = "EXCHANGED"
	StatusFailed                Status = "FAILED"
	StatusExpired               Status = "EXPIRED"
)

// Terminal reports whether status never transitions again (apart from GC).
func (s Status) Terminal() bool {
	switch s {
	case StatusExchanged, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// User is the identity the IdP callback populated onto the session.
type User struct {
	Email       string
	DisplayName string
	Subject     string
	Groups      []string
}

// ChildToken is the last Vault child token minted for this session. It is
// never populated in this implementation — spec.md §9 documents the strict
// single-use default this field exists to make explicit.
type ChildToken struct {
	Token          string
	TTLSeconds     int
	UsesRemaining  int
	Policies       []string
	Metadata       map[string]string
	MintedAtUnix   int64
}

// State is one session record (spec.md §3's SessionState).
type State struct {
	SessionID     string
	OAuthState    string
	PKCEVerifier  string
	PKCEChallenge string
	Nonce         string

	Status Status

	CreatedAt time.Time
	ExpiresAt time.Time

	User User

	CandidateTeams []string
	SelectedTeam   string

	VaultTokenCache *ChildToken

	// FailureReason records why a session moved to FAILED, for logging only
	// — never re-exposed verbatim to the client (spec.md §7 propagation
	// policy: the client only ever sees SESSION_NOT_READY afterward).
	FailureReason string
}

// Clone returns a deep-enough copy so callers can't mutate store internals
// through a returned pointer (teacher's repo pattern in authflowrepo/loginsession
// always returns a defensive copy).
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := *s
	clone.User.Groups = append([]string(nil), s.User.Groups...)
	clone.CandidateTeams = append([]string(nil), s.CandidateTeams...)
	if s.VaultTokenCache != nil {
		tok := *s.VaultTokenCache
		tok.Policies = append([]string(nil), s.VaultTokenCache.Policies...)
		meta := make(map[string]string, len(s.VaultTokenCache.Metadata))
		for k, v := range s.VaultTokenCache.Metadata {
			meta[k] = v
		}
		tok.Metadata = meta
		clone.VaultTokenCache = &tok
	}
	return &clone
}
