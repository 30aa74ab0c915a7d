package session

import (
	"context"
	"sync"
	"time"

	brokererrors "github.com/jrsteele09/bazel-auth-broker/internal/errors"
)

// CreateParams are the fields known at session creation, before the IdP
// callback populates identity.
type CreateParams struct {
	OAuthState    string
	PKCEVerifier  string
	PKCEChallenge string
	Nonce         string
	TTL           time.Duration
}

// Store is the session-store contract (spec.md §4.3). All operations are
// atomic; Transition is the single linearizable compare-and-swap that makes
// concurrent duplicate /exchange calls resolve to exactly one winner
// (spec.md §5, §8 scenario 3).
type Store interface {
	Create(params CreateParams) (*State, error)
	FindBySessionID(sessionID string) (*State, error)
	FindByState(oauthState string) (*State, error)
	// Transition applies mutate only if the session's current status equals
	// from; on success the session's status becomes to. Returns
	// SESSION_NOT_READY if the precondition doesn't hold. When extendTTL is
	// positive, expires_at is pushed out to now+extendTTL as part of the same
	// atomic step (spec.md §3: refreshed to +5 minutes on move to
	// READY_FOR_EXCHANGE); pass 0 to leave expires_at untouched.
	Transition(sessionID string, from, to Status, extendTTL time.Duration, mutate func(*State)) (*State, error)
	Delete(sessionID string)
	Len() int
}

// InMemoryStore is a concurrent map with two indices over the same record
// (by session_id and by OAuth state), generalizing the teacher's
// authflowrepo/loginsession in-memory repos into the single dual-indexed,
// bounded store spec.md §4.3 and §9 call for.
type InMemoryStore struct {
	mu        sync.Mutex
	bySession map[string]*State
	byState   map[string]*State
	maxSize   int
	now       func() time.Time

	expiredAt map[string]time.Time // sessionID -> time it was marked EXPIRED, for the 60s grace window
}

// NewInMemoryStore creates a store bounded at maxSize live sessions
// (spec.md §4.3 BACKPRESSURE ceiling, default 10000 per spec.md §6).
func NewInMemoryStore(maxSize int) *InMemoryStore {
	return &InMemoryStore{
		bySession: make(map[string]*State),
		byState:   make(map[string]*State),
		expiredAt: make(map[string]time.Time),
		maxSize:   maxSize,
		now:       time.Now,
	}
}

// WithClock overrides the time source, for deterministic tests.
func (s *InMemoryStore) WithClock(now func() time.Time) *InMemoryStore {
	s.now = now
	return s
}

func (s *InMemoryStore) Create(params CreateParams) (*State, error) {
	sessionID, err := newOpaqueID()
	if err != nil {
		return nil, brokererrors.Wrap(brokererrors.KindInternal, err, "session: generating session id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.bySession) >= s.maxSize {
		return nil, brokererrors.New(brokererrors.KindBackpressure, "session store at capacity")
	}

	now := s.now()
	st := &State{
		SessionID:     sessionID,
		OAuthState:    params.OAuthState,
		PKCEVerifier:  params.PKCEVerifier,
		PKCEChallenge: params.PKCEChallenge,
		Nonce:         params.Nonce,
		Status:        StatusPendingCallback,
		CreatedAt:     now,
		ExpiresAt:     now.Add(params.TTL),
	}
	s.bySession[sessionID] = st
	s.byState[params.OAuthState] = st
	return st.Clone(), nil
}

func (s *InMemoryStore) FindBySessionID(sessionID string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(sessionID)
}

func (s *InMemoryStore) FindByState(oauthState string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byState[oauthState]
	if !ok {
		return nil, brokererrors.New(brokererrors.KindSessionNotFound, "unknown state")
	}
	return s.expireIfPastDeadlineLocked(st)
}

func (s *InMemoryStore) lookupLocked(sessionID string) (*State, error) {
	st, ok := s.bySession[sessionID]
	if !ok {
		return nil, brokererrors.New(brokererrors.KindSessionNotFound, "unknown session")
	}
	return s.expireIfPastDeadlineLocked(st)
}

// expireIfPastDeadlineLocked lazily applies TTL expiry so a request arriving
// between sweep ticks still observes SESSION_EXPIRED rather than stale state.
func (s *InMemoryStore) expireIfPastDeadlineLocked(st *State) (*State, error) {
	if !st.Status.Terminal() && s.now().After(st.ExpiresAt) {
		st.Status = StatusExpired
		s.expiredAt[st.SessionID] = s.now()
	}
	if st.Status == StatusExpired {
		return nil, brokererrors.New(brokererrors.KindSessionExpired, "session expired")
	}
	return st.Clone(), nil
}

// Transition is the only way to mutate a session's status. The from/to pair
// makes every transition self-documenting and guarantees single-use: a
// session in READY_FOR_EXCHANGE can move to EXCHANGED exactly once because
// the second caller observes Status != READY_FOR_EXCHANGE and fails.
func (s *InMemoryStore) Transition(sessionID string, from, to Status, extendTTL time.Duration, mutate func(*State)) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.bySession[sessionID]
	if !ok {
		return nil, brokererrors.New(brokererrors.KindSessionNotFound, "unknown session")
	}
	now := s.now()
	if now.After(st.ExpiresAt) && !st.Status.Terminal() {
		st.Status = StatusExpired
		s.expiredAt[sessionID] = now
	}
	if st.Status == StatusExpired {
		return nil, brokererrors.New(brokererrors.KindSessionExpired, "session expired")
	}
	if st.Status != from {
		return nil, brokererrors.New(brokererrors.KindSessionNotReady, "session not in expected state")
	}

	if mutate != nil {
		mutate(st)
	}
	st.Status = to
	if extendTTL > 0 {
		st.ExpiresAt = now.Add(extendTTL)
	}
	return st.Clone(), nil
}

func (s *InMemoryStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.bySession[sessionID]; ok {
		delete(s.byState, st.OAuthState)
		delete(s.bySession, sessionID)
		delete(s.expiredAt, sessionID)
	}
}

func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bySession)
}

// sweepOnce removes sessions that have sat EXPIRED for more than the grace
// window, and marks newly-TTL-expired sessions EXPIRED — the background half
// of spec.md §4.3's sweep; the lazy check in Transition/Find covers requests
// that arrive between ticks.
func (s *InMemoryStore) sweepOnce(grace time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, st := range s.bySession {
		if !st.Status.Terminal() && now.After(st.ExpiresAt) {
			st.Status = StatusExpired
			s.expiredAt[id] = now
		}
	}
	for id, markedAt := range s.expiredAt {
		if now.Sub(markedAt) > grace {
			if st, ok := s.bySession[id]; ok {
				delete(s.byState, st.OAuthState)
				delete(s.bySession, id)
			}
			delete(s.expiredAt, id)
		}
	}
}

// RunGC starts the 30-second sweep goroutine (spec.md §4.3) and stops when
// ctx is cancelled.
func (s *InMemoryStore) RunGC(ctx context.Context, interval, grace time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepOnce(grace)
			}
		}
	}()
}

// RunGCOnceForTest exposes a single sweep pass for deterministic tests that
// don't want to wait on the ticker in RunGC.
func (s *InMemoryStore) RunGCOnceForTest(grace time.Duration) {
	s.sweepOnce(grace)
}

var _ Store = (*InMemoryStore)(nil)
