package session_test

import (
	"sync"
	"testing"
	"time"

	brokererrors "github.com/jrsteele09/bazel-auth-broker/internal/errors"
	"github.com/jrsteele09/bazel-auth-broker/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_IndexesBySessionIDAndState(t *testing.T) {
	store := session.NewInMemoryStore(10)
	st, err := store.Create(session.CreateParams{OAuthState: "st1", TTL: time.Minute})
	require.NoError(t, err)

	bySession, err := store.FindBySessionID(st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, st.SessionID, bySession.SessionID)

	byState, err := store.FindByState("st1")
	require.NoError(t, err)
	assert.Equal(t, st.SessionID, byState.SessionID)
}

func TestCreate_RejectsAtCapacity(t *testing.T) {
	store := session.NewInMemoryStore(1)
	_, err := store.Create(session.CreateParams{OAuthState: "st1", TTL: time.Minute})
	require.NoError(t, err)

	_, err = store.Create(session.CreateParams{OAuthState: "st2", TTL: time.Minute})
	require.Error(t, err)
	assert.True(t, brokererrors.Is(err, brokererrors.KindBackpressure))
}

func TestTransition_RejectsWrongFromState(t *testing.T) {
	store := session.NewInMemoryStore(10)
	st, err := store.Create(session.CreateParams{OAuthState: "st1", TTL: time.Minute})
	require.NoError(t, err)

	_, err = store.Transition(st.SessionID, session.StatusReadyForExchange, session.StatusExchanged, 0, nil)
	require.Error(t, err)
	assert.True(t, brokererrors.Is(err, brokererrors.KindSessionNotReady))
}

func TestTransition_ConcurrentExchangeHasExactlyOneWinner(t *testing.T) {
	store := session.NewInMemoryStore(10)
	st, err := store.Create(session.CreateParams{OAuthState: "st1", TTL: time.Minute})
	require.NoError(t, err)

	_, err = store.Transition(st.SessionID, session.StatusPendingCallback, session.StatusReadyForExchange, 0, nil)
	require.NoError(t, err)

	const attempts = 20
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = store.Transition(st.SessionID, session.StatusReadyForExchange, session.StatusExchanged, 0, nil)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		} else {
			assert.True(t, brokererrors.Is(err, brokererrors.KindSessionNotReady))
		}
	}
	assert.Equal(t, 1, successes)
}

func TestExpiry_SessionUnreachableAfterTTL(t *testing.T) {
	now := time.Now()
	store := session.NewInMemoryStore(10).WithClock(func() time.Time { return now })
	st, err := store.Create(session.CreateParams{OAuthState: "st1", TTL: time.Minute})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = store.FindBySessionID(st.SessionID)
	require.Error(t, err)
	assert.True(t, brokererrors.Is(err, brokererrors.KindSessionExpired))
}

func TestGC_RemovesExpiredSessionsAfterGraceWindow(t *testing.T) {
	now := time.Now()
	store := session.NewInMemoryStore(10).WithClock(func() time.Time { return now })
	st, err := store.Create(session.CreateParams{OAuthState: "st1", TTL: time.Second})
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	store.RunGCOnceForTest(time.Second) // marks EXPIRED, not yet past grace
	require.Equal(t, 1, store.Len())

	now = now.Add(2 * time.Second)
	store.RunGCOnceForTest(time.Second) // now past grace, should be dropped
	assert.Equal(t, 0, store.Len())
	_ = st
}
