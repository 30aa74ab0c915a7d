// Package sessionfakes holds a hand-rolled fake session.Store, in the
// teacher's repofakes style (auth/repofakes, token/repofake), for tests that
// want to inject failures the real in-memory store won't naturally produce.
package sessionfakes

import (
	"time"

	"github.com/jrsteele09/bazel-auth-broker/session"
)

// FakeStore lets tests force Create/Transition to fail on demand.
type FakeStore struct {
	Inner *session.InMemoryStore

	CreateErr     error
	TransitionErr error
}

func NewFakeStore() *FakeStore {
	return &FakeStore{Inner: session.NewInMemoryStore(10000)}
}

func (f *FakeStore) Create(params session.CreateParams) (*session.State, error) {
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	return f.Inner.Create(params)
}

func (f *FakeStore) FindBySessionID(id string) (*session.State, error) {
	return f.Inner.FindBySessionID(id)
}

func (f *FakeStore) FindByState(state string) (*session.State, error) {
	return f.Inner.FindByState(state)
}

func (f *FakeStore) Transition(id string, from, to session.Status, extendTTL time.Duration, mutate func(*session.State)) (*session.State, error) {
	if f.TransitionErr != nil {
		return nil, f.TransitionErr
	}
	return f.Inner.Transition(id, from, to, extendTTL, mutate)
}

func (f *FakeStore) Delete(id string) {
	f.Inner.Delete(id)
}

func (f *FakeStore) Len() int {
	return f.Inner.Len()
}

var _ session.Store = (*FakeStore)(nil)
