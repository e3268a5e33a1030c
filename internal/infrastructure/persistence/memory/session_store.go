package memory

import (
	"context"
	"sync/atomic"

	"github.com/turtacn/keyguard/internal/domain/service"
)

// SessionStore is a process-local generation counter.
type SessionStore struct {
	gen atomic.Int64
}

var _ service.SessionStore = (*SessionStore)(nil)

func NewSessionStore() *SessionStore {
	return &SessionStore{}
}

func (s *SessionStore) Generation(context.Context) (int64, error) {
	return s.gen.Load(), nil
}

func (s *SessionStore) BumpGeneration(context.Context) (int64, error) {
	return s.gen.Add(1), nil
}
