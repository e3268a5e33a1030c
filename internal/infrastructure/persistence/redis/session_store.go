package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/keyguard/internal/domain/service"
	"github.com/turtacn/keyguard/pkg/constants"
)

// SessionStore keeps the session generation in a single Redis counter shared by all replicas.
type SessionStore struct {
	client redis.UniversalClient
	key    string
}

var _ service.SessionStore = (*SessionStore)(nil)

func NewSessionStore(client redis.UniversalClient, keyPrefix string) *SessionStore {
	if keyPrefix == "" {
		keyPrefix = constants.ServiceName
	}
	return &SessionStore{client: client, key: keyPrefix + ":session:generation"}
}

// Generation returns the current generation; an unset counter is generation 0.
func (s *SessionStore) Generation(ctx context.Context) (int64, error) {
	n, err := s.client.Get(ctx, s.key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read session generation: %w", err)
	}
	return n, nil
}

// BumpGeneration increments the generation, invalidating every token issued before.
func (s *SessionStore) BumpGeneration(ctx context.Context) (int64, error) {
	n, err := s.client.Incr(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("bump session generation: %w", err)
	}
	return n, nil
}
