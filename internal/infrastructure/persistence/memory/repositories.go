// Package memory provides process-local implementations of the repository interfaces,
// used by the "memory" database driver and by tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/internal/domain/repository"
	"github.com/turtacn/keyguard/pkg/errors"
)

// KeyRepository keeps signing keys in a map with the same compare-and-swap semantics
// as the SQL implementation.
type KeyRepository struct {
	mu   sync.RWMutex
	keys map[string]models.SigningKey
}

var _ repository.KeyRepository = (*KeyRepository)(nil)

func NewKeyRepository() *KeyRepository {
	return &KeyRepository{keys: make(map[string]models.SigningKey)}
}

func (r *KeyRepository) Create(_ context.Context, key *models.SigningKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[key.KeyID]; ok {
		return errors.DuplicateKeyID(key.KeyID)
	}
	if key.Version == 0 {
		key.Version = 1
	}
	r.keys[key.KeyID] = *key
	return nil
}

func (r *KeyRepository) FindByID(_ context.Context, keyID string) (*models.SigningKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.keys[keyID]
	if !ok {
		return nil, errors.UnknownKey(keyID)
	}
	return &k, nil
}

func (r *KeyRepository) FindCurrent(_ context.Context) (*models.SigningKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, k := range r.keys {
		if k.IsCurrent {
			k := k
			return &k, nil
		}
	}
	return nil, errors.ErrNoCurrentKey
}

func (r *KeyRepository) List(_ context.Context) ([]*models.SigningKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.SigningKey, 0, len(r.keys))
	for _, k := range r.keys {
		k := k
		out = append(out, &k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].KeyID < out[j].KeyID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *KeyRepository) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.keys)), nil
}

func (r *KeyRepository) Update(_ context.Context, key *models.SigningKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(key); err != nil {
		return err
	}
	r.put(key, key.IsCurrent)
	return nil
}

func (r *KeyRepository) SwapCurrent(_ context.Context, promote, demote *models.SigningKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if demote != nil {
		if err := r.check(demote); err != nil {
			return err
		}
	}
	if err := r.check(promote); err != nil {
		return err
	}
	if demote != nil {
		r.put(demote, false)
	}
	r.put(promote, true)
	return nil
}

func (r *KeyRepository) check(key *models.SigningKey) error {
	stored, ok := r.keys[key.KeyID]
	if !ok {
		return errors.UnknownKey(key.KeyID)
	}
	if stored.Version != key.Version {
		return errors.VersionConflict(key.KeyID)
	}
	return nil
}

func (r *KeyRepository) put(key *models.SigningKey, current bool) {
	key.IsCurrent = current
	key.Version++
	r.keys[key.KeyID] = *key
}

// KeyEventRepository is an append-only slice of events.
type KeyEventRepository struct {
	mu     sync.RWMutex
	events []models.KeyEvent
}

var _ repository.KeyEventRepository = (*KeyEventRepository)(nil)

func NewKeyEventRepository() *KeyEventRepository {
	return &KeyEventRepository{}
}

func (r *KeyEventRepository) Append(_ context.Context, event *models.KeyEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
	return nil
}

// List walks the slice backwards so the newest events come first.
func (r *KeyEventRepository) List(_ context.Context, q models.EventQuery) ([]*models.KeyEvent, error) {
	q = q.Normalize()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.KeyEvent, 0, q.Limit)
	for i := len(r.events) - 1; i >= 0 && len(out) < q.Limit; i-- {
		e := r.events[i]
		if q.EventType != "" && e.EventType != q.EventType {
			continue
		}
		out = append(out, &e)
	}
	return out, nil
}

// Len returns the number of stored events.
func (r *KeyEventRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

// AttemptRepository is an append-only slice of validation attempts.
type AttemptRepository struct {
	mu       sync.RWMutex
	attempts []models.ValidationAttempt
}

var _ repository.AttemptRepository = (*AttemptRepository)(nil)

func NewAttemptRepository() *AttemptRepository {
	return &AttemptRepository{}
}

func (r *AttemptRepository) Append(_ context.Context, attempt *models.ValidationAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, *attempt)
	return nil
}

func (r *AttemptRepository) CountSince(_ context.Context, userID string, since time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, a := range r.attempts {
		if a.UserID == userID && a.Timestamp.After(since) {
			n++
		}
	}
	return n, nil
}

func (r *AttemptRepository) ListByUser(_ context.Context, userID string, limit int) ([]*models.ValidationAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.ValidationAttempt, 0)
	for i := len(r.attempts) - 1; i >= 0 && len(out) < limit; i-- {
		if a := r.attempts[i]; a.UserID == userID {
			out = append(out, &a)
		}
	}
	return out, nil
}

// Len returns the number of stored attempts.
func (r *AttemptRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.attempts)
}

// RoleRepository serves roles from a fixed map.
type RoleRepository struct {
	mu    sync.RWMutex
	roles map[string]string
}

var _ repository.RoleRepository = (*RoleRepository)(nil)

// NewRoleRepository copies roles (userID -> role).
func NewRoleRepository(roles map[string]string) *RoleRepository {
	r := &RoleRepository{roles: make(map[string]string, len(roles))}
	for k, v := range roles {
		r.roles[k] = v
	}
	return r
}

func (r *RoleRepository) RoleOf(_ context.Context, userID string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[userID]
	return role, ok, nil
}

// SetRole assigns a role.
func (r *RoleRepository) SetRole(_ context.Context, userID, role string) error {
	r.mu.Lock()
	r.roles[userID] = role
	r.mu.Unlock()
	return nil
}
