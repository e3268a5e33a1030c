package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/errors"
)

func TestKeyRepository_CompareAndSwap(t *testing.T) {
	r := NewKeyRepository()
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, r.Create(ctx, &models.SigningKey{KeyID: "a", CreatedAt: now}))
	require.NoError(t, r.Create(ctx, &models.SigningKey{KeyID: "b", CreatedAt: now.Add(time.Second)}))
	assert.True(t, errors.Is(r.Create(ctx, &models.SigningKey{KeyID: "a"}), errors.ErrDuplicateKeyID))

	first, err := r.FindByID(ctx, "a")
	require.NoError(t, err)
	second, err := r.FindByID(ctx, "a")
	require.NoError(t, err)

	first.MaterialVersion = 2
	require.NoError(t, r.Update(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.MaterialVersion = 3
	assert.True(t, errors.Is(r.Update(ctx, second), errors.ErrVersionConflict))

	_, err = r.FindCurrent(ctx)
	assert.True(t, errors.Is(err, errors.ErrNoCurrentKey))

	require.NoError(t, r.SwapCurrent(ctx, first, nil))
	b, err := r.FindByID(ctx, "b")
	require.NoError(t, err)
	a, err := r.FindByID(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, r.SwapCurrent(ctx, b, a))

	current, err := r.FindCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", current.KeyID)

	keys, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "a", keys[0].KeyID)
	assert.False(t, keys[0].IsCurrent)

	_, err = r.FindByID(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrUnknownKey))
}

func TestKeyRepository_SwapCurrentStaleDemoteLeavesStateUnchanged(t *testing.T) {
	r := NewKeyRepository()
	ctx := context.Background()
	require.NoError(t, r.Create(ctx, &models.SigningKey{KeyID: "a"}))
	require.NoError(t, r.Create(ctx, &models.SigningKey{KeyID: "b"}))
	a, _ := r.FindByID(ctx, "a")
	require.NoError(t, r.SwapCurrent(ctx, a, nil))

	b, _ := r.FindByID(ctx, "b")
	stale := &models.SigningKey{KeyID: "a", Version: 1}
	assert.Error(t, r.SwapCurrent(ctx, b, stale))

	current, err := r.FindCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", current.KeyID)
}

func TestAttemptRepository(t *testing.T) {
	r := NewAttemptRepository()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, r.Append(ctx, &models.ValidationAttempt{
			ID: string(rune('a' + i)), UserID: "u1", Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, r.Append(ctx, &models.ValidationAttempt{ID: "z", UserID: "u2", Timestamp: base}))

	n, err := r.CountSince(ctx, "u1", base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	list, err := r.ListByUser(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "d", list[0].ID)
	assert.Equal(t, 5, r.Len())
}

func TestKeyEventRepository_List(t *testing.T) {
	r := NewKeyEventRepository()
	ctx := context.Background()
	for _, typ := range []constants.KeyEventType{constants.KeyEventCreated, constants.KeyEventRotated, constants.KeyEventRotated} {
		require.NoError(t, r.Append(ctx, &models.KeyEvent{ID: string(typ) + "-" + time.Now().String(), EventType: typ}))
	}

	all, err := r.List(ctx, models.EventQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, constants.KeyEventRotated, all[0].EventType)

	created, err := r.List(ctx, models.EventQuery{EventType: constants.KeyEventCreated, Limit: 5})
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestRoleRepository(t *testing.T) {
	r := NewRoleRepository(map[string]string{"root": constants.AdminRole})
	ctx := context.Background()

	role, ok, err := r.RoleOf(ctx, "root")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, constants.AdminRole, role)

	_, ok, err = r.RoleOf(ctx, "guest")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.SetRole(ctx, "guest", "viewer"))
	role, ok, _ = r.RoleOf(ctx, "guest")
	assert.True(t, ok)
	assert.Equal(t, "viewer", role)
}

func TestSessionStore(t *testing.T) {
	s := NewSessionStore()
	ctx := context.Background()

	gen, err := s.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)

	gen, err = s.BumpGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
}
