package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", ulid.Make())))
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(context.Background(), db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func testKey(id string, created time.Time, current bool) *models.SigningKey {
	return &models.SigningKey{
		KeyID:             id,
		Algorithm:         constants.AlgorithmHS256,
		CreatedAt:         created,
		RotationFrequency: constants.DefaultRotationFrequency,
		IsCurrent:         current,
		LastRotatedAt:     created,
		MaterialVersion:   1,
		Version:           1,
	}
}

func TestKeyRepository_CreateFindList(t *testing.T) {
	repo := NewKeyRepository(newTestDB(t))
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, testKey("b", t0, true)))
	require.NoError(t, repo.Create(ctx, testKey("a", t0.Add(time.Hour), false)))

	err := repo.Create(ctx, testKey("b", t0, false))
	assert.True(t, errors.Is(err, errors.ErrDuplicateKeyID))

	got, err := repo.FindByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultRotationFrequency, got.RotationFrequency)

	_, err = repo.FindByID(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrUnknownKey))

	current, err := repo.FindCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", current.KeyID)

	keys, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "b", keys[0].KeyID)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestKeyRepository_UpdateIsCompareAndSwap(t *testing.T) {
	repo := NewKeyRepository(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, testKey("k1", time.Now().UTC(), true)))

	a, err := repo.FindByID(ctx, "k1")
	require.NoError(t, err)
	b, err := repo.FindByID(ctx, "k1")
	require.NoError(t, err)

	a.MaterialVersion = 2
	require.NoError(t, repo.Update(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.MaterialVersion = 2
	err = repo.Update(ctx, b)
	assert.True(t, errors.Is(err, errors.ErrVersionConflict))

	ghost := testKey("ghost", time.Now().UTC(), false)
	assert.True(t, errors.Is(repo.Update(ctx, ghost), errors.ErrUnknownKey))
}

func TestKeyRepository_SwapCurrent(t *testing.T) {
	repo := NewKeyRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, repo.Create(ctx, testKey("old", now, true)))
	require.NoError(t, repo.Create(ctx, testKey("new", now, false)))

	oldKey, _ := repo.FindByID(ctx, "old")
	newKey, _ := repo.FindByID(ctx, "new")
	require.NoError(t, repo.SwapCurrent(ctx, newKey, oldKey))

	current, err := repo.FindCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", current.KeyID)

	// A stale demote rolls the whole swap back.
	stale := *current
	stale.Version = 99
	oldKey, _ = repo.FindByID(ctx, "old")
	err = repo.SwapCurrent(ctx, oldKey, &stale)
	assert.True(t, errors.Is(err, errors.ErrVersionConflict))

	current, err = repo.FindCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", current.KeyID)
}

func TestKeyEventRepository_ListNewestFirst(t *testing.T) {
	repo := NewKeyEventRepository(newTestDB(t))
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	types := []constants.KeyEventType{constants.KeyEventCreated, constants.KeyEventMadeCurrent, constants.KeyEventRotated}
	for i, et := range types {
		at := t0.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Append(ctx, &models.KeyEvent{
			ID:        ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String(),
			EventType: et,
			KeyID:     "k1",
			CreatedAt: at,
		}))
	}

	events, err := repo.List(ctx, models.EventQuery{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, constants.KeyEventRotated, events[0].EventType)
	assert.Equal(t, constants.KeyEventCreated, events[2].EventType)

	events, err = repo.List(ctx, models.EventQuery{EventType: constants.KeyEventMadeCurrent})
	require.NoError(t, err)
	require.Len(t, events, 1)

	events, err = repo.List(ctx, models.EventQuery{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestAttemptRepository(t *testing.T) {
	repo := NewAttemptRepository(newTestDB(t))
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Append(ctx, &models.ValidationAttempt{
			ID:           fmt.Sprintf("a%d", i),
			ValidationID: fmt.Sprintf("v%d", i),
			UserID:       "user-1",
			Timestamp:    t0.Add(time.Duration(i) * time.Minute),
			Reason:       constants.AttemptReasonOK,
		}))
	}

	n, err := repo.CountSince(ctx, "user-1", t0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	list, err := repo.ListByUser(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a2", list[0].ID)
}

func TestRoleRepositories(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Create(&models.AdminRoleRecord{UserID: "admin-1", Role: constants.AdminRole}).Error)
	require.NoError(t, db.Create(&models.AdminRoleRecord{UserID: "user-1", Role: "member"}).Error)

	for _, repo := range []interface {
		RoleOf(context.Context, string) (string, bool, error)
	}{NewPrivilegedRoleRepository(db), NewSessionRoleRepository(db, "keyguard_session")} {
		role, found, err := repo.RoleOf(ctx, "admin-1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, constants.AdminRole, role)

		_, found, err = repo.RoleOf(ctx, "nobody")
		require.NoError(t, err)
		assert.False(t, found)
	}
}
