package application

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/internal/domain/repository"
	"github.com/turtacn/keyguard/internal/domain/service"
	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/errors"
	"github.com/turtacn/keyguard/pkg/logger"
)

// SessionOutcome reports the re-issue of the caller's session after a key change.
// A failed refresh never undoes the key change; it is reported here instead.
type SessionOutcome struct {
	SessionToken     string
	SessionRefreshed bool
	RefreshError     string
}

// RotationResult reports the outcome of a rotation.
type RotationResult struct {
	Rotated bool
	Key     *models.SigningKey
	SessionOutcome
}

// AddResult reports the outcome of AddKey.
type AddResult struct {
	KeyID string
	SessionOutcome
}

// KeyStore is the application-layer service that owns the signing key set.
// All writes are serialized by a single writer lock and guarded by row-version compare-and-swap,
// so at most one key is current at any observation point.
// KeyStore 是拥有签名密钥集合的应用层服务。
// 所有写操作由单个写锁串行化，并由行版本比较交换保护，因此任何时刻最多只有一个当前密钥。
type KeyStore struct {
	repo     repository.KeyRepository
	material service.KeyMaterialProvider
	audit    service.AuditLog
	sessions service.SessionRefresher
	clock    service.Clock
	metrics  service.Metrics
	defaults KeyDefaults
	logger   logger.Logger

	mu sync.Mutex
}

// KeyDefaults are applied when AddKey is called without an algorithm or frequency.
type KeyDefaults struct {
	Algorithm         constants.KeyAlgorithm
	RotationFrequency time.Duration
}

// NewKeyStore creates a KeyStore. The session refresher is attached afterwards with
// AttachSessionRefresher because the refresher itself reads the current key from the store.
func NewKeyStore(
	repo repository.KeyRepository,
	material service.KeyMaterialProvider,
	audit service.AuditLog,
	clock service.Clock,
	metrics service.Metrics,
	defaults KeyDefaults,
	log logger.Logger,
) *KeyStore {
	if clock == nil {
		clock = service.SystemClock{}
	}
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	if !defaults.Algorithm.Valid() {
		defaults.Algorithm = constants.DefaultKeyAlgorithm
	}
	if defaults.RotationFrequency <= 0 {
		defaults.RotationFrequency = constants.DefaultRotationFrequency
	}
	return &KeyStore{
		repo:     repo,
		material: material,
		audit:    audit,
		clock:    clock,
		metrics:  metrics,
		defaults: defaults,
		logger:   log.WithComponent("KeyStore"),
	}
}

// AttachSessionRefresher wires the refresher invoked after rotation and promotion.
func (s *KeyStore) AttachSessionRefresher(r service.SessionRefresher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = r
}

// CheckRotationStatus reports the rotation state of every key. It never writes.
// CheckRotationStatus 报告每个密钥的轮换状态，不做任何写入。
func (s *KeyStore) CheckRotationStatus(ctx context.Context) ([]models.SigningKeyStatus, error) {
	keys, err := s.repo.List(ctx)
	if err != nil {
		return nil, wrapInternal("failed to list keys", err)
	}
	now := s.clock.Now()
	statuses := make([]models.SigningKeyStatus, 0, len(keys))
	for _, k := range keys {
		statuses = append(statuses, k.Status(now))
	}
	return statuses, nil
}

// ListKeys returns the metadata of every key.
func (s *KeyStore) ListKeys(ctx context.Context) ([]*models.SigningKey, error) {
	keys, err := s.repo.List(ctx)
	if err != nil {
		return nil, wrapInternal("failed to list keys", err)
	}
	return keys, nil
}

// CurrentKey returns the key used for new token issuance.
func (s *KeyStore) CurrentKey(ctx context.Context) (*models.SigningKey, error) {
	key, err := s.repo.FindCurrent(ctx)
	if err != nil {
		return nil, wrapInternal("failed to load current key", err)
	}
	return key, nil
}

// CurrentMaterial returns the current key together with its newest material.
func (s *KeyStore) CurrentMaterial(ctx context.Context) (*models.SigningKey, *models.KeyMaterial, error) {
	key, err := s.CurrentKey(ctx)
	if err != nil {
		return nil, nil, err
	}
	material, err := s.KeyMaterial(ctx, key.KeyID, key.MaterialVersion)
	if err != nil {
		return nil, nil, err
	}
	return key, material, nil
}

// KeyMaterial loads one generation of a key's material. Superseded generations stay
// available so tokens signed before a rotation still verify.
func (s *KeyStore) KeyMaterial(ctx context.Context, keyID string, version int) (*models.KeyMaterial, error) {
	material, err := s.material.Get(ctx, keyID, version)
	if err != nil {
		return nil, wrapInternal("failed to load key material", err)
	}
	return material, nil
}

// AddKey adds a key with fresh material. When makeCurrent is set the new key replaces
// the current one and every outstanding session is scheduled for re-issue.
// AddKey 添加一个带有新材料的密钥。若 makeCurrent 为真，新密钥将替换当前密钥，
// 所有未过期的会话都会被安排重新签发。
func (s *KeyStore) AddKey(ctx context.Context, spec models.NewKeySpec, client models.ClientInfo) (*AddResult, error) {
	ctx, span := startSpan(ctx, "KeyStore.AddKey", attribute.String("key_id", spec.KeyID))
	s.mu.Lock()
	key, err := s.addLocked(ctx, spec, client)
	refresher := s.sessions
	s.mu.Unlock()
	endSpan(span, err)
	if err != nil {
		return nil, err
	}

	result := &AddResult{KeyID: key.KeyID}
	if spec.MakeCurrent {
		result.SessionOutcome = s.refreshCaller(ctx, refresher, client, key.KeyID)
	}
	return result, nil
}

// BootstrapIfEmpty makes sure a current key exists. With an empty key set it adds spec
// as the current key; when keys exist but none is current (a promotion failed after the
// key was created) it promotes the newest key. It returns true when this call changed
// the key set. Concurrent and repeated calls create at most one key.
func (s *KeyStore) BootstrapIfEmpty(ctx context.Context, spec models.NewKeySpec) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.repo.FindCurrent(ctx)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, errors.ErrNoCurrentKey):
		return false, wrapInternal("failed to load current key", err)
	}

	keys, err := s.repo.List(ctx)
	if err != nil {
		return false, wrapInternal("failed to list keys", err)
	}
	if len(keys) > 0 {
		newest := keys[len(keys)-1]
		s.logger.Warn(ctx, "no current signing key, promoting newest", logger.KeyID(newest.KeyID))
		if err := s.promoteLocked(ctx, newest, models.SystemClient()); err != nil {
			return false, err
		}
		return true, nil
	}

	spec.MakeCurrent = true
	if _, err := s.addLocked(ctx, spec, models.SystemClient()); err != nil {
		// Another replica bootstrapped with the same id first.
		if errors.Is(err, errors.ErrDuplicateKeyID) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *KeyStore) addLocked(ctx context.Context, spec models.NewKeySpec, client models.ClientInfo) (*models.SigningKey, error) {
	spec.KeyID = strings.TrimSpace(spec.KeyID)
	if spec.KeyID == "" {
		return nil, errors.InvalidRequest("keyId is required")
	}
	if spec.Algorithm == "" {
		spec.Algorithm = s.defaults.Algorithm
	}
	if !spec.Algorithm.Valid() {
		return nil, errors.InvalidRequest("unsupported algorithm " + string(spec.Algorithm))
	}
	if spec.RotationFrequency < 0 {
		return nil, errors.InvalidRequest("rotationFrequency must be positive")
	}
	if spec.RotationFrequency == 0 {
		spec.RotationFrequency = s.defaults.RotationFrequency
	}

	if _, err := s.repo.FindByID(ctx, spec.KeyID); err == nil {
		return nil, errors.DuplicateKeyID(spec.KeyID)
	} else if !errors.Is(err, errors.ErrUnknownKey) {
		return nil, wrapInternal("failed to look up key", err)
	}

	if _, err := s.materialFor(ctx, spec.KeyID, 1, spec.Algorithm); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	key := &models.SigningKey{
		KeyID:             spec.KeyID,
		Algorithm:         spec.Algorithm,
		CreatedAt:         now,
		RotationFrequency: spec.RotationFrequency,
		LastRotatedAt:     now,
		MaterialVersion:   1,
		Version:           1,
	}
	if err := s.repo.Create(ctx, key); err != nil {
		return nil, wrapInternal("failed to create key", err)
	}
	s.recordEvent(ctx, constants.KeyEventCreated, key.KeyID, client)
	s.logger.Info(ctx, "signing key added",
		logger.KeyID(key.KeyID),
		logger.String("algorithm", string(key.Algorithm)),
		logger.Duration("rotation_frequency", key.RotationFrequency),
	)

	if spec.MakeCurrent {
		if err := s.promoteLocked(ctx, key, client); err != nil {
			return nil, err
		}
	}
	return key, nil
}

// RotateKey issues new material under the same keyId. The current flag is untouched.
// The rotated event is written only after the row update is confirmed.
// RotateKey 在同一 keyId 下签发新材料，不改变当前标记。
// 仅在行更新确认后才写入 rotated 事件。
func (s *KeyStore) RotateKey(ctx context.Context, keyID string, client models.ClientInfo) (*RotationResult, error) {
	ctx, span := startSpan(ctx, "KeyStore.RotateKey", attribute.String("key_id", keyID))
	s.mu.Lock()
	result, err := s.rotateLocked(ctx, keyID, client)
	refresher := s.sessions
	s.mu.Unlock()
	endSpan(span, err)
	if err != nil {
		return nil, err
	}

	result.SessionOutcome = s.refreshCaller(ctx, refresher, client, keyID)
	return result, nil
}

// refreshCaller re-issues the caller's session under the current key. It runs after
// the writer lock is released because the refresher reads the key set.
func (s *KeyStore) refreshCaller(ctx context.Context, refresher service.SessionRefresher, client models.ClientInfo, keyID string) SessionOutcome {
	if client.Session == nil || refresher == nil {
		return SessionOutcome{}
	}
	token, err := refresher.RefreshCurrentSession(ctx, client.Session)
	if err != nil {
		s.logger.Error(ctx, "session refresh after key change failed", err, logger.KeyID(keyID))
		return SessionOutcome{RefreshError: err.Error()}
	}
	return SessionOutcome{SessionToken: token, SessionRefreshed: true}
}

func (s *KeyStore) rotateLocked(ctx context.Context, keyID string, client models.ClientInfo) (*RotationResult, error) {
	key, err := s.repo.FindByID(ctx, keyID)
	if err != nil {
		return nil, wrapInternal("failed to look up key", err)
	}

	next := key.MaterialVersion + 1
	if _, err := s.materialFor(ctx, key.KeyID, next, key.Algorithm); err != nil {
		return nil, err
	}

	key.MaterialVersion = next
	key.LastRotatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, key); err != nil {
		return nil, wrapInternal("failed to update key", err)
	}

	s.recordEvent(ctx, constants.KeyEventRotated, key.KeyID, client)
	s.logger.Info(ctx, "signing key rotated",
		logger.KeyID(key.KeyID),
		logger.Int("material_generation", key.MaterialVersion),
		logger.String("performed_by", client.Principal()),
	)
	return &RotationResult{Rotated: true, Key: key}, nil
}

// materialFor returns material for a generation no key row references yet. Providers
// never overwrite a generation, so one left behind by an earlier call whose row write
// failed is adopted instead of generated again. The caller holds s.mu.
func (s *KeyStore) materialFor(ctx context.Context, keyID string, version int, algorithm constants.KeyAlgorithm) (*models.KeyMaterial, error) {
	existing, err := s.material.Get(ctx, keyID, version)
	switch {
	case err == nil:
		if existing.Algorithm != algorithm {
			return nil, errors.Internal("failed to generate key material",
				fmt.Errorf("unreferenced material %s/v%d holds %s, not %s", keyID, version, existing.Algorithm, algorithm))
		}
		s.logger.Warn(ctx, "adopting unreferenced key material",
			logger.KeyID(keyID),
			logger.Int("material_version", version),
		)
		return existing, nil
	case !errors.Is(err, errors.ErrUnknownKey):
		return nil, wrapInternal("failed to load key material", err)
	}

	material, err := s.material.Generate(ctx, keyID, version, algorithm)
	if err != nil {
		return nil, wrapInternal("failed to generate key material", err)
	}
	return material, nil
}

// MakeCurrent promotes an existing key. Promoting the key that is already current is a no-op.
func (s *KeyStore) MakeCurrent(ctx context.Context, keyID string, client models.ClientInfo) (*models.SigningKey, error) {
	ctx, span := startSpan(ctx, "KeyStore.MakeCurrent", attribute.String("key_id", keyID))
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.repo.FindByID(ctx, keyID)
	if err != nil {
		err = wrapInternal("failed to look up key", err)
		endSpan(span, err)
		return nil, err
	}
	if !key.IsCurrent {
		err = s.promoteLocked(ctx, key, client)
	}
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	return key, nil
}

// promoteLocked swaps the current flag onto key. The caller holds s.mu.
func (s *KeyStore) promoteLocked(ctx context.Context, key *models.SigningKey, client models.ClientInfo) error {
	previous, err := s.repo.FindCurrent(ctx)
	switch {
	case errors.Is(err, errors.ErrNoCurrentKey):
		previous = nil
	case err != nil:
		return wrapInternal("failed to load current key", err)
	}
	if previous != nil && previous.KeyID == key.KeyID {
		return nil
	}

	if err := s.repo.SwapCurrent(ctx, key, previous); err != nil {
		return wrapInternal("failed to swap current key", err)
	}
	s.recordEvent(ctx, constants.KeyEventMadeCurrent, key.KeyID, client)

	fields := []logger.Field{logger.KeyID(key.KeyID)}
	if previous != nil {
		fields = append(fields, logger.String("previous_key_id", previous.KeyID))
	}
	s.logger.Info(ctx, "current signing key changed", fields...)

	if s.sessions != nil {
		if err := s.sessions.RefreshAll(ctx); err != nil {
			s.logger.Error(ctx, "failed to schedule session refresh", err, logger.KeyID(key.KeyID))
		}
	}
	return nil
}

func (s *KeyStore) recordEvent(ctx context.Context, eventType constants.KeyEventType, keyID string, client models.ClientInfo) {
	s.metrics.RecordKeyEvent(eventType)
	if s.audit != nil {
		s.audit.RecordKeyEvent(ctx, eventType, keyID, client)
	}
}
