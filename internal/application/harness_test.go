package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/turtacn/keyguard/internal/application"
	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/internal/domain/service/mocks"
	"github.com/turtacn/keyguard/internal/infrastructure/audit"
	"github.com/turtacn/keyguard/internal/infrastructure/crypto"
	"github.com/turtacn/keyguard/internal/infrastructure/kms"
	"github.com/turtacn/keyguard/internal/infrastructure/persistence/memory"
	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/logger"
)

var epoch = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	clock    *mocks.FakeClock
	keys     *memory.KeyRepository
	events   *memory.KeyEventRepository
	attempts *memory.AttemptRepository
	material *kms.LocalProvider
	faults   *faults
	audit    *application.AuditLogService
	store    *application.KeyStore
	sessions *application.SessionService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:    mocks.NewFakeClock(epoch),
		keys:     memory.NewKeyRepository(),
		events:   memory.NewKeyEventRepository(),
		attempts: memory.NewAttemptRepository(),
		material: kms.NewLocalProvider(),
		faults:   &faults{},
	}
	log := logger.NewNoopLogger()
	h.audit = application.NewAuditLogService(h.events, h.attempts, audit.NewHMACSigner("test-secret"), nil, h.clock, nil, log)
	h.store = application.NewKeyStore(&flakyKeys{KeyRepository: h.keys, faults: h.faults},
		&flakyMaterial{LocalProvider: h.material, faults: h.faults}, h.audit, h.clock, nil, application.KeyDefaults{}, log)
	h.sessions = application.NewSessionService(h.store, crypto.NewJWTManager("keyguard-test", h.clock),
		memory.NewSessionStore(), h.clock, time.Hour, nil, log)
	h.store.AttachSessionRefresher(h.sessions)
	return h
}

func (h *harness) addCurrent(t *testing.T, keyID string) {
	t.Helper()
	_, err := h.store.AddKey(context.Background(), models.NewKeySpec{KeyID: keyID, MakeCurrent: true}, admin("ops"))
	if err != nil {
		t.Fatalf("AddKey(%s): %v", keyID, err)
	}
}

func admin(id string) models.ClientInfo {
	return models.ClientInfo{PerformedBy: &id, IP: "10.0.0.1", UserAgent: "test"}
}

// failingEvents rejects every append.
type failingEvents struct{ *memory.KeyEventRepository }

func (failingEvents) Append(context.Context, *models.KeyEvent) error {
	return errors.New("disk full")
}

// faults makes the next N calls of an operation fail with err.
type faults struct {
	mu                                 sync.Mutex
	err                                error
	creates, updates, swaps, generates int
}

func (f *faults) take(n *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if *n == 0 {
		return nil
	}
	*n--
	if f.err != nil {
		return f.err
	}
	return errors.New("connection reset")
}

type flakyKeys struct {
	*memory.KeyRepository
	faults *faults
}

func (r *flakyKeys) Create(ctx context.Context, key *models.SigningKey) error {
	if err := r.faults.take(&r.faults.creates); err != nil {
		return err
	}
	return r.KeyRepository.Create(ctx, key)
}

func (r *flakyKeys) Update(ctx context.Context, key *models.SigningKey) error {
	if err := r.faults.take(&r.faults.updates); err != nil {
		return err
	}
	return r.KeyRepository.Update(ctx, key)
}

func (r *flakyKeys) SwapCurrent(ctx context.Context, promote, demote *models.SigningKey) error {
	if err := r.faults.take(&r.faults.swaps); err != nil {
		return err
	}
	return r.KeyRepository.SwapCurrent(ctx, promote, demote)
}

type flakyMaterial struct {
	*kms.LocalProvider
	faults *faults
}

func (p *flakyMaterial) Generate(ctx context.Context, keyID string, version int, algorithm constants.KeyAlgorithm) (*models.KeyMaterial, error) {
	if err := p.faults.take(&p.faults.generates); err != nil {
		return nil, err
	}
	return p.LocalProvider.Generate(ctx, keyID, version, algorithm)
}
