package kms

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/internal/domain/service"
	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/errors"
)

// LocalProvider keeps material in process memory. Material does not survive a restart,
// so it is meant for development and tests.
type LocalProvider struct {
	mu        sync.RWMutex
	materials map[string]*models.KeyMaterial
}

var _ service.KeyMaterialProvider = (*LocalProvider)(nil)

func NewLocalProvider() *LocalProvider {
	return &LocalProvider{materials: make(map[string]*models.KeyMaterial)}
}

func (p *LocalProvider) Generate(_ context.Context, keyID string, version int, algorithm constants.KeyAlgorithm) (*models.KeyMaterial, error) {
	secret := make([]byte, algorithm.MaterialSize())
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate key material: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	k := localKey(keyID, version)
	if _, exists := p.materials[k]; exists {
		return nil, fmt.Errorf("material %s already exists", k)
	}
	m := &models.KeyMaterial{KeyID: keyID, MaterialVersion: version, Algorithm: algorithm, Secret: secret}
	p.materials[k] = m
	return m, nil
}

func (p *LocalProvider) Get(_ context.Context, keyID string, version int) (*models.KeyMaterial, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.materials[localKey(keyID, version)]
	if !ok {
		return nil, errors.UnknownKey(keyID).WithMetadata("material_version", version)
	}
	return m, nil
}

func localKey(keyID string, version int) string {
	return fmt.Sprintf("%s/v%d", keyID, version)
}
