// Package kms implements the KeyMaterialProvider interface using HashiCorp Vault,
// with a process-local provider for development and tests.
package kms

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/keyguard/internal/config"
	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/internal/domain/service"
	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/errors"
	"github.com/turtacn/keyguard/pkg/logger"
)

// VaultProvider stores HMAC key material in a Vault KV v2 engine, one secret per
// (key id, material version). Reads go through a short-lived L1 cache.
type VaultProvider struct {
	vaultClient *vault.Client
	l1Cache     *cache.Cache
	sf          singleflight.Group
	logger      logger.Logger
	config      config.VaultConfig
}

var _ service.KeyMaterialProvider = (*VaultProvider)(nil)

// NewVaultProvider creates a new VaultProvider.
func NewVaultProvider(cfg config.VaultConfig, vaultClient *vault.Client, log logger.Logger) *VaultProvider {
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	if cfg.KeyCacheTTL <= 0 {
		cfg.KeyCacheTTL = 5 * time.Minute
	}
	return &VaultProvider{
		vaultClient: vaultClient,
		l1Cache:     cache.New(cfg.KeyCacheTTL, 2*cfg.KeyCacheTTL),
		logger:      log.WithComponent("VaultProvider"),
		config:      cfg,
	}
}

// Generate creates random material and writes it with check-and-set 0, so an existing
// version is never overwritten.
func (p *VaultProvider) Generate(ctx context.Context, keyID string, version int, algorithm constants.KeyAlgorithm) (*models.KeyMaterial, error) {
	secret := make([]byte, algorithm.MaterialSize())
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate key material: %w", err)
	}

	secretData := map[string]interface{}{
		"options": map[string]interface{}{"cas": 0},
		"data": map[string]interface{}{
			"algorithm": string(algorithm),
			"secret":    base64.StdEncoding.EncodeToString(secret),
		},
	}
	if _, err := p.vaultClient.Logical().WriteWithContext(ctx, p.path(keyID, version), secretData); err != nil {
		p.logger.Error(ctx, "failed to write key material to Vault", err,
			logger.KeyID(keyID),
			logger.Int("material_version", version),
		)
		return nil, fmt.Errorf("failed to write key material to vault: %w", err)
	}

	m := &models.KeyMaterial{KeyID: keyID, MaterialVersion: version, Algorithm: algorithm, Secret: secret}
	p.l1Cache.SetDefault(p.cacheKey(keyID, version), m)
	return m, nil
}

// Get loads material, coalescing concurrent misses for the same version.
func (p *VaultProvider) Get(ctx context.Context, keyID string, version int) (*models.KeyMaterial, error) {
	cacheKey := p.cacheKey(keyID, version)
	if item, found := p.l1Cache.Get(cacheKey); found {
		if m, ok := item.(*models.KeyMaterial); ok {
			return m, nil
		}
	}

	v, err, _ := p.sf.Do(cacheKey, func() (interface{}, error) {
		m, err := p.read(ctx, keyID, version)
		if err != nil {
			return nil, err
		}
		p.l1Cache.SetDefault(cacheKey, m)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.KeyMaterial), nil
}

// Name implements service.HealthChecker.
func (p *VaultProvider) Name() string { return "vault" }

// Ping checks the Vault server health endpoint.
func (p *VaultProvider) Ping(ctx context.Context) error {
	health, err := p.vaultClient.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault unreachable: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func (p *VaultProvider) read(ctx context.Context, keyID string, version int) (*models.KeyMaterial, error) {
	secret, err := p.vaultClient.Logical().ReadWithContext(ctx, p.path(keyID, version))
	if err != nil {
		p.logger.Error(ctx, "failed to read key material from Vault", err, logger.KeyID(keyID))
		return nil, fmt.Errorf("could not retrieve key material from vault: %w", err)
	}
	if secret == nil || secret.Data["data"] == nil {
		return nil, errors.UnknownKey(keyID).WithMetadata("material_version", version)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format in vault")
	}
	encoded, ok := data["secret"].(string)
	if !ok {
		return nil, fmt.Errorf("secret not found or not a string in vault secret")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("could not decode key material: %w", err)
	}
	alg, _ := data["algorithm"].(string)

	return &models.KeyMaterial{
		KeyID:           keyID,
		MaterialVersion: version,
		Algorithm:       constants.KeyAlgorithm(alg),
		Secret:          raw,
	}, nil
}

func (p *VaultProvider) path(keyID string, version int) string {
	return fmt.Sprintf("%s/data/%s/keys/%s/v%d", p.config.MountPath, constants.ServiceName, keyID, version)
}

func (p *VaultProvider) cacheKey(keyID string, version int) string {
	return fmt.Sprintf("material:%s:%d", keyID, version)
}
