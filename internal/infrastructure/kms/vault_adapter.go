package kms

import (
	"fmt"

	vault "github.com/hashicorp/vault/api"

	"github.com/turtacn/keyguard/internal/config"
)

// NewVaultClient builds a Vault API client from configuration.
func NewVaultClient(cfg config.VaultConfig) (*vault.Client, error) {
	vaultConfig := vault.DefaultConfig()
	if cfg.Address != "" {
		vaultConfig.Address = cfg.Address
	}
	if vaultConfig.Error != nil {
		return nil, fmt.Errorf("invalid vault configuration: %w", vaultConfig.Error)
	}

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	return client, nil
}
