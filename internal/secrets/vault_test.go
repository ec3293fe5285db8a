package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewVaultProviderRequiresAddress(t *testing.T) {
	_, err := NewVaultProvider(context.Background(), VaultConfig{})
	assert.Error(t, err)
}

func TestNewVaultProviderTokenAuthRequiresToken(t *testing.T) {
	t.Setenv("VAULT_TOKEN", "")

	_, err := NewVaultProvider(context.Background(), VaultConfig{
		Address:    "https://vault.example.com",
		AuthMethod: "token",
	})
	assert.Error(t, err)
}

func TestNewVaultProviderRejectsUnknownAuthMethod(t *testing.T) {
	_, err := NewVaultProvider(context.Background(), VaultConfig{
		Address:    "https://vault.example.com",
		AuthMethod: "carrier-pigeon",
	})
	assert.Error(t, err)
}
