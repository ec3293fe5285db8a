package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// AzureProvider resolves secrets:// references against Azure Key
// Vault, authenticating via the ambient credential chain
// (environment, managed identity, Azure CLI).
type AzureProvider struct {
	client *azsecrets.Client
}

// NewAzureProvider creates a provider against the vault at vaultURL
// (e.g. https://myvault.vault.azure.net).
func NewAzureProvider(vaultURL string) (*AzureProvider, error) {
	if vaultURL == "" {
		return nil, fmt.Errorf("secrets: azure vault_url is required")
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("secrets: create azure credential: %w", err)
	}

	client, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("secrets: create key vault client: %w", err)
	}

	return &AzureProvider{client: client}, nil
}

// Name returns the provider identifier used in secrets:// references.
func (p *AzureProvider) Name() string { return "azure" }

// Get fetches the latest version of the secret named path. If key is
// set, the secret value is parsed as JSON and that field is returned.
func (p *AzureProvider) Get(ctx context.Context, path, key string) (string, error) {
	resp, err := p.client.GetSecret(ctx, path, "", nil)
	if err != nil {
		return "", fmt.Errorf("get secret %q: %w", path, err)
	}
	if resp.Value == nil || *resp.Value == "" {
		return "", fmt.Errorf("secret %q is empty", path)
	}
	raw := *resp.Value

	if key == "" {
		return raw, nil
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return "", fmt.Errorf("secret %q is not a JSON object, cannot extract key %q: %w", path, key, err)
	}
	v, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %q", key, path)
	}
	return v, nil
}
