package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	vault "github.com/hashicorp/vault/api"
	auth "github.com/hashicorp/vault/api/auth/kubernetes"
)

// VaultConfig configures the HashiCorp Vault provider.
type VaultConfig struct {
	Address    string
	AuthMethod string // token, kubernetes, approle
	TokenFile  string
	K8sRole    string
	AppRoleID  string
	SecretID   string
}

// VaultProvider resolves secrets:// references against HashiCorp
// Vault's KV engine (v2, falling back to v1).
type VaultProvider struct {
	config VaultConfig
	client *vault.Client
}

// NewVaultProvider creates a Vault-backed provider and authenticates
// it immediately using the configured auth method.
func NewVaultProvider(ctx context.Context, cfg VaultConfig) (*VaultProvider, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("secrets: vault address is required")
	}
	if cfg.AuthMethod == "" {
		cfg.AuthMethod = "token"
	}

	p := &VaultProvider{config: cfg}
	if err := p.initClient(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Name returns the provider identifier used in secrets:// references.
func (p *VaultProvider) Name() string { return "vault" }

// Get reads path from Vault's KV store. If key is set, that field of
// the secret's data map is returned; otherwise the first value found
// is returned.
func (p *VaultProvider) Get(ctx context.Context, path, key string) (string, error) {
	secret, err := p.client.KVv2("secret").Get(ctx, p.withoutKVPrefix(path))
	if err != nil {
		secret, err = p.readKVv1(ctx, path)
		if err != nil {
			return "", fmt.Errorf("read secret %q: %w", path, err)
		}
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret %q not found", path)
	}

	if key == "" {
		for _, v := range secret.Data {
			if s, ok := v.(string); ok {
				return s, nil
			}
		}
		return "", fmt.Errorf("secret %q has no string fields", path)
	}

	value, ok := secret.Data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %q", key, path)
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("key %q in secret %q is not a string", key, path)
	}
	return s, nil
}

func (p *VaultProvider) withoutKVPrefix(path string) string {
	path = strings.TrimPrefix(path, "secret/data/")
	path = strings.TrimPrefix(path, "secret/")
	return path
}

func (p *VaultProvider) readKVv1(ctx context.Context, path string) (*vault.KVSecret, error) {
	secret, err := p.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, err
	}
	if secret == nil {
		return nil, nil
	}
	return &vault.KVSecret{Data: secret.Data}, nil
}

func (p *VaultProvider) initClient(ctx context.Context) error {
	cfg := vault.DefaultConfig()
	cfg.Address = p.config.Address

	client, err := vault.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("create vault client: %w", err)
	}

	switch p.config.AuthMethod {
	case "token":
		if err := p.authToken(client); err != nil {
			return err
		}
	case "kubernetes":
		if err := p.authKubernetes(ctx, client); err != nil {
			return err
		}
	case "approle":
		if err := p.authAppRole(ctx, client); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported vault auth method %q", p.config.AuthMethod)
	}

	p.client = client
	return nil
}

func (p *VaultProvider) authToken(client *vault.Client) error {
	var token string
	if p.config.TokenFile != "" {
		data, err := os.ReadFile(p.config.TokenFile)
		if err != nil {
			return fmt.Errorf("read vault token file: %w", err)
		}
		token = strings.TrimSpace(string(data))
	} else {
		token = os.Getenv("VAULT_TOKEN")
	}
	if token == "" {
		return fmt.Errorf("no vault token provided")
	}
	client.SetToken(token)
	return nil
}

func (p *VaultProvider) authKubernetes(ctx context.Context, client *vault.Client) error {
	if p.config.K8sRole == "" {
		return fmt.Errorf("kubernetes_role is required for kubernetes auth")
	}
	k8sAuth, err := auth.NewKubernetesAuth(p.config.K8sRole)
	if err != nil {
		return fmt.Errorf("create kubernetes auth: %w", err)
	}
	authInfo, err := client.Auth().Login(ctx, k8sAuth)
	if err != nil {
		return fmt.Errorf("kubernetes login: %w", err)
	}
	if authInfo == nil {
		return fmt.Errorf("kubernetes login returned no auth info")
	}
	return nil
}

func (p *VaultProvider) authAppRole(ctx context.Context, client *vault.Client) error {
	if p.config.AppRoleID == "" {
		return fmt.Errorf("approle_id is required for approle auth")
	}
	secretID := p.config.SecretID
	if secretID == "" {
		secretID = os.Getenv("VAULT_SECRET_ID")
	}

	data := map[string]interface{}{"role_id": p.config.AppRoleID}
	if secretID != "" {
		data["secret_id"] = secretID
	}

	resp, err := client.Logical().WriteWithContext(ctx, "auth/approle/login", data)
	if err != nil {
		return fmt.Errorf("approle login: %w", err)
	}
	if resp == nil || resp.Auth == nil {
		return fmt.Errorf("approle login returned no auth info")
	}
	client.SetToken(resp.Auth.ClientToken)
	return nil
}

// Close releases the Vault client's token.
func (p *VaultProvider) Close() error {
	if p.client != nil {
		p.client.ClearToken()
	}
	return nil
}
