package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/openclaw/conductor/internal/analyzer"
	"github.com/openclaw/conductor/internal/audit"
	"github.com/openclaw/conductor/internal/audit/kms"
	"github.com/openclaw/conductor/internal/audit/otelsink"
	"github.com/openclaw/conductor/internal/conductorerr"
	"github.com/openclaw/conductor/internal/config"
	"github.com/openclaw/conductor/internal/executor"
	"github.com/openclaw/conductor/internal/forwarder"
	"github.com/openclaw/conductor/internal/gateway"
	"github.com/openclaw/conductor/internal/injector"
	"github.com/openclaw/conductor/internal/interceptor"
	"github.com/openclaw/conductor/internal/orchestrator"
	"github.com/openclaw/conductor/internal/pending"
	"github.com/openclaw/conductor/internal/rules"
	"github.com/openclaw/conductor/internal/secrets"
	"github.com/openclaw/conductor/pkg/observability"
	"github.com/openclaw/conductor/pkg/types"
)

func newRunCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "run -- COMMAND [ARGS...]",
		Short: "Wrap a coding agent and mediate every external access request it makes",
		Long: `Launch the wrapped coding agent under full terminal interception.

Every chunk of the agent's output is analyzed for requests to reach the
outside world (visiting a URL, fetching a credential, calling a
service). Detected requests are either auto-resolved by configured
glob rules or forwarded to an operator for approval, and the result is
injected back into the agent's stdin.

Example:
  conductor run -- claude --dangerously-skip-permissions`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConductor(cmd.Context(), resolvePath(path), args)
		},
	}

	cmd.Flags().StringVar(&path, "config", "", "Config file path (defaults to CONDUCTOR_CONFIG or config.yml)")
	return cmd
}

// interceptorHandle lets the injector and orchestrator reach an
// Interceptor constructed later in this same function, since injector
// construction needs a Stdin before the Interceptor wrapping it exists.
type interceptorHandle struct {
	icpt *interceptor.Interceptor
}

func (h *interceptorHandle) Inject(b []byte) error {
	if h.icpt == nil {
		return fmt.Errorf("interceptor not started")
	}
	return h.icpt.Inject(b)
}

func runConductor(ctx context.Context, cfgPath string, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		werr := conductorerr.New(conductorerr.ConfigInvalid, err)
		return &ExitError{code: 1, message: fmt.Sprintf("conductor: %v", werr)}
	}

	logger, logCloser, err := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		Rotation: observability.RotationConfig{
			Enabled:    cfg.Logging.Rotation.Enabled,
			MaxSizeMB:  cfg.Logging.Rotation.MaxSizeMB,
			MaxAgeDays: cfg.Logging.Rotation.MaxAgeDays,
			MaxBackups: cfg.Logging.Rotation.MaxBackups,
			Compress:   cfg.Logging.Rotation.Compress,
		},
	})
	if err != nil {
		return &ExitError{code: 1, message: fmt.Sprintf("conductor: %v", err)}
	}
	defer logCloser.Close()

	secretsMgr, err := buildSecretsManager(ctx, cfg.Secrets)
	if err != nil {
		return &ExitError{code: 1, message: fmt.Sprintf("conductor: %v", err)}
	}
	apiKey, err := secretsMgr.Resolve(ctx, cfg.Conductor.Analyzer.APIKey)
	if err != nil {
		return &ExitError{code: 1, message: fmt.Sprintf("conductor: resolve analyzer.apiKey: %v", err)}
	}

	an, err := buildAnalyzer(cfg.Conductor.Analyzer, apiKey, logger)
	if err != nil {
		return &ExitError{code: 1, message: fmt.Sprintf("conductor: %v", err)}
	}

	autoRules, err := rules.NewAutoRules(cfg.Conductor.Auth.AutoDenyPatterns, cfg.Conductor.Auth.AutoApprovePatterns)
	if err != nil {
		return &ExitError{code: 1, message: fmt.Sprintf("conductor: auto-rules: %v", err)}
	}

	auditLogger, err := buildAuditLogger(ctx, cfg.Conductor, cfg.Observability)
	if err != nil {
		return &ExitError{code: 1, message: fmt.Sprintf("conductor: audit: %v", err)}
	}
	if auditLogger != nil {
		defer auditLogger.Close()
	}

	store := pending.NewStore()

	webhookSender, err := forwarder.NewWebhookSender(nil, nil)
	if err != nil {
		return &ExitError{code: 1, message: fmt.Sprintf("conductor: webhook sender: %v", err)}
	}
	targets := make([]forwarder.Target, 0, len(cfg.Conductor.Auth.Targets))
	for _, t := range cfg.Conductor.Auth.Targets {
		targets = append(targets, forwarder.Target{Channel: t.Channel, To: t.To, AccountID: t.AccountID, ThreadID: t.ThreadID})
	}
	fwd := forwarder.New(store, targets, cfg.Conductor.AuthTimeout(), webhookSender, logger)
	defer fwd.Stop()

	exec := executor.New(executor.Config{
		Profile:            cfg.Conductor.Browser.Profile,
		Headless:           cfg.Conductor.Browser.Headless,
		ActionTimeout:      cfg.Conductor.ActionTimeout(),
		CaptureScreenshots: cfg.Conductor.Browser.CaptureScreenshots,
	}, noopPlane{})

	command := cfg.Conductor.WrappedCommand
	cmdArgs := cfg.Conductor.WrappedArgs
	if len(args) > 0 {
		command = args[0]
		cmdArgs = args[1:]
	}

	handle := &interceptorHandle{}
	inj := injector.New(handle)

	orch := orchestrator.New(store, an, fwd, exec, inj, autoRules,
		auditSinkAdapter{logger: auditLogger},
		observability.NewRequestTracer(),
		orchestrator.Config{
			ConfidenceThreshold: cfg.Conductor.Analyzer.ConfidenceThreshold,
			AuthTimeout:         cfg.Conductor.AuthTimeout(),
		},
		logger,
	)
	defer orch.Stop()

	if cfg.Conductor.GatewayAddr != "" {
		gw := gateway.New(store, orch, fwd, cfg.Conductor.AuthTimeout(), logger)
		defer gw.Stop()
		srv := &http.Server{Addr: cfg.Conductor.GatewayAddr, Handler: gw.Router()}
		go func() {
			if lerr := srv.ListenAndServe(); lerr != nil && lerr != http.ErrServerClosed {
				logger.Warn("gateway server stopped", "error", lerr)
			}
		}()
		defer srv.Shutdown(ctx)
	}

	handle.icpt = interceptor.New(interceptor.Config{
		Command:             command,
		Args:                cmdArgs,
		Env:                 buildChildEnv(cfg.Conductor.WrappedEnv),
		MaxBufferSize:       int(cfg.Conductor.MaxBufferSizeBytes()),
		BufferFlushInterval: cfg.Conductor.BufferFlushInterval(),
	}, interceptor.Handlers{
		OnFlush: func(text string) { orch.HandleFlush(ctx, text) },
		OnError: func(err error) { logger.Warn("interceptor error", "error", err) },
	}, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		handle.icpt.Stop()
	}()

	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	defer signal.Stop(winchCh)
	go func() {
		for range winchCh {
			if cols, rows, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
				_ = handle.icpt.Resize(uint16(rows), uint16(cols))
			}
		}
	}()

	if err := handle.icpt.Start(ctx); err != nil {
		werr := conductorerr.New(conductorerr.ChildSpawnFailed, err)
		return &ExitError{code: 1, message: fmt.Sprintf("conductor: %v", werr)}
	}
	code, _ := handle.icpt.Wait()
	if code != 0 {
		return &ExitError{code: code}
	}
	return nil
}

func buildSecretsManager(ctx context.Context, cfg config.SecretsConfig) (*secrets.Manager, error) {
	mgr := secrets.NewManager()
	mgr.Register(secrets.NewFileProvider())
	if cfg.AWS != nil {
		p, err := secrets.NewAWSProvider(ctx, secrets.AWSConfig{Region: cfg.AWS.Region, RoleARN: cfg.AWS.RoleARN})
		if err != nil {
			return nil, fmt.Errorf("aws secrets provider: %w", err)
		}
		mgr.Register(p)
	}
	if cfg.Azure != nil {
		p, err := secrets.NewAzureProvider(cfg.Azure.VaultURL)
		if err != nil {
			return nil, fmt.Errorf("azure secrets provider: %w", err)
		}
		mgr.Register(p)
	}
	if cfg.Vault != nil {
		p, err := secrets.NewVaultProvider(ctx, secrets.VaultConfig{
			Address:    cfg.Vault.Address,
			AuthMethod: cfg.Vault.AuthMethod,
			TokenFile:  cfg.Vault.TokenFile,
			K8sRole:    cfg.Vault.K8sRole,
			AppRoleID:  cfg.Vault.AppRoleID,
			SecretID:   cfg.Vault.SecretID,
		})
		if err != nil {
			return nil, fmt.Errorf("vault secrets provider: %w", err)
		}
		mgr.Register(p)
	}
	return mgr, nil
}

func buildAnalyzer(cfg config.AnalyzerConfig, apiKey string, logger *slog.Logger) (analyzer.Analyzer, error) {
	fallback, err := analyzer.NewRuleBased(cfg.Patterns)
	if err != nil {
		return nil, fmt.Errorf("rule-based analyzer: %w", err)
	}
	if cfg.Provider == "regex" || cfg.Provider == "local" {
		return fallback, nil
	}
	return analyzer.NewRemote(analyzer.RemoteConfig{
		Provider: cfg.Provider,
		BaseURL:  cfg.BaseURL,
		APIKey:   apiKey,
		Model:    cfg.Model,
	}, fallback, logger), nil
}

func buildAuditLogger(ctx context.Context, cfg config.ConductorConfig, obs config.ObservabilityConfig) (*audit.Logger, error) {
	if !cfg.AuditLogEnabled() {
		return nil, nil
	}
	var chain *audit.IntegrityChain
	if cfg.AuditIntegrity.Source != "" {
		kmsCfg := kms.Config{
			Source:              cfg.AuditIntegrity.Source,
			KeyFile:             cfg.AuditIntegrity.KeyFile,
			KeyEnv:              cfg.AuditIntegrity.KeyEnv,
			AWSKeyID:            cfg.AuditIntegrity.AWSKeyID,
			AWSRegion:           cfg.AuditIntegrity.AWSRegion,
			AWSEncryptedDEKFile: cfg.AuditIntegrity.AWSEncryptedDEKFile,
			AzureVaultURL:       cfg.AuditIntegrity.AzureVaultURL,
			AzureKeyName:        cfg.AuditIntegrity.AzureKeyName,
			AzureKeyVersion:     cfg.AuditIntegrity.AzureKeyVersion,
			VaultAddress:        cfg.AuditIntegrity.VaultAddress,
			VaultAuthMethod:     cfg.AuditIntegrity.VaultAuthMethod,
			VaultTokenFile:      cfg.AuditIntegrity.VaultTokenFile,
			VaultK8sRole:        cfg.AuditIntegrity.VaultK8sRole,
			VaultAppRoleID:      cfg.AuditIntegrity.VaultAppRoleID,
			VaultSecretID:       cfg.AuditIntegrity.VaultSecretID,
			VaultSecretPath:     cfg.AuditIntegrity.VaultSecretPath,
			VaultKeyField:       cfg.AuditIntegrity.VaultKeyField,
			GCPKeyName:          cfg.AuditIntegrity.GCPKeyName,
			GCPEncryptedDEKFile: cfg.AuditIntegrity.GCPEncryptedDEKFile,
		}
		c, _, err := audit.NewIntegrityChainFromKMS(ctx, kmsCfg, cfg.AuditIntegrity.Algorithm)
		if err != nil {
			return nil, fmt.Errorf("audit integrity chain: %w", err)
		}
		chain = c
	}

	var secondary audit.Secondary
	if obs.Enabled && obs.Audit.Endpoint != "" {
		sink, err := otelsink.New(ctx, otelsink.Config{
			Endpoint:    obs.Audit.Endpoint,
			Protocol:    obs.Audit.Protocol,
			TLSEnabled:  obs.Audit.TLSEnabled,
			TLSCertFile: obs.Audit.TLSCertFile,
			TLSKeyFile:  obs.Audit.TLSKeyFile,
			TLSInsecure: obs.Audit.TLSInsecure,
			Headers:     obs.Audit.Headers,
		})
		if err != nil {
			return nil, fmt.Errorf("audit otel sink: %w", err)
		}
		secondary = sink
	}

	return audit.Open(cfg.AuditLogPath, chain, secondary)
}

// buildChildEnv starts from the host environment, sets a color-forcing
// hint so the wrapped agent's output keeps its ANSI styling once piped
// through the interceptor's PTY, and finally layers overrides from
// conductor.wrappedEnv on top so a document can opt back out (e.g.
// "FORCE_COLOR=0") or set anything else the wrapped command needs.
func buildChildEnv(overrides []string) []string {
	merged := make(map[string]string)
	for _, e := range os.Environ() {
		if k, v, ok := splitEnvEntry(e); ok {
			merged[k] = v
		}
	}
	if _, ok := merged["FORCE_COLOR"]; !ok {
		merged["FORCE_COLOR"] = "1"
	}
	if _, ok := merged["CLICOLOR_FORCE"]; !ok {
		merged["CLICOLOR_FORCE"] = "1"
	}
	for _, e := range overrides {
		if k, v, ok := splitEnvEntry(e); ok {
			merged[k] = v
		}
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	return env
}

func splitEnvEntry(e string) (key, value string, ok bool) {
	key, value, ok = strings.Cut(e, "=")
	return key, value, ok
}

type auditSinkAdapter struct {
	logger *audit.Logger
}

func (a auditSinkAdapter) Append(ctx context.Context, event string, payload map[string]any) error {
	if a.logger == nil {
		return nil
	}
	return a.logger.Append(ctx, event, payload)
}

// noopPlane is used until a concrete browser automation plane is
// wired in; every dispatched action fails fast rather than silently
// pretending to succeed.
type noopPlane struct{}

func (noopPlane) Status(ctx context.Context, profile string) (bool, error) { return false, nil }

func (noopPlane) Start(ctx context.Context, profile string, headless bool) error {
	return fmt.Errorf("no browser automation plane configured")
}

func (noopPlane) Run(ctx context.Context, action types.BrowserAction) types.ActionResult {
	return types.ActionResult{Action: action, Success: false, Error: "no browser automation plane configured"}
}
