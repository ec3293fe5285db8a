package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigValidate_AcceptsWellFormedConfig(t *testing.T) {
	path := writeTestConfig(t, `
conductor:
  analyzer:
    provider: regex
`)
	cmd := newConfigCmd()
	cmd.SetArgs([]string{"validate", "--path", path})
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := out.String(); got != "ok\n" {
		t.Fatalf("validate output = %q, want %q", got, "ok\n")
	}
}

func TestConfigValidate_RejectsBadProvider(t *testing.T) {
	path := writeTestConfig(t, `
conductor:
  analyzer:
    provider: carrier-pigeon
`)
	cmd := newConfigCmd()
	cmd.SetArgs([]string{"validate", "--path", path})
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error for an invalid analyzer.provider")
	}
}

func TestConfigShow_EmitsResolvedJSON(t *testing.T) {
	path := writeTestConfig(t, `
conductor:
  wrappedCommand: claude
  analyzer:
    provider: regex
`)
	cmd := newConfigCmd()
	cmd.SetArgs([]string{"show", "--path", path})
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("show: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte(`"WrappedCommand": "claude"`)) {
		t.Fatalf("show output missing resolved WrappedCommand: %s", out.String())
	}
	// Defaults applied even though the file didn't set them.
	if !bytes.Contains(out.Bytes(), []byte(`"GatewayAddr"`)) {
		t.Fatalf("show output missing GatewayAddr default: %s", out.String())
	}
}

func TestResolvePath_FallsBackToEnvThenDefault(t *testing.T) {
	if got := resolvePath("explicit.yml"); got != "explicit.yml" {
		t.Fatalf("resolvePath with explicit arg = %q", got)
	}

	t.Setenv("CONDUCTOR_CONFIG", "from-env.yml")
	if got := resolvePath(""); got != "from-env.yml" {
		t.Fatalf("resolvePath from env = %q", got)
	}

	t.Setenv("CONDUCTOR_CONFIG", "")
	if got := resolvePath(""); got != "config.yml" {
		t.Fatalf("resolvePath default = %q", got)
	}
}
