package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileProviderReadsPlainFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(path, []byte("  shh-secret  \n"), 0o600))

	p := NewFileProvider()
	v, err := p.Get(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, "shh-secret", v)
}

func TestFileProviderExtractsJSONKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"apiKey":"abc","other":"xyz"}`), 0o600))

	p := NewFileProvider()
	v, err := p.Get(context.Background(), path, "apiKey")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)
}

func TestFileProviderReadsFromEnv(t *testing.T) {
	t.Setenv("CONDUCTOR_TEST_SECRET", "env-value")

	p := NewFileProvider()
	v, err := p.Get(context.Background(), "env:CONDUCTOR_TEST_SECRET", "")
	require.NoError(t, err)
	assert.Equal(t, "env-value", v)
}

func TestFileProviderMissingFileErrors(t *testing.T) {
	p := NewFileProvider()
	_, err := p.Get(context.Background(), "/nonexistent/path", "")
	assert.Error(t, err)
}

func TestFileProviderMissingKeyErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"apiKey":"abc"}`), 0o600))

	p := NewFileProvider()
	_, err := p.Get(context.Background(), path, "missing")
	assert.Error(t, err)
}
