// File: cmd/root_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs a fresh command tree and returns everything it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestConfigCmd_Defaults(t *testing.T) {
	out, err := execute(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "port: 3000")
	assert.Contains(t, out, "service_name: mirage")
	assert.NotContains(t, out, "jwt_secret")
}

func TestConfigFlagOverride(t *testing.T) {
	path := createTempConfig(t, `
server:
  port: 4100
  environment: production
browser:
  command_timeout: 45s
`)
	out, err := execute(t, "config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "port: 4100")
	assert.Contains(t, out, "environment: production")
	assert.Contains(t, out, "command_timeout: 45s")
}

func TestConfigEnvOverrides(t *testing.T) {
	t.Run("Prefixed", func(t *testing.T) {
		t.Setenv("MIRAGE_SERVER_PORT", "4200")
		out, err := execute(t, "config")
		require.NoError(t, err)
		assert.Contains(t, out, "port: 4200")
	})

	t.Run("Bare alias", func(t *testing.T) {
		t.Setenv("PORT", "4300")
		t.Setenv("NODE_ENV", "test")
		out, err := execute(t, "config")
		require.NoError(t, err)
		assert.Contains(t, out, "port: 4300")
		assert.Contains(t, out, "environment: test")
	})

	t.Run("Env beats file", func(t *testing.T) {
		path := createTempConfig(t, "server:\n  port: 4100\n")
		t.Setenv("MIRAGE_SERVER_PORT", "4400")
		out, err := execute(t, "config", "-c", path)
		require.NoError(t, err)
		assert.Contains(t, out, "port: 4400")
	})
}

func TestInvalidConfigFails(t *testing.T) {
	path := createTempConfig(t, "server:\n  environment: staging\n")
	_, err := execute(t, "config", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.environment")
}

func TestServeCmd_RejectsBadPort(t *testing.T) {
	_, err := execute(t, "serve", "--port", "70000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestServeCmd_RejectsArgs(t *testing.T) {
	_, err := execute(t, "serve", "extra")
	require.Error(t, err)
}

func TestConfigFromContext_Missing(t *testing.T) {
	_, err := configFromContext(context.Background())
	require.Error(t, err)
}
