package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netbridge/internal/network/bodystore"
)

func TestDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9222", c.Devtools.URL)
	assert.Equal(t, bodystore.DefaultMaxTotalSize, c.Network.MaxTotalSize)
	assert.Equal(t, bodystore.DefaultMaxResponseSize, c.Network.MaxResponseSize)
	assert.Equal(t, []string{"console"}, c.Log.Writer)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
devtools:
  url: http://10.0.0.2:9222
server:
  addr: 0.0.0.0:9000
network:
  maxResponseSize: 1024
  maxTotalSize: 10240
log:
  level: debug
  writer: [console, file]
`), 0o644))

	t.Setenv("NETBRIDGE_SERVER_ADDR", "127.0.0.1:9999")
	t.Setenv("NETBRIDGE_LOG_WRITER", "file")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.2:9222", c.Devtools.URL)
	assert.Equal(t, "127.0.0.1:9999", c.Server.Addr)
	assert.Equal(t, 1024, c.Network.MaxResponseSize)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, []string{"file"}, c.Log.Writer)
	assert.Equal(t, "netbridge_", c.Sqlite.Prefix, "unset keys keep their defaults")
}

func TestMissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9333", c.Server.Addr)
}

func TestInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := NewConfig()
	c.Network.MaxResponseSize = c.Network.MaxTotalSize + 1
	assert.Error(t, c.Validate())

	c = NewConfig()
	c.Server.Addr = ""
	assert.Error(t, c.Validate())
}
