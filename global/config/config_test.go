package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"PPost/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadStoreDefaults(t *testing.T) {
	c, err := LoadStore("")
	require.NoError(t, err)
	assert.Equal(t, NodeTypePointStore, c.NodeType)
	assert.Equal(t, ":8090", c.HTTP.Addr)
	assert.Equal(t, int64(1), c.NodeID)
	assert.Equal(t, 24*time.Hour, c.Link.TokenTTL)
	assert.Empty(t, c.Mongo.Uri)
	assert.False(t, c.Redis.Enabled())
}

func TestLoadStoreFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
nodeId: 7
http:
  addr: ":9000"
mongo:
  uri: mongodb://file:27017
lifecycle:
  sweepInterval: 5s
  created: 90s
watch:
  expiry: 3m
  radius: 750
`), 0o600))

	t.Setenv(EnvMongoURI, "mongodb://env:27017")
	t.Setenv(EnvNatsURL, "nats://a:4222,nats://b:4222")
	t.Setenv(EnvLinkSecret, "s3cret")

	c, err := LoadStore(path)
	require.NoError(t, err)
	assert.Equal(t, int64(7), c.NodeID)
	assert.Equal(t, ":9000", c.HTTP.Addr)
	assert.Equal(t, "mongodb://env:27017", c.Mongo.Uri)
	assert.Equal(t, "ppost", c.Mongo.Database)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, c.Nats.Servers)
	assert.Equal(t, "s3cret", c.Link.Secret)
	assert.Equal(t, 5*time.Second, c.Lifecycle.SweepInterval)
	assert.Equal(t, 90*time.Second, c.Lifecycle.Created)
	assert.Equal(t, 3*time.Minute, c.Watch.Expiry)
	assert.Equal(t, 750.0, c.Watch.Radius)
}

func TestLoadFrontend(t *testing.T) {
	t.Setenv(EnvLinkURL, "ws://store:8090/link")
	c, err := LoadFrontend("")
	require.NoError(t, err)
	assert.Equal(t, "ws://store:8090/link", c.Link.URL)
	assert.Equal(t, 500.0, c.WatchRadius)
	assert.Equal(t, "frontend", c.Peer)
}

func TestLoadRejectsBadFiles(t *testing.T) {
	_, err := LoadStore(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http: [1, 2"), 0o600))
	_, err = LoadFrontend(path)
	assert.ErrorIs(t, err, errs.ErrArgs)
}

func TestEnvNodeIDAndLevel(t *testing.T) {
	t.Setenv(EnvNodeID, "9")
	t.Setenv(EnvLogLevel, "debug")
	c, err := LoadStore("")
	require.NoError(t, err)
	assert.Equal(t, int64(9), c.NodeID)
	assert.Equal(t, "debug", c.LogLevel)

	t.Setenv(EnvNodeID, "nine")
	c, err = LoadStore("")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.NodeID)
}
