package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:6000", cfg.Input.Vector.Address)
	assert.Equal(t, 5*time.Second, cfg.Input.Vector.AdmissionDeadline)
	assert.Equal(t, 30*time.Second, cfg.Input.Vector.DrainDeadline)
	assert.Equal(t, 256, cfg.Input.Vector.QueueSize)
	assert.Equal(t, 100000, cfg.Storage.MaxRows)
	assert.Equal(t, int64(128*1024*1024), cfg.Storage.MaxBytes)
	assert.Equal(t, 5*time.Minute, cfg.Storage.MaxAge)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Storage.Enabled())
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "striem.yaml")
	doc := `
detections:
  - /etc/striem/rules
input:
  vector:
    address: 0.0.0.0:7000
storage:
  schema: /etc/striem/schema
  path: /var/lib/striem/data
  max_age: 1m
api:
  address: 0.0.0.0:9000
  data_dir: /var/lib/striem/api
remaps: /etc/striem/remaps
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/etc/striem/rules"}, cfg.Detections)
	assert.Equal(t, "0.0.0.0:7000", cfg.Input.Vector.Address)
	assert.True(t, cfg.Storage.Enabled())
	assert.Equal(t, time.Minute, cfg.Storage.MaxAge)
	assert.Equal(t, "/var/lib/striem/api", cfg.API.DataDir)
	assert.Equal(t, "/etc/striem/remaps", cfg.Remaps)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("STRIEM_INPUT_VECTOR_ADDRESS", "10.0.0.1:6100")
	t.Setenv("STRIEM_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:6100", cfg.Input.Vector.Address)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateRejectsBadAddress(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Input.Vector.Address = "not-an-address"
	err = cfg.Validate()
	assert.ErrorIs(t, err, ErrConfig)
}

func TestValidateRequiresSchemaWithStorage(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Storage.Path = "/tmp/data"
	cfg.Storage.Schema = ""
	assert.ErrorIs(t, cfg.Validate(), ErrConfig)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfig)
}

func TestValidateRequiresSomeOutput(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.API.Enabled = false
	assert.ErrorIs(t, cfg.Validate(), ErrConfig)
}
