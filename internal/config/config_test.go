package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cnmfsns/internal/blob"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultPath)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadMissingFileYieldsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.False(t, cfg.DatabaseEnabled())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
workers: 4
log_level: debug
store:
  driver: s3
  s3:
    bucket: cnmf-results
    region: eu-west-1
    endpoint: http://minio:9000
    path_style: true
database:
  driver: postgres
  dsn: postgres://localhost/cnmfsns
  query_timeout: 5s
metrics:
  textfile: out/metrics.prom
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 16, cfg.BlockRows)
	assert.Equal(t, 50, cfg.LowOverlapWarn)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
	assert.Equal(t, "out/metrics.prom", cfg.Metrics.Textfile)
	assert.True(t, cfg.DatabaseEnabled())

	bc := cfg.BlobConfig("/work")
	assert.Equal(t, blob.DriverS3, bc.Driver)
	assert.Equal(t, "cnmf-results", bc.S3.Bucket)
	assert.True(t, bc.S3.PathStyle)

	sc := cfg.SQLConfig()
	assert.Equal(t, "postgres", sc.Driver)
	assert.Equal(t, 5*time.Second, sc.QueryTimeout)
}

func TestBlobConfigResolvesRelativeRoot(t *testing.T) {
	cfg := Default()
	assert.Equal(t, filepath.Join("/work", "blobdata"), cfg.BlobConfig("/work").Root)

	cfg.Store.Root = "/abs/store"
	assert.Equal(t, "/abs/store", cfg.BlobConfig("/work").Root)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative workers", "workers: -1"},
		{"zero block rows", "block_rows: 0"},
		{"bad log level", "log_level: loud"},
		{"unknown store", "store: {driver: ftp}"},
		{"s3 without bucket", "store: {driver: s3}"},
		{"unknown database", "database: {driver: oracle, dsn: x}"},
		{"malformed yaml", "workers: [1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
