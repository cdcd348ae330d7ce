package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rpattn/phenobatch/internal/uploads"
)

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, "localhost", cfg.Database.Host)
	require.Equal(t, 5432, cfg.Database.Port)
	require.Equal(t, time.Minute, cfg.Scheduler.PollInterval)
	require.Equal(t, 8, cfg.Scheduler.RowWorkers)
	require.True(t, cfg.Scheduler.Enabled)
	require.Equal(t, uploads.DriverFilesystem, cfg.Uploads.Driver)
	require.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoadReadsFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	yaml := `database:
  host: db.internal
  dbname: phenotypes_test
scheduler:
  poll_interval: 30s
  row_workers: 2
uploads:
  driver: s3
  s3:
    bucket: batch-files
log:
  format: json
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Setenv("PHENOBATCH_DATABASE_PORT", "6543")

	cfg, err := Load(dir)
	require.NoError(t, err)

	require.Equal(t, "db.internal", cfg.Database.Host)
	require.Equal(t, 6543, cfg.Database.Port)
	require.Equal(t, "phenotypes_test", cfg.Database.DBName)
	require.Equal(t, 30*time.Second, cfg.Scheduler.PollInterval)
	require.Equal(t, 2, cfg.Scheduler.RowWorkers)
	require.Equal(t, uploads.DriverS3, cfg.Uploads.Driver)
	require.Equal(t, "batch-files", cfg.Uploads.Bucket)
	require.Equal(t, "json", cfg.Log.Format)
}

func TestLoadRejectsS3WithoutBucket(t *testing.T) {
	t.Setenv("PHENOBATCH_UPLOADS_DRIVER", "s3")
	_, err := Load(t.TempDir())
	require.Error(t, err)
}

func TestLoadEnvFilesSkipsMissing(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PHENOBATCH_TEST_LOADED=yes\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("PHENOBATCH_TEST_LOADED") })

	n, err := LoadEnvFiles(filepath.Join(dir, ".env.local"), envFile)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "yes", os.Getenv("PHENOBATCH_TEST_LOADED"))
}
