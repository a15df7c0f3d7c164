package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("R2_ENDPOINT_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, EnvDevelopment, cfg.Env)
	require.Equal(t, "erp-bacs", cfg.Storage.Bucket)
	require.Equal(t, int64(10*1024*1024), cfg.Uploads.MaxContentLength)
	require.Equal(t, 4, cfg.Uploads.PhotoWorkers)
	require.Equal(t, 20, cfg.Reports.MaxPhotosPerField)
	require.Equal(t, 24*time.Hour, cfg.JWT.Expiration)
}

func TestLoadOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("R2_ENDPOINT_URL", " https://account.r2.cloudflarestorage.com ")
	t.Setenv("STORAGE_TEMP_TTL", "15m")
	t.Setenv("MAX_CONTENT_LENGTH", "-1")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://account.r2.cloudflarestorage.com", cfg.Storage.EndpointURL)
	require.Equal(t, 15*time.Minute, cfg.Storage.TempTTL)
	require.Equal(t, int64(10*1024*1024), cfg.Uploads.MaxContentLength)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestParseDurationFallback(t *testing.T) {
	require.Equal(t, time.Minute, parseDuration("", time.Minute))
	require.Equal(t, time.Minute, parseDuration("soon", time.Minute))
	require.Equal(t, 2*time.Second, parseDuration("2s", time.Minute))
}

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
