package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, 10*time.Minute, cfg.Reservation.HoldTTL)
	assert.Equal(t, 24*time.Hour, cfg.Reservation.IdempotencyRetention)
	assert.Equal(t, 30*time.Second, cfg.Sweeper.Interval)
	assert.Equal(t, []string{"http://localhost:5173", "http://127.0.0.1:5173"}, cfg.HTTP.CORSOrigins)
	assert.Empty(t, cfg.AMQP.URL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("HOLD_TTL", "90s")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 90*time.Second, cfg.Reservation.HoldTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.CORSOrigins)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{"JWT_SECRET": ""}},
		{"short secret", map[string]string{"JWT_SECRET": "short"}},
		{"unknown driver", map[string]string{"JWT_SECRET": testSecret, "STORAGE_DRIVER": "mysql"}},
		{"bad log level", map[string]string{"JWT_SECRET": testSecret, "LOG_LEVEL": "loud"}},
		{"zero batch", map[string]string{"JWT_SECRET": testSecret, "SWEEPER_BATCH_SIZE": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_PATH", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9090"
storage:
  driver: memory
auth:
  secret: "`+testSecret+`"
sweeper:
  batch_size: 7
`), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 7, cfg.Sweeper.BatchSize)
}

func TestLoadEnvFile_SearchesParents(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("ENTRYPOINT_TEST_VAR=from-file\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(nested))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("ENTRYPOINT_TEST_VAR", "")
	require.NoError(t, os.Unsetenv("ENTRYPOINT_TEST_VAR"))

	path, err := LoadEnvFile()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".env"), path)
	assert.Equal(t, "from-file", os.Getenv("ENTRYPOINT_TEST_VAR"))
}
