package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("LDGATE_WARDEN_URL", "")
		t.Setenv("LDGATE_CHECK_TIMEOUT", "")
		t.Setenv("LDGATE_WARDEN_PUBLIC_KEY", "")

		cfg, err := ClientFromEnv()
		require.NoError(t, err)
		assert.Equal(t, defaultWardenURL, cfg.WardenURL)
		assert.Equal(t, defaultStoreURL, cfg.StoreURL)
		assert.Zero(t, cfg.CheckTimeout)
		assert.Nil(t, cfg.WardenPublicKey)
		assert.Equal(t, "info", cfg.Log.Level)
	})

	t.Run("parses key and timeout", func(t *testing.T) {
		key := make([]byte, 32)
		t.Setenv("LDGATE_WARDEN_PUBLIC_KEY", base64.StdEncoding.EncodeToString(key))
		t.Setenv("LDGATE_CHECK_TIMEOUT", "15s")

		cfg, err := ClientFromEnv()
		require.NoError(t, err)
		assert.Equal(t, key, cfg.WardenPublicKey)
		assert.Equal(t, 15*time.Second, cfg.CheckTimeout)
	})

	t.Run("rejects malformed key", func(t *testing.T) {
		t.Setenv("LDGATE_WARDEN_PUBLIC_KEY", "%%%")
		_, err := ClientFromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "LDGATE_WARDEN_PUBLIC_KEY")
	})
}

func TestWardenFromEnv(t *testing.T) {
	t.Run("memory store by default", func(t *testing.T) {
		t.Setenv("WARDEN_STORE", "")
		cfg, err := WardenFromEnv()
		require.NoError(t, err)
		assert.Equal(t, StoreMemory, cfg.Store)
		assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
		assert.Equal(t, 30, cfg.ChecksPerMinute)
	})

	t.Run("redis store requires url", func(t *testing.T) {
		t.Setenv("WARDEN_STORE", "redis")
		t.Setenv("REDIS_URL", "")
		_, err := WardenFromEnv()
		require.Error(t, err)
	})

	t.Run("postgres store requires database url", func(t *testing.T) {
		t.Setenv("WARDEN_STORE", "postgres")
		t.Setenv("DATABASE_URL", "")
		_, err := WardenFromEnv()
		require.Error(t, err)
	})

	t.Run("checks per minute must be positive", func(t *testing.T) {
		t.Setenv("WARDEN_STORE", "")
		for _, raw := range []string{"0", "-5"} {
			t.Setenv("WARDEN_CHECKS_PER_MINUTE", raw)
			_, err := WardenFromEnv()
			require.Error(t, err, raw)
			assert.Contains(t, err.Error(), "WARDEN_CHECKS_PER_MINUTE")
		}
	})

	t.Run("unknown store rejected", func(t *testing.T) {
		t.Setenv("WARDEN_STORE", "etcd")
		_, err := WardenFromEnv()
		require.Error(t, err)
	})
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LDGATE_STORE_URL=https://store.example/ld\n"), 0o600))
	t.Setenv("LDGATE_STORE_URL", "")
	require.NoError(t, os.Unsetenv("LDGATE_STORE_URL"))

	LoadDotEnv(path)

	cfg, err := ClientFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "https://store.example/ld", cfg.StoreURL)
}
