package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ldgate/internal/platform/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func envValue(t *testing.T, out, key string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, key); ok {
			return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), "="))
		}
	}
	t.Fatalf("%s not found in output:\n%s", key, out)
	return ""
}

func TestKeygen(t *testing.T) {
	out, err := execute(t, "keygen")
	require.NoError(t, err)

	seed, err := base64.StdEncoding.DecodeString(envValue(t, out, "WARDEN_SIGNING_KEY"))
	require.NoError(t, err)
	pub, err := base64.StdEncoding.DecodeString(envValue(t, out, "LDGATE_WARDEN_PUBLIC_KEY"))
	require.NoError(t, err)

	require.Len(t, seed, ed25519.SeedSize)
	assert.Equal(t, ed25519.NewKeyFromSeed(seed).Public(), ed25519.PublicKey(pub))
}

func TestGrantOnMemoryStore(t *testing.T) {
	t.Setenv("WARDEN_STORE", "memory")

	out, err := execute(t, "grant", "--seats", "3", "--expires", "720h")
	require.NoError(t, err)

	token := envValue(t, out, "account_token:")
	account, secret, found := strings.Cut(token, ":")
	assert.True(t, found)
	assert.Equal(t, envValue(t, out, "account_id:"), account)
	assert.Len(t, secret, 48)
	assert.Contains(t, out, "seats:         3")
	assert.Contains(t, out, "expires_at:")
}

func TestAdminCommandsValidateAccount(t *testing.T) {
	t.Setenv("WARDEN_STORE", "memory")

	for _, args := range [][]string{
		{"revoke"},
		{"revoke", "--account", "not-a-uuid"},
		{"release", "--account", "not-a-uuid", "machine-1"},
		{"activations"},
	} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			_, err := execute(t, args...)
			assert.Error(t, err)
		})
	}
}

func TestParseExpiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		raw     string
		want    time.Time
		wantErr bool
	}{
		{raw: "24h", want: now.Add(24 * time.Hour)},
		{raw: "2027-01-01T00:00:00Z", want: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)},
		{raw: "2027-01-01T02:00:00+02:00", want: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)},
		{raw: "-1h", wantErr: true},
		{raw: "next tuesday", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseExpiry(tt.raw, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestNewServer(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	cfg := config.Warden{
		Addr:            "127.0.0.1:0",
		Store:           config.StoreMemory,
		TokenTTL:        time.Hour,
		ChecksPerMinute: 30,
	}

	t.Run("requires a signing key", func(t *testing.T) {
		_, err := newServer(context.Background(), cfg, log)
		assert.ErrorContains(t, err, "WARDEN_SIGNING_KEY")
	})

	t.Run("serves health and metrics", func(t *testing.T) {
		cfg := cfg
		cfg.SigningKeySeed = []byte("0123456789abcdef0123456789abcdef")
		srv, err := newServer(context.Background(), cfg, log)
		require.NoError(t, err)
		defer srv.close()

		ts := httptest.NewServer(srv.http.Handler)
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp, err = http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Contains(t, string(body), "go_goroutines")
	})

	t.Run("run stops when the context ends", func(t *testing.T) {
		cfg := cfg
		cfg.SigningKeySeed = []byte("0123456789abcdef0123456789abcdef")
		srv, err := newServer(context.Background(), cfg, log)
		require.NoError(t, err)
		defer srv.close()

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- srv.run(ctx) }()
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop")
		}
	})
}
