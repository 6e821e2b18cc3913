package warden

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ldgate/internal/entitlement/models"
)

func TestTerminalPresenter(t *testing.T) {
	t.Run("notify prints product and message", func(t *testing.T) {
		var out bytes.Buffer
		p := NewTerminalPresenter(&out, strings.NewReader(""), nil)

		p.Notify(context.Background(), models.DefaultProduct, "not licensed")

		assert.Equal(t, "Logic Driver Pro: not licensed\n", out.String())
	})

	t.Run("confirm accepts yes", func(t *testing.T) {
		for _, answer := range []string{"y\n", "YES\n", " yes "} {
			var out bytes.Buffer
			p := NewTerminalPresenter(&out, strings.NewReader(answer), nil)
			assert.True(t, p.Confirm(context.Background(), "Open?"), answer)
			assert.Contains(t, out.String(), "Open? [y/N]: ")
		}
	})

	t.Run("confirm defaults to no", func(t *testing.T) {
		for _, answer := range []string{"\n", "n\n", "maybe\n", ""} {
			p := NewTerminalPresenter(&bytes.Buffer{}, strings.NewReader(answer), nil)
			assert.False(t, p.Confirm(context.Background(), "Open?"), answer)
		}
	})

	t.Run("open store uses opener", func(t *testing.T) {
		var opened string
		opener := func(_ context.Context, url string) error {
			opened = url
			return nil
		}
		var out bytes.Buffer
		p := NewTerminalPresenter(&out, strings.NewReader(""), opener)

		require.NoError(t, p.OpenStore(context.Background(), "https://store.example"))
		assert.Equal(t, "https://store.example", opened)
		assert.Contains(t, out.String(), "Opening https://store.example")
	})

	t.Run("open store propagates opener error", func(t *testing.T) {
		boom := errors.New("no browser")
		p := NewTerminalPresenter(&bytes.Buffer{}, strings.NewReader(""), func(context.Context, string) error { return boom })
		assert.ErrorIs(t, p.OpenStore(context.Background(), "https://store.example"), boom)
	})
}

func TestBrowserCommand(t *testing.T) {
	name, args := browserCommand("windows", "https://x")
	assert.Equal(t, "rundll32", name)
	assert.Equal(t, []string{"url.dll,FileProtocolHandler", "https://x"}, args)

	name, _ = browserCommand("darwin", "https://x")
	assert.Equal(t, "open", name)

	name, _ = browserCommand("linux", "https://x")
	assert.Equal(t, "xdg-open", name)
}

func TestLaunchSurvivesCancelledContext(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	dir := t.TempDir()
	marker := filepath.Join(dir, "opened")
	script := filepath.Join(dir, "fake-open")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nsleep 1\necho \"$1\" > \""+marker+"\"\n"), 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, launch(ctx, script, "https://store.example/ld"))
	cancel()

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(marker)
		return err == nil && strings.TrimSpace(string(data)) == "https://store.example/ld"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestLaunchReportsMissingCommand(t *testing.T) {
	err := launch(context.Background(), filepath.Join(t.TempDir(), "no-such-opener"))
	assert.Error(t, err)
}

func TestHashMachineID(t *testing.T) {
	a := hashMachineID("host-a")
	assert.Len(t, a, 32)
	assert.Equal(t, a, hashMachineID("host-a"))
	assert.NotEqual(t, a, hashMachineID("host-b"))
	assert.NotContains(t, a, "host-a")
}
