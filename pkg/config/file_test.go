package config

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/hub/pkg/observability"
)

func TestLoadTenancyFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenancy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tenancy: [not, a, map"), 0o600))

	_, err := LoadTenancyFile(path)
	assert.Error(t, err)
}

func TestWatchTenancyFile_Reloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tenancy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tenancy:\n  hub_slug: hub\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan TenancyConfig, 4)
	done := make(chan error, 1)
	go func() {
		done <- WatchTenancyFile(ctx, path, observability.NewLogger(observability.ErrorLevel, io.Discard), func(tc TenancyConfig) {
			select {
			case changes <- tc:
			default:
			}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("tenancy:\n  aliases:\n    helpdesk: tickets\n"), 0o600))

	// A truncating write can surface an empty file first; wait for the final content.
	deadline := time.After(5 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case tc := <-changes:
			reloaded = tc.Aliases["helpdesk"] == "tickets"
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}

	cancel()
	assert.NoError(t, <-done)
}
