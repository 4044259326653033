package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("INTERCESSIO_CONFIG_DIR", dir)
	t.Setenv("INTERCESSIO_DB_URL", "")
	t.Setenv("INTERCESSIO_APPROVAL_TTL", "")
	t.Setenv("NTFY_TOPIC", "")
	t.Setenv("INTERCESSIO_NTFY_TOPIC", "")

	cfg := Load()

	require.Equal(t, dir, cfg.ConfigDir)
	require.Equal(t, 10*time.Minute, cfg.ApprovalTTL)
	require.Equal(t, "https://ntfy.sh", cfg.NtfyBaseURL)
	require.Equal(t, filepath.Join(dir, "intercessio.sock"), cfg.SocketPath)
	require.Contains(t, cfg.DatabaseURL, "sqlite://")

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestLoadNtfyTopicFallback(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("INTERCESSIO_CONFIG_DIR", dir)
	t.Setenv("NTFY_TOPIC", "")
	t.Setenv("INTERCESSIO_NTFY_TOPIC", "fallback-topic")

	cfg := Load()

	require.Equal(t, "fallback-topic", cfg.NtfyTopic)
}

func TestParseDurationInvalidFallsBack(t *testing.T) {
	require.Equal(t, 10*time.Minute, parseDuration("not-a-duration", 10*time.Minute))
	require.Equal(t, 5*time.Second, parseDuration("5s", 10*time.Minute))
	require.Equal(t, 10*time.Minute, parseDuration("", 10*time.Minute))
}
