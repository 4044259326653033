// intercessiod is Intercessio's self-hosted remote-signing daemon: it pairs
// with Nostr clients over the bunker and Nostr Connect protocols, evaluates
// every signing request against a named policy, and suspends to a human
// approval queue when a policy refers.
//
// Usage:
//
//	export INTERCESSIO_CONFIG_DIR=~/.config/intercessio
//	export NTFY_TOPIC=my-intercessio-approvals
//	./intercessiod
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/humansinstitute/intercessio/internal/activity"
	"github.com/humansinstitute/intercessio/internal/approval"
	"github.com/humansinstitute/intercessio/internal/config"
	"github.com/humansinstitute/intercessio/internal/control"
	"github.com/humansinstitute/intercessio/internal/metadata"
	"github.com/humansinstitute/intercessio/internal/notifier"
	"github.com/humansinstitute/intercessio/internal/policy"
	"github.com/humansinstitute/intercessio/internal/session"
	"github.com/humansinstitute/intercessio/internal/store"
	"github.com/humansinstitute/intercessio/internal/vault"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("INTERCESSIO_LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("starting intercessio daemon", "version", "0.1.0")

	// ─── Configuration ────────────────────────────────────────────────────────
	cfg := config.Load()
	slog.Info("config loaded",
		"config_dir", cfg.ConfigDir,
		"database", cfg.DatabaseURL,
		"socket", cfg.SocketPath,
		"approval_ttl", cfg.ApprovalTTL,
	)

	// ─── Session Store ────────────────────────────────────────────────────────
	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open session store", "error", err, "url", cfg.DatabaseURL)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(); err != nil {
		slog.Error("session store migration failed", "error", err)
		os.Exit(1)
	}

	// ─── Metadata Store + Vault ───────────────────────────────────────────────
	md, err := metadata.Open(cfg.ConfigDir)
	if err != nil {
		slog.Error("failed to open metadata store", "error", err)
		os.Exit(1)
	}

	v, err := vault.Open(cfg.ConfigDir)
	if err != nil {
		slog.Error("failed to open vault", "error", err)
		os.Exit(1)
	}

	// ─── Policy Registry, Notifier, Approval Manager ─────────────────────────
	policies := policy.NewRegistry()
	n := notifier.New(cfg.NtfyBaseURL, cfg.NtfyTopic, cfg.ReviewLink)
	approvals := approval.New(st, n)

	if err := approvals.RestoreTimersOnBoot(); err != nil {
		slog.Error("failed to restore pending approval timers", "error", err)
		os.Exit(1)
	}

	// ─── Activity Log + Session Manager ───────────────────────────────────────
	activityLog := activity.New()
	sessions := session.New(st, md, v, policies, approvals, activityLog, cfg.ApprovalTTL)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := sessions.RestoreOnBoot(ctx); err != nil {
		slog.Error("failed to restore active sessions", "error", err)
		os.Exit(1)
	}

	// ─── Control Plane ────────────────────────────────────────────────────────
	ctl := control.New(cfg.SocketPath, sessions, approvals, activityLog, md, v)
	if err := ctl.Listen(); err != nil {
		if err == control.ErrAlreadyRunning {
			slog.Info("another intercessiod instance already owns the socket, exiting", "socket", cfg.SocketPath)
			return
		}
		slog.Error("failed to start control plane", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := ctl.Serve(ctx); err != nil {
			slog.Error("control plane accept loop exited", "error", err)
		}
	}()

	slog.Info("intercessio daemon ready", "socket", cfg.SocketPath)

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case <-ctl.ShutdownRequested():
		slog.Info("shutdown requested over control plane")
	}

	if err := ctl.Close(); err != nil {
		slog.Warn("error closing control plane", "error", err)
	}

	slog.Info("intercessio daemon stopped")
}
