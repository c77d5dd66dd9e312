package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OPENROUTER_API_KEY",
		"FIESTA_LISTEN_ADDR",
		"FIESTA_OPENROUTER_BASE_URL",
		"FIESTA_DEFAULT_REFERER",
		"FIESTA_DEFAULT_TITLE",
		"FIESTA_HISTORY_WINDOW",
		"FIESTA_ATTACHMENT_CLIP",
		"FIESTA_POLICY_FILE",
		"FIESTA_LEDGER_PATH",
		"FIESTA_LOG_FILE",
		"FIESTA_LOG_LEVEL",
		"FIESTA_UPSTREAM_TIMEOUT",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadDefaultsWithoutFiles(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadGatewayConfig(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != "dev" {
		t.Fatalf("expected dev environment, got %q", cfg.Environment)
	}
	if cfg.ListenAddr != ":8084" {
		t.Fatalf("expected default listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.UpstreamTimeout != 60*time.Second {
		t.Fatalf("expected 60s timeout, got %s", cfg.UpstreamTimeout)
	}
	if cfg.HistoryWindow != 8 || cfg.AttachmentClip != 20000 {
		t.Fatalf("unexpected request shaping defaults %+v", cfg)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected info log level, got %q", cfg.LogLevel)
	}
}

func TestLoadMergesSettingsAndEnvironmentFile(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config", "setting.ini"), `
environment = prod
default_title = Shared Title
history_window = 6
`)
	writeFile(t, filepath.Join(root, "config", "prod", "gateway.ini"), `
# production overrides
listen_addr = :9090
log_level = debug
upstream_timeout = 30s
ledger_path = /tmp/ledger.db
`)

	cfg, err := LoadGatewayConfig(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != "prod" {
		t.Fatalf("expected prod, got %q", cfg.Environment)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("environment file should win, got %q", cfg.ListenAddr)
	}
	if cfg.DefaultTitle != "Shared Title" {
		t.Fatalf("settings defaults should apply, got %q", cfg.DefaultTitle)
	}
	if cfg.HistoryWindow != 6 {
		t.Fatalf("expected history window 6, got %d", cfg.HistoryWindow)
	}
	if cfg.UpstreamTimeout != 30*time.Second {
		t.Fatalf("expected 30s, got %s", cfg.UpstreamTimeout)
	}
	if cfg.LedgerPath != "/tmp/ledger.db" {
		t.Fatalf("unexpected ledger path %q", cfg.LedgerPath)
	}
}

func TestEnvOverridesWin(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config", "setting.ini"), "environment = dev\n")
	writeFile(t, filepath.Join(root, "config", "dev", "gateway.ini"), "listen_addr = :9001\nlog_level = info\n")

	t.Setenv("FIESTA_LISTEN_ADDR", ":7777")
	t.Setenv("OPENROUTER_API_KEY", "env-key")
	t.Setenv("FIESTA_UPSTREAM_TIMEOUT", "90s")

	cfg, err := LoadGatewayConfig(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":7777" {
		t.Fatalf("env var should win, got %q", cfg.ListenAddr)
	}
	if cfg.OpenRouterAPIKey != "env-key" {
		t.Fatalf("expected env key, got %q", cfg.OpenRouterAPIKey)
	}
	if cfg.UpstreamTimeout != 90*time.Second {
		t.Fatalf("expected 90s, got %s", cfg.UpstreamTimeout)
	}
}

func TestInvalidTimeoutRejected(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config", "setting.ini"), "environment = dev\n")
	writeFile(t, filepath.Join(root, "config", "dev", "gateway.ini"), "upstream_timeout = soon\n")

	if _, err := LoadGatewayConfig(root); err == nil {
		t.Fatal("expected an error for a bad duration")
	}
}

func TestIsPostgresDSN(t *testing.T) {
	if !IsPostgresDSN("postgres://u:p@localhost/db") {
		t.Fatal("postgres:// should match")
	}
	if !IsPostgresDSN("postgresql://u:p@localhost/db") {
		t.Fatal("postgresql:// should match")
	}
	if IsPostgresDSN("/var/lib/gateway/ledger.db") {
		t.Fatal("file path should not match")
	}
}
