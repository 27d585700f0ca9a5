package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := writeConfig(t, `
huntflow:
  account_id: 42
  token: from-file
  timeout: 5s
  enrich_recruiters: true
cache:
  ttl: 90s
fanout:
  concurrency: 8
log:
  level: debug
`)
	t.Setenv("HFQL_HUNTFLOW_TOKEN", "from-env")
	t.Setenv("HFQL_SERVER_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := DefaultConfig()
	want.Huntflow.AccountID = 42
	want.Huntflow.Token = "from-env"
	want.Huntflow.Timeout = 5 * time.Second
	want.Huntflow.EnrichRecruiters = true
	want.Cache.TTL = 90 * time.Second
	want.FanOut.Concurrency = 8
	want.Server.AllowedOrigins = []string{"https://a.example", "https://b.example"}
	want.Log.Level = "debug"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("unexpected config (-want +got):\n%s", diff)
	}
	if cfg.Log.SlogLevel() != slog.LevelDebug {
		t.Fatalf("expected debug level, got %s", cfg.Log.SlogLevel())
	}
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("HFQL_HUNTFLOW_ACCOUNT_ID", "7")
	t.Setenv("HFQL_HUNTFLOW_TOKEN", "secret")
	t.Setenv("HFQL_CACHE_TTL", "1m")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Huntflow.AccountID != 7 || cfg.Cache.TTL != time.Minute {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.Huntflow.PageSize != 30 {
		t.Fatalf("expected default page size, got %d", cfg.Huntflow.PageSize)
	}
}

func TestLoad_MissingCredentials(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected error without account and token")
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := writeConfig(t, "huntflow: [unterminated")
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestSlogLevel_Fallback(t *testing.T) {
	if got := (LogConfig{Level: "chatty"}).SlogLevel(); got != slog.LevelInfo {
		t.Fatalf("expected info fallback, got %s", got)
	}
}
