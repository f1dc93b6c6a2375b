package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 2333 {
		t.Errorf("Port = %d, want 2333", cfg.Port)
	}
	if !cfg.IsDev() {
		t.Error("default env should be development")
	}
	if cfg.AuthService.URL != "http://127.0.0.1:5000" {
		t.Errorf("AuthService.URL = %q", cfg.AuthService.URL)
	}
	if cfg.AuthService.TimeoutSeconds != 5 {
		t.Errorf("AuthService.TimeoutSeconds = %d, want 5", cfg.AuthService.TimeoutSeconds)
	}
	if cfg.Gate.GraceWindowSeconds != 5 || cfg.Gate.NoAccessWaitSeconds != 5 {
		t.Errorf("Gate = %+v", cfg.Gate)
	}
	if cfg.Reconcile.StatusPollSeconds != 15 || cfg.Reconcile.RequestsPollSeconds != 10 {
		t.Errorf("Reconcile = %+v", cfg.Reconcile)
	}
	if !strings.Contains(cfg.DSN, "rakshanetra") {
		t.Errorf("DSN = %q, want database name in built DSN", cfg.DSN)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	data := `
port: 8080
env: production
redis_url: redis://redis:6379/1
auth_service:
  url: http://authz:5000
  timeout_seconds: 3
gate:
  grace_window_seconds: 10
allowed_origins:
  - example.com
  - "*.example.org"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 || cfg.IsDev() {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.AuthService.URL != "http://authz:5000" || cfg.AuthService.TimeoutSeconds != 3 {
		t.Errorf("AuthService = %+v", cfg.AuthService)
	}
	if cfg.Gate.GraceWindowSeconds != 10 {
		t.Errorf("GraceWindowSeconds = %d", cfg.Gate.GraceWindowSeconds)
	}
	// Unset fields still fall back.
	if cfg.Gate.NoAccessWaitSeconds != 5 {
		t.Errorf("NoAccessWaitSeconds = %d, want default 5", cfg.Gate.NoAccessWaitSeconds)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("port: 8080\nsensor_key: from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RN_PORT", "9090")
	t.Setenv("RN_SENSOR_KEY", "from-env")
	t.Setenv("RN_AUTH_SERVICE_URL", "http://override:5000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.SensorKey != "from-env" {
		t.Errorf("SensorKey = %q", cfg.SensorKey)
	}
	if cfg.AuthService.URL != "http://override:5000" {
		t.Errorf("AuthService.URL = %q", cfg.AuthService.URL)
	}
}

func TestBuildDSN(t *testing.T) {
	db := DatabaseConfig{
		Host:     "db.internal",
		Port:     3307,
		User:     "core",
		Password: "secret",
		Name:     "tokens",
		Charset:  "utf8mb4",
		Loc:      "UTC",
	}
	dsn := db.BuildDSN()
	for _, want := range []string{"core:secret@tcp(db.internal:3307)/tokens", "charset=utf8mb4", "loc=UTC", "parseTime=True"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN %q missing %q", dsn, want)
		}
	}
}
