package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := New()
	cfg.Username = "admin"
	cfg.PasswordHash = "$2a$10$abcdefghijklmnopqrstuv"
	cfg.SessionSecret = "secret"
	return cfg
}

func TestFromReader(t *testing.T) {
	cfg, err := FromReader(strings.NewReader(`{"username":"admin","port":8080,"allowed_extensions":[".png"]}`))
	if err != nil {
		t.Fatalf("FromReader() error = %v", err)
	}

	if cfg.Username != "admin" {
		t.Errorf("Username = %q, want %q", cfg.Username, "admin")
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if len(cfg.AllowedExtensions) != 1 || cfg.AllowedExtensions[0] != ".png" {
		t.Errorf("AllowedExtensions = %v, want [.png]", cfg.AllowedExtensions)
	}
	// untouched fields keep their defaults
	if cfg.PreviewSize != 300 {
		t.Errorf("PreviewSize = %d, want default 300", cfg.PreviewSize)
	}
}

func TestFromReader_invalidJSON(t *testing.T) {
	if _, err := FromReader(strings.NewReader(`{`)); err == nil {
		t.Fatal("FromReader() expected error for truncated json")
	}
}

func TestFromFile_toml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imageflow.toml")
	content := `
username = "admin"
max_files = 3
download_token_expiry_ms = 1000
log_backend = "sqlite"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := FromFile(path)
	if err != nil {
		t.Fatalf("FromFile() error = %v", err)
	}

	if cfg.MaxFiles != 3 {
		t.Errorf("MaxFiles = %d, want 3", cfg.MaxFiles)
	}
	if cfg.DownloadTokenTTL() != time.Second {
		t.Errorf("DownloadTokenTTL() = %v, want 1s", cfg.DownloadTokenTTL())
	}
	if got := cfg.AuditLogPath(); filepath.Base(got) != "logs.db" {
		t.Errorf("AuditLogPath() = %q, want logs.db", got)
	}
}

func TestFromFile_emptyPathReturnsDefaults(t *testing.T) {
	cfg, err := FromFile("")
	if err != nil {
		t.Fatalf("FromFile() error = %v", err)
	}
	if cfg.LogBackend != LogBackendFile {
		t.Errorf("LogBackend = %q, want %q", cfg.LogBackend, LogBackendFile)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"IMAGEFLOW_USERNAME":              "env-user",
		"IMAGEFLOW_PORT":                  "4000",
		"IMAGEFLOW_MAX_FILE_SIZE":         "2048",
		"IMAGEFLOW_ALLOWED_EXTENSIONS":    ".jpg, .PNG ,,",
		"IMAGEFLOW_DOWNLOAD_TOKEN_EXPIRY": "60000",
		"IMAGEFLOW_LOG_LEVEL":             "   ",
		"IMAGEFLOW_TRUST_PROXY":           "true",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := New()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if cfg.Username != "env-user" {
		t.Errorf("Username = %q, want env-user", cfg.Username)
	}
	if cfg.Port != 4000 {
		t.Errorf("Port = %d, want 4000", cfg.Port)
	}
	if cfg.MaxFileSize != 2048 {
		t.Errorf("MaxFileSize = %d, want 2048", cfg.MaxFileSize)
	}
	if cfg.DownloadTokenTTL() != time.Minute {
		t.Errorf("DownloadTokenTTL() = %v, want 1m", cfg.DownloadTokenTTL())
	}
	if !cfg.TrustProxy {
		t.Errorf("TrustProxy = false, want true")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, blank env value should keep default", cfg.LogLevel)
	}

	got := cfg.NormalizedExtensions()
	want := []string{".jpg", ".png"}
	if len(got) != len(want) {
		t.Fatalf("NormalizedExtensions() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("NormalizedExtensions()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestApplyEnv_invalidNumber(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "IMAGEFLOW_MAX_FILES" {
			return "many", true
		}
		return "", false
	}

	if err := New().ApplyEnv(lookup); err == nil {
		t.Fatal("ApplyEnv() expected error for non-numeric value")
	}
}

func TestApplyEnv_invalidBool(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "IMAGEFLOW_TRUST_PROXY" {
			return "sometimes", true
		}
		return "", false
	}

	if err := New().ApplyEnv(lookup); err == nil {
		t.Fatal("ApplyEnv() expected error for non-boolean value")
	}
}

func TestNew_doesNotTrustProxy(t *testing.T) {
	if New().TrustProxy {
		t.Error("TrustProxy defaults to true, want false")
	}
}

func TestLoadEnvFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("IMAGEFLOW_TEST_ONLY_KEY=from-file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("IMAGEFLOW_TEST_ONLY_KEY") })

	if err := LoadEnvFiles(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadEnvFiles() error = %v", err)
	}
	if got := os.Getenv("IMAGEFLOW_TEST_ONLY_KEY"); got != "from-file" {
		t.Errorf("env value = %q, want from-file", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing username", mutate: func(c *Config) { c.Username = "" }, wantErr: true},
		{name: "missing password", mutate: func(c *Config) { c.PasswordHash = "" }, wantErr: true},
		{name: "missing session secret", mutate: func(c *Config) { c.SessionSecret = "" }, wantErr: true},
		{name: "zero max files", mutate: func(c *Config) { c.MaxFiles = 0 }, wantErr: true},
		{name: "empty allow-list", mutate: func(c *Config) { c.AllowedExtensions = nil }, wantErr: true},
		{name: "unknown log backend", mutate: func(c *Config) { c.LogBackend = "mongo" }, wantErr: true},
		{name: "zero token expiry", mutate: func(c *Config) { c.DownloadTokenExpiryMs = 0 }, wantErr: true},
		{name: "bad port", mutate: func(c *Config) { c.Port = 70000 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDirectories(t *testing.T) {
	cfg := New()
	cfg.StoragePath = "/data"

	if got := cfg.OriginalsDir(); got != filepath.Join("/data", "original_uploads") {
		t.Errorf("OriginalsDir() = %q", got)
	}
	if got := cfg.PreviewsDir(); got != filepath.Join("/data", "previews") {
		t.Errorf("PreviewsDir() = %q", got)
	}
	if got := cfg.AuditLogPath(); got != filepath.Join("/data", "logs", "logs.txt") {
		t.Errorf("AuditLogPath() = %q", got)
	}
	if got := cfg.Addr(); got != "localhost:3000" {
		t.Errorf("Addr() = %q, want localhost:3000", got)
	}
}
