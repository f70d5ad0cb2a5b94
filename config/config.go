package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment variable the config reads.
const EnvPrefix = "IMAGEFLOW_"

const (
	LogBackendFile   = "file"
	LogBackendSQLite = "sqlite"
)

// Config is the config for the application
type Config struct {
	Env  string `json:"env" toml:"env"`
	Host string `json:"host" toml:"host"`
	Port int    `json:"port" toml:"port"`

	// TrustProxy takes the client address from X-Forwarded-For style headers.
	// Only enable it behind a reverse proxy that overwrites them.
	TrustProxy bool `json:"trust_proxy" toml:"trust_proxy"`

	// Username and PasswordHash are the single set of credentials allowed to
	// log in. PasswordHash is a bcrypt hash.
	Username      string `json:"username" toml:"username"`
	PasswordHash  string `json:"password" toml:"password"`
	SessionSecret string `json:"session_secret" toml:"session_secret"`

	StoragePath   string `json:"storage_path" toml:"storage_path"`
	WatermarkPath string `json:"watermark_path" toml:"watermark_path"`
	PreviewSize   int    `json:"preview_size" toml:"preview_size"`
	ImageWorkers  int    `json:"image_workers" toml:"image_workers"`
	ExiftoolPath  string `json:"exiftool_path" toml:"exiftool_path"`

	MaxFileSize       int64    `json:"max_file_size" toml:"max_file_size"`
	MaxTotalFileSize  int64    `json:"max_total_file_size" toml:"max_total_file_size"`
	MaxFiles          int      `json:"max_files" toml:"max_files"`
	AllowedExtensions []string `json:"allowed_extensions" toml:"allowed_extensions"`

	LoginRateLimitMax      int   `json:"login_rate_limit_max" toml:"login_rate_limit_max"`
	LoginRateLimitWindowMs int64 `json:"login_rate_limit_window_ms" toml:"login_rate_limit_window_ms"`
	DownloadTokenExpiryMs  int64 `json:"download_token_expiry_ms" toml:"download_token_expiry_ms"`

	LogBackend    string `json:"log_backend" toml:"log_backend"`
	LogLevel      string `json:"log_level" toml:"log_level"`
	LogPath       string `json:"log_path" toml:"log_path"`
	LogMaxSizeMB  int    `json:"log_max_size_mb" toml:"log_max_size_mb"`
	LogMaxBackups int    `json:"log_max_backups" toml:"log_max_backups"`
	LogMaxAgeDays int    `json:"log_max_age_days" toml:"log_max_age_days"`
}

// New returns a config with default values
func New() *Config {
	return &Config{
		Env:                    "dev",
		Host:                   "localhost",
		Port:                   3000,
		StoragePath:            "storage",
		PreviewSize:            300,
		ImageWorkers:           2,
		MaxFileSize:            10 << 20,
		MaxTotalFileSize:       50 << 20,
		MaxFiles:               10,
		AllowedExtensions:      []string{".jpg", ".jpeg", ".png"},
		LoginRateLimitMax:      5,
		LoginRateLimitWindowMs: 15 * 60 * 1000,
		DownloadTokenExpiryMs:  5 * 60 * 1000,
		LogBackend:             LogBackendFile,
		LogLevel:               "info",
	}
}

// FromReader creates a config from a reader that contains json content.
func FromReader(f io.Reader) (*Config, error) {
	cfg := New()
	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("config from reader: %w", err)
	}

	return cfg, nil
}

// FromTOML creates a config from a reader that contains toml content.
func FromTOML(f io.Reader) (*Config, error) {
	cfg := New()
	if _, err := toml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("config from toml: %w", err)
	}

	return cfg, nil
}

// FromFile reads a config file, choosing the decoder from the extension.
// A missing path yields the defaults.
func FromFile(path string) (*Config, error) {
	if path == "" {
		return New(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FromTOML(f)
	default:
		return FromReader(f)
	}
}

// Load reads the config file (if any), the .env files and the process
// environment, in that order of precedence from lowest to highest.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg, err := FromFile(path)
	if err != nil {
		return nil, err
	}

	if err := LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

// LoadEnvFiles loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadEnvFiles(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	return nil
}

// ApplyEnv overrides fields from IMAGEFLOW_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	strs := map[string]*string{
		"ENV":            &c.Env,
		"HOST":           &c.Host,
		"USERNAME":       &c.Username,
		"PASSWORD":       &c.PasswordHash,
		"SESSION_SECRET": &c.SessionSecret,
		"STORAGE_PATH":   &c.StoragePath,
		"WATERMARK_PATH": &c.WatermarkPath,
		"EXIFTOOL_PATH":  &c.ExiftoolPath,
		"LOG_BACKEND":    &c.LogBackend,
		"LOG_LEVEL":      &c.LogLevel,
		"LOG_PATH":       &c.LogPath,
	}
	for key, dst := range strs {
		if v, ok := get(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PORT":                 &c.Port,
		"MAX_FILES":            &c.MaxFiles,
		"PREVIEW_SIZE":         &c.PreviewSize,
		"IMAGE_WORKERS":        &c.ImageWorkers,
		"LOGIN_RATE_LIMIT_MAX": &c.LoginRateLimitMax,
		"LOG_MAX_SIZE_MB":      &c.LogMaxSizeMB,
		"LOG_MAX_BACKUPS":      &c.LogMaxBackups,
		"LOG_MAX_AGE_DAYS":     &c.LogMaxAgeDays,
	}
	for key, dst := range ints {
		v, ok := get(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	int64s := map[string]*int64{
		"MAX_FILE_SIZE":              &c.MaxFileSize,
		"MAX_TOTAL_FILE_SIZE":        &c.MaxTotalFileSize,
		"LOGIN_RATE_LIMIT_WINDOW_MS": &c.LoginRateLimitWindowMs,
		"DOWNLOAD_TOKEN_EXPIRY":      &c.DownloadTokenExpiryMs,
	}
	for key, dst := range int64s {
		v, ok := get(key)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	if v, ok := get("TRUST_PROXY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sTRUST_PROXY: %w", EnvPrefix, err)
		}
		c.TrustProxy = b
	}

	if v, ok := get("ALLOWED_EXTENSIONS"); ok {
		c.AllowedExtensions = splitList(v)
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports the first missing or nonsensical setting.
func (c *Config) Validate() error {
	switch {
	case c.Username == "":
		return fmt.Errorf("missing required setting %sUSERNAME", EnvPrefix)
	case c.PasswordHash == "":
		return fmt.Errorf("missing required setting %sPASSWORD", EnvPrefix)
	case c.SessionSecret == "":
		return fmt.Errorf("missing required setting %sSESSION_SECRET", EnvPrefix)
	case c.StoragePath == "":
		return fmt.Errorf("missing required setting %sSTORAGE_PATH", EnvPrefix)
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port %d", c.Port)
	case c.MaxFiles < 1:
		return fmt.Errorf("max files must be positive, got %d", c.MaxFiles)
	case c.MaxFileSize <= 0 || c.MaxTotalFileSize <= 0:
		return errors.New("file size limits must be positive")
	case len(c.AllowedExtensions) == 0:
		return errors.New("allowed extensions must not be empty")
	case c.DownloadTokenExpiryMs <= 0:
		return errors.New("download token expiry must be positive")
	case c.LoginRateLimitMax <= 0 || c.LoginRateLimitWindowMs <= 0:
		return errors.New("login rate limit settings must be positive")
	case c.PreviewSize <= 0:
		return fmt.Errorf("preview size must be positive, got %d", c.PreviewSize)
	}

	if !slices.Contains([]string{LogBackendFile, LogBackendSQLite}, c.LogBackend) {
		return fmt.Errorf("unknown log backend %q", c.LogBackend)
	}

	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) DownloadTokenTTL() time.Duration {
	return time.Duration(c.DownloadTokenExpiryMs) * time.Millisecond
}

func (c *Config) LoginRateLimitWindow() time.Duration {
	return time.Duration(c.LoginRateLimitWindowMs) * time.Millisecond
}

func (c *Config) OriginalsDir() string { return filepath.Join(c.StoragePath, "original_uploads") }
func (c *Config) PreviewsDir() string  { return filepath.Join(c.StoragePath, "previews") }
func (c *Config) LogsDir() string      { return filepath.Join(c.StoragePath, "logs") }

// AuditLogPath is the location of the audit log for the configured backend.
func (c *Config) AuditLogPath() string {
	if c.LogBackend == LogBackendSQLite {
		return filepath.Join(c.LogsDir(), "logs.db")
	}
	return filepath.Join(c.LogsDir(), "logs.txt")
}

// NormalizedExtensions returns the allow-list lowercased and dot-prefixed.
func (c *Config) NormalizedExtensions() []string {
	out := make([]string, 0, len(c.AllowedExtensions))
	for _, ext := range c.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}

// IsProduction reports whether the secure cookie flag should be set.
func (c *Config) IsProduction() bool {
	return c.Env == "prod"
}
