// Package config loads photools configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the photools configuration.
type Config struct {
	// Sandbox settings
	AllowedDirectories string   `mapstructure:"allowed_directories"` // comma-separated allow-list of scan roots
	AllowedExtensions  []string `mapstructure:"allowed_extensions"`  // empty means the built-in photo set
	MaxFileSizeMB      int64    `mapstructure:"max_file_size_mb"`
	MaxScanDepth       int      `mapstructure:"max_scan_depth"`
	MaxPathLength      int      `mapstructure:"max_path_length"`
	FollowSymlinks     bool     `mapstructure:"follow_symlinks"`
	SkipHiddenFiles    bool     `mapstructure:"skip_hidden_files"`
	SkipHiddenDirs     bool     `mapstructure:"skip_hidden_dirs"`
	BlockExecutables   bool     `mapstructure:"block_executables"`

	// API-facing caps, applied on top of the sandbox settings
	APIMaxFileSizeMB int64 `mapstructure:"api_max_file_size_mb"`
	APIMaxScanDepth  int   `mapstructure:"api_max_scan_depth"`

	// Scan settings
	Workers          int    `mapstructure:"workers"`
	BatchSize        int    `mapstructure:"batch_size"`
	DefaultStrategy  string `mapstructure:"default_strategy"` // fast, full
	ProgressInterval int    `mapstructure:"progress_interval"`

	// Storage settings
	StorageBackend   string `mapstructure:"storage_backend"` // local, s3
	LocalStoragePath string `mapstructure:"local_storage_path"`
	OrganizeByDate   bool   `mapstructure:"organize_by_date"`
	S3Endpoint       string `mapstructure:"s3_endpoint"`
	S3Bucket         string `mapstructure:"s3_bucket"`
	S3AccessKey      string `mapstructure:"s3_access_key"`
	S3SecretKey      string `mapstructure:"s3_secret_key"`
	S3Region         string `mapstructure:"s3_region"`
	S3UseSSL         bool   `mapstructure:"s3_use_ssl"`

	// Database settings (empty disables scan history)
	DatabaseURL string `mapstructure:"database_url"`

	// Server settings
	ListenAddr  string `mapstructure:"listen_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	// Logging settings
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Load loads configuration from environment variables and defaults.
func Load() (*Config, error) {
	v := viper.New()

	// Sandbox defaults
	v.SetDefault("allowed_directories", "")
	v.SetDefault("allowed_extensions", []string{})
	v.SetDefault("max_file_size_mb", 500)
	v.SetDefault("max_scan_depth", 10)
	v.SetDefault("max_path_length", 4096)
	v.SetDefault("follow_symlinks", false)
	v.SetDefault("skip_hidden_files", true)
	v.SetDefault("skip_hidden_dirs", true)
	v.SetDefault("block_executables", true)

	// API caps
	v.SetDefault("api_max_file_size_mb", 100)
	v.SetDefault("api_max_scan_depth", 5)

	// Scan defaults
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("batch_size", 50)
	v.SetDefault("default_strategy", "fast")
	v.SetDefault("progress_interval", 1)

	// Storage defaults
	v.SetDefault("storage_backend", "local")
	v.SetDefault("local_storage_path", "./photo-storage")
	v.SetDefault("organize_by_date", true)
	v.SetDefault("s3_region", "us-east-1")
	v.SetDefault("s3_use_ssl", true)

	v.SetDefault("database_url", "")

	// Server defaults
	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("metrics_addr", ":9090")

	// Logging defaults
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetEnvPrefix("PHOTOOLS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.AllowedExtensions = NormalizeExtensions(cfg.AllowedExtensions)

	return &cfg, nil
}

// AllowedDirs returns the cleaned allow-list of scan roots.
func (c *Config) AllowedDirs() []string {
	if c.AllowedDirectories == "" {
		return nil
	}
	parts := strings.Split(c.AllowedDirectories, ",")
	dirs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			dirs = append(dirs, p)
		}
	}
	return dirs
}

// Validate checks settings that must hold before the server starts.
func (c *Config) Validate() error {
	dirs := c.AllowedDirs()
	if len(dirs) == 0 {
		return fmt.Errorf("PHOTOOLS_ALLOWED_DIRECTORIES is required")
	}
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("allowed directory %s: %w", dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("allowed directory %s is not a directory", dir)
		}
	}
	if c.MaxFileSizeMB <= 0 {
		return fmt.Errorf("max_file_size_mb must be positive, got %d", c.MaxFileSizeMB)
	}
	if c.MaxScanDepth <= 0 {
		return fmt.Errorf("max_scan_depth must be positive, got %d", c.MaxScanDepth)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	switch c.StorageBackend {
	case "local", "s3":
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	if c.StorageBackend == "s3" && c.S3Bucket == "" {
		return fmt.Errorf("PHOTOOLS_S3_BUCKET is required for the s3 backend")
	}
	return nil
}

// NormalizeExtensions lowercases extensions and ensures a leading dot.
func NormalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
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
