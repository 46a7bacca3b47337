package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Port             int    `toml:"port"`
	AppDataRoot      string `toml:"app_data_root"`
	CacheMaxBytes    int64  `toml:"cache_max_bytes"`
	CacheMaxFiles    int    `toml:"cache_max_files"`
	RetentionDays    int    `toml:"retention_days"`
	MemoryCache      string `toml:"memory_cache"`
	MemoryCacheItems int    `toml:"memory_cache_items"`
	VipsMaxCacheMB   int    `toml:"vips_max_cache_mb"`
	VipsConcurrency  int    `toml:"vips_concurrency"`
	LogLevel         string `toml:"log_level"`
	UploadToken      string `toml:"upload_token"`
	MaxUploadSize    int64  `toml:"max_upload_size"`
	AllowedOrigin    string `toml:"allowed_origin"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:             8080,
		AppDataRoot:      defaultAppDataRoot(),
		CacheMaxBytes:    100 * 1024 * 1024,
		CacheMaxFiles:    100,
		RetentionDays:    30,
		MemoryCache:      "memory",
		MemoryCacheItems: 64,
		VipsMaxCacheMB:   64,
		VipsConcurrency:  1,
		LogLevel:         "info",
		MaxUploadSize:    64 * 1024 * 1024,
	}
}

// Load builds the configuration from defaults, the optional TOML file named by
// CONFIG_FILE, then environment variables, each layer overriding the previous.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays values from a TOML file.
func (c *Config) LoadFile(path string) error {
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvInt("PORT", c.Port)
	c.AppDataRoot = getEnv("APP_DATA_ROOT", c.AppDataRoot)
	c.CacheMaxBytes = getEnvInt64("CACHE_MAX_BYTES", c.CacheMaxBytes)
	c.CacheMaxFiles = getEnvInt("CACHE_MAX_FILES", c.CacheMaxFiles)
	c.RetentionDays = getEnvInt("CACHE_RETENTION_DAYS", c.RetentionDays)
	c.MemoryCache = getEnv("MEMORY_CACHE", c.MemoryCache)
	c.MemoryCacheItems = getEnvInt("MEMORY_CACHE_ITEMS", c.MemoryCacheItems)
	c.VipsMaxCacheMB = getEnvInt("VIPS_MAX_CACHE_MB", c.VipsMaxCacheMB)
	c.VipsConcurrency = getEnvInt("VIPS_CONCURRENCY", c.VipsConcurrency)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.UploadToken = getEnv("UPLOAD_TOKEN", c.UploadToken)
	c.MaxUploadSize = getEnvInt64("MAX_UPLOAD_SIZE", c.MaxUploadSize)
	c.AllowedOrigin = getEnv("ALLOWED_ORIGIN", c.AllowedOrigin)
}

// Validate rejects settings the cache engine cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AppDataRoot) == "" {
		return fmt.Errorf("app_data_root is required")
	}
	if c.CacheMaxBytes <= 0 {
		return fmt.Errorf("cache_max_bytes must be positive, got %d", c.CacheMaxBytes)
	}
	if c.CacheMaxFiles <= 0 {
		return fmt.Errorf("cache_max_files must be positive, got %d", c.CacheMaxFiles)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention_days must not be negative, got %d", c.RetentionDays)
	}
	return nil
}

func (c *Config) IsUploadPublic() bool {
	return strings.TrimSpace(c.UploadToken) == ""
}

func defaultAppDataRoot() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "assetcache")
	}
	return filepath.Join(os.TempDir(), "assetcache")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
