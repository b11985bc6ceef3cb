package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/photocatalog/internal/common"
)

const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// Config holds runtime settings for the photocatalog CLI.
type Config struct {
	UserID  string
	DataDir string

	Backend     string
	FSRoot      string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	SyncInterval   time.Duration
	MaxItemRetries int
	RetryAttempts  int
	RetryBaseDelay time.Duration
	HashCacheSize  int
	HashCacheTTL   time.Duration

	LogLevel    string
	LogFile     string
	MetricsAddr string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DataDir = defaultDataDir()
	c.Backend = BackendFS
	c.S3Region = "us-east-1"
	c.SyncInterval = common.DefaultSyncInterval
	c.MaxItemRetries = common.DefaultMaxRetries
	c.RetryAttempts = 4
	c.RetryBaseDelay = common.DefaultRetryBaseDelay
	c.HashCacheSize = common.DefaultHashCacheSize
	c.HashCacheTTL = 24 * time.Hour
	c.LogLevel = "info"
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".photocatalog"
	}
	return filepath.Join(home, ".photocatalog")
}

// Load builds a Config from defaults, then the JSON file named by -c or
// -config in args, then the flags in args. Later sources win.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJSON(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and fills derived ones.
func (c *Config) Validate() error {
	if c.UserID == "" {
		return errors.New("config: user id is required (-u)")
	}
	if c.DataDir == "" {
		return errors.New("config: data directory is required (-d)")
	}
	switch c.Backend {
	case BackendFS:
		if c.FSRoot == "" {
			c.FSRoot = filepath.Join(c.DataDir, "remote")
		}
	case BackendS3:
		if c.S3Bucket == "" {
			return errors.New("config: s3 backend needs a bucket (-bucket)")
		}
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("config: sync interval must be positive, got %s", c.SyncInterval)
	}
	if c.MaxItemRetries <= 0 {
		return fmt.Errorf("config: max item retries must be positive, got %d", c.MaxItemRetries)
	}
	return nil
}
