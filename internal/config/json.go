package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/photocatalog/internal/flagx"
	"github.com/dmitrijs2005/photocatalog/internal/timex"
)

// jsonConfig is the on-disk shape. Pointer fields tell "absent" apart from
// a zero value, so a partial file only overrides what it names.
type jsonConfig struct {
	UserID  *string `json:"user_id"`
	DataDir *string `json:"data_dir"`

	Backend     *string `json:"backend"`
	FSRoot      *string `json:"fs_root"`
	S3Bucket    *string `json:"s3_bucket"`
	S3Region    *string `json:"s3_region"`
	S3Endpoint  *string `json:"s3_endpoint"`
	S3AccessKey *string `json:"s3_access_key"`
	S3SecretKey *string `json:"s3_secret_key"`

	SyncInterval   *timex.Duration `json:"sync_interval"`
	MaxItemRetries *int            `json:"max_item_retries"`
	RetryAttempts  *int            `json:"retry_attempts"`
	RetryBaseDelay *timex.Duration `json:"retry_base_delay"`
	HashCacheSize  *int            `json:"hash_cache_size"`
	HashCacheTTL   *timex.Duration `json:"hash_cache_ttl"`

	LogLevel    *string `json:"log_level"`
	LogFile     *string `json:"log_file"`
	MetricsAddr *string `json:"metrics_addr"`
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// parseJSON overlays cfg with the file named by -c or -config, if any.
func parseJSON(cfg *Config, args []string) error {
	path := flagx.JSONConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var jc jsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&cfg.UserID, jc.UserID)
	setString(&cfg.DataDir, jc.DataDir)
	setString(&cfg.Backend, jc.Backend)
	setString(&cfg.FSRoot, jc.FSRoot)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3Endpoint, jc.S3Endpoint)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.LogFile, jc.LogFile)
	setString(&cfg.MetricsAddr, jc.MetricsAddr)

	if jc.SyncInterval != nil {
		cfg.SyncInterval = jc.SyncInterval.Duration
	}
	if jc.RetryBaseDelay != nil {
		cfg.RetryBaseDelay = jc.RetryBaseDelay.Duration
	}
	if jc.HashCacheTTL != nil {
		cfg.HashCacheTTL = jc.HashCacheTTL.Duration
	}
	if jc.MaxItemRetries != nil {
		cfg.MaxItemRetries = *jc.MaxItemRetries
	}
	if jc.RetryAttempts != nil {
		cfg.RetryAttempts = *jc.RetryAttempts
	}
	if jc.HashCacheSize != nil {
		cfg.HashCacheSize = *jc.HashCacheSize
	}
	return nil
}
