// Package config loads runtime configuration for the photocatalog CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or -config.
//  3. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-u string          catalog owner (user id)
//	-d string          local data directory
//	-b string          object store backend: "fs" or "s3"
//	-r string          root directory of the "fs" backend
//	-bucket string     S3 bucket
//	-region string     S3 region
//	-endpoint string   S3-compatible endpoint, e.g. a MinIO URL
//	-access-key string S3 access key
//	-secret-key string S3 secret key
//	-s duration        background sync interval
//	-l string          log level
//	-log-file string   additional log file
//	-m string          address of the Prometheus metrics listener
//
// # JSON schema
//
// Durations use timex.Duration, so "15m" and integer nanoseconds both work:
//
//	{
//	  "user_id": "alice",
//	  "data_dir": "/var/lib/photocatalog",
//	  "backend": "s3",
//	  "s3_bucket": "photos",
//	  "s3_endpoint": "http://127.0.0.1:9000",
//	  "sync_interval": "15m",
//	  "max_item_retries": 3
//	}
package config
