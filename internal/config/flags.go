package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/photocatalog/internal/flagx"
)

var knownFlags = []string{
	"-u", "-d", "-b", "-r",
	"-bucket", "-region", "-endpoint", "-access-key", "-secret-key",
	"-s", "-l", "-log-file", "-m",
}

// parseFlags overlays cfg with command-line flags. Unknown flags in args are
// filtered out first so other components can share the command line.
func parseFlags(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("photocatalog", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.UserID, "u", cfg.UserID, "catalog owner")
	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "local data directory")
	fs.StringVar(&cfg.Backend, "b", cfg.Backend, `object store backend, "fs" or "s3"`)
	fs.StringVar(&cfg.FSRoot, "r", cfg.FSRoot, "root directory of the fs backend")
	fs.StringVar(&cfg.S3Bucket, "bucket", cfg.S3Bucket, "S3 bucket")
	fs.StringVar(&cfg.S3Region, "region", cfg.S3Region, "S3 region")
	fs.StringVar(&cfg.S3Endpoint, "endpoint", cfg.S3Endpoint, "S3-compatible endpoint")
	fs.StringVar(&cfg.S3AccessKey, "access-key", cfg.S3AccessKey, "S3 access key")
	fs.StringVar(&cfg.S3SecretKey, "secret-key", cfg.S3SecretKey, "S3 secret key")
	fs.DurationVar(&cfg.SyncInterval, "s", cfg.SyncInterval, "background sync interval")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "additional log file")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "metrics listen address, empty to disable")

	return fs.Parse(flagx.FilterArgs(args, knownFlags))
}
