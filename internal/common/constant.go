package common

import "time"

// Content types used for objects written to the remote store.
const (
	ContentTypeCSV     = "text/csv"
	ContentTypeJSON    = "application/json"
	ContentTypeText    = "text/plain"
	ContentTypeBinary  = "application/octet-stream"
	ContentTypeJPEG    = "image/jpeg"
	DefaultMaxRetries  = 3
	DefaultChunkSize   = 1 << 20
	DefaultPrefixBytes = 64 << 10
)

const (
	DefaultSyncInterval   = 15 * time.Minute
	DefaultRetryBaseDelay = 200 * time.Millisecond
	DefaultHashCacheSize  = 4096
)
