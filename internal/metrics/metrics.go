// Package metrics declares the Prometheus collectors shared by the catalog,
// sync engine and upload coordinator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "photocatalog"

// Sync cycle results.
const (
	ResultNoop    = "noop"
	ResultChanged = "changed"
	ResultError   = "error"
)

// Item outcomes.
const (
	OutcomeUploaded = "uploaded"
	OutcomeDeduped  = "deduped"
	OutcomeFailed   = "failed"
)

var (
	SyncCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_cycles_total",
		Help:      "Sync cycles by result.",
	}, []string{"direction", "result"})

	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_duration_seconds",
		Help:      "Duration of pull and push cycles.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"direction"})

	ManifestChecks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "manifest_checks_total",
		Help:      "Metadata-only checks of the remote version pointer.",
	})

	ShardChecks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "shard_checks_total",
		Help:      "Metadata-only checks of remote shard objects.",
	})

	ShardDownloads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "shard_downloads_total",
		Help:      "Shard objects downloaded into staging.",
	})

	ShardUploads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "shard_uploads_total",
		Help:      "Shard objects uploaded.",
	})

	IntegrityFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "integrity_failures_total",
		Help:      "Pulls discarded because a staged shard did not match the manifest.",
	})

	ItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "items_processed_total",
		Help:      "Batch items by outcome.",
	}, []string{"action", "outcome"})

	ContentBytesUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "content_bytes_uploaded_total",
		Help:      "Photo bytes sent to the object store.",
	})

	HashMemoLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hash_memo_lookups_total",
		Help:      "Content hash memo lookups by result.",
	}, []string{"result"})

	IdentityCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "identity_cache_lookups_total",
		Help:      "Identity cache lookups by result.",
	}, []string{"result"})
)
