package objstore

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "photocatalog",
		Subsystem: "objstore",
		Name:      "requests_total",
		Help:      "Object store calls by operation, key class and outcome.",
	}, []string{"op", "class", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "photocatalog",
		Subsystem: "objstore",
		Name:      "request_duration_seconds",
		Help:      "Object store call latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
)

// Key classes reported by Instrumented.
const (
	ClassPointer   = "pointer"
	ClassManifest  = "manifest"
	ClassShard     = "shard"
	ClassPhoto     = "photo"
	ClassThumbnail = "thumbnail"
	ClassOther     = "other"
)

// KeyClass buckets an object key by the role it plays in the remote layout.
func KeyClass(key string) string {
	switch {
	case strings.HasPrefix(key, "photos/"):
		return ClassPhoto
	case strings.HasPrefix(key, "thumbnails/"):
		return ClassThumbnail
	case strings.HasPrefix(key, "catalogs/"):
		base := key[strings.LastIndex(key, "/")+1:]
		switch {
		case base == "pointer":
			return ClassPointer
		case strings.HasPrefix(base, "manifest."):
			return ClassManifest
		case strings.HasSuffix(base, ".csv"):
			return ClassShard
		}
	}
	return ClassOther
}

// Instrumented records every call in Prometheus and keeps per-process
// counters that can be read back with Calls.
type Instrumented struct {
	next Store

	mu    sync.Mutex
	calls map[string]int
}

func NewInstrumented(next Store) *Instrumented {
	return &Instrumented{next: next, calls: make(map[string]int)}
}

func (s *Instrumented) record(op, key string, start time.Time, err error) {
	class := KeyClass(key)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	requestsTotal.WithLabelValues(op, class, outcome).Inc()
	requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	s.mu.Lock()
	s.calls[op+":"+class]++
	s.mu.Unlock()
}

// Calls returns how many op calls ("head", "get", "put", "delete") hit keys
// of class.
func (s *Instrumented) Calls(op, class string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op+":"+class]
}

// Reset zeroes the counters returned by Calls.
func (s *Instrumented) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]int)
}

func (s *Instrumented) Head(ctx context.Context, key string) (ObjectInfo, error) {
	start := time.Now()
	info, err := s.next.Head(ctx, key)
	s.record("head", key, start, err)
	return info, err
}

func (s *Instrumented) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	start := time.Now()
	rc, info, err := s.next.Get(ctx, key)
	s.record("get", key, start, err)
	return rc, info, err
}

func (s *Instrumented) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (ObjectInfo, error) {
	start := time.Now()
	info, err := s.next.Put(ctx, key, body, size, contentType)
	s.record("put", key, start, err)
	return info, err
}

func (s *Instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.next.Delete(ctx, key)
	s.record("delete", key, start, err)
	return err
}
