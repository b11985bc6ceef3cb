package cryptox

import (
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dmitrijs2005/photocatalog/internal/metrics"
)

// Memo remembers content hashes of items already read, keyed by a
// fingerprint of identity, size and modification time. Any change to the
// item produces a different fingerprint, so stale hashes are never served.
type Memo struct {
	cache *expirable.LRU[string, string]
}

// NewMemo creates a memo holding up to size fingerprints for ttl.
// A zero ttl keeps entries until evicted.
func NewMemo(size int, ttl time.Duration) *Memo {
	if size <= 0 {
		size = 1
	}
	return &Memo{cache: expirable.NewLRU[string, string](size, nil, ttl)}
}

// Fingerprint builds a memo key.
func Fingerprint(id string, size int64, modified time.Time) string {
	return id + "|" + strconv.FormatInt(size, 10) + "|" + strconv.FormatInt(modified.UnixNano(), 10)
}

func (m *Memo) Get(fingerprint string) (string, bool) {
	h, ok := m.cache.Get(fingerprint)
	if ok {
		metrics.HashMemoLookups.WithLabelValues("hit").Inc()
		return h, true
	}
	metrics.HashMemoLookups.WithLabelValues("miss").Inc()
	return "", false
}

func (m *Memo) Put(fingerprint, hash string) {
	m.cache.Add(fingerprint, hash)
}

func (m *Memo) Forget(fingerprint string) {
	m.cache.Remove(fingerprint)
}

func (m *Memo) Len() int {
	return m.cache.Len()
}
