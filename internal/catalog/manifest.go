package catalog

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/photocatalog/internal/common"
	"github.com/dmitrijs2005/photocatalog/internal/cryptox"
)

// ManifestVersion is the only manifest format this package reads and writes.
const ManifestVersion = 1

// Manifest lists the checksum of every shard keyed by shard hex.
type Manifest struct {
	Version int               `json:"version"`
	Shards  map[string]string `json:"shards"`
}

// NewManifest builds a manifest from per-shard checksums.
func NewManifest(checksums [ShardCount]string) *Manifest {
	m := &Manifest{Version: ManifestVersion, Shards: make(map[string]string, ShardCount)}
	for i, sum := range checksums {
		m.Shards[ShardHex(i)] = sum
	}
	return m
}

// EmptyManifest describes a catalog with no starred entries.
func EmptyManifest() *Manifest {
	var sums [ShardCount]string
	empty := EmptyShardChecksum()
	for i := range sums {
		sums[i] = empty
	}
	return NewManifest(sums)
}

// Checksum returns the declared checksum of shard id.
func (m *Manifest) Checksum(id int) string {
	return m.Shards[ShardHex(id)]
}

// Checksums returns all declared checksums indexed by shard id.
func (m *Manifest) Checksums() [ShardCount]string {
	var out [ShardCount]string
	for i := range out {
		out[i] = m.Checksum(i)
	}
	return out
}

// EncodeManifest serializes m. Map keys are emitted sorted, so the output
// is deterministic.
func EncodeManifest(m *Manifest) ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return b, nil
}

// DecodeManifest parses and validates a manifest.
func DecodeManifest(b []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: decode manifest: %v", common.ErrIntegrity, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if m.Version != ManifestVersion {
		return fmt.Errorf("%w: unsupported manifest version %d", common.ErrIntegrity, m.Version)
	}
	if len(m.Shards) != ShardCount {
		return fmt.Errorf("%w: manifest lists %d shards", common.ErrIntegrity, len(m.Shards))
	}
	for i := 0; i < ShardCount; i++ {
		sum, ok := m.Shards[ShardHex(i)]
		if !ok {
			return fmt.Errorf("%w: manifest misses shard %s", common.ErrIntegrity, ShardHex(i))
		}
		if !isSHA256Hex(sum) {
			return fmt.Errorf("%w: bad checksum for shard %s", common.ErrIntegrity, ShardHex(i))
		}
	}
	return nil
}

// ManifestIdentity names a serialized manifest in remote keys and in the
// version pointer.
func ManifestIdentity(b []byte) string {
	return cryptox.Checksum(b)
}

// EncodePointer returns the body of the version pointer object.
func EncodePointer(identity string) []byte {
	return []byte(identity + "\n")
}

// DecodePointer extracts the manifest identity from a pointer body.
func DecodePointer(b []byte) (string, error) {
	id := strings.TrimSpace(string(b))
	if !isSHA256Hex(id) {
		return "", fmt.Errorf("%w: malformed version pointer", common.ErrIntegrity)
	}
	return id, nil
}

func isSHA256Hex(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
