package catalog

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/dmitrijs2005/photocatalog/internal/common"
	"github.com/dmitrijs2005/photocatalog/internal/models"
)

// Sharding is a persisted format: every remote catalog was partitioned with
// these values, so they must not change.
const (
	ShardCount  = 16
	NibbleCount = 1
	HashLength  = 32
)

// ValidateContentHash checks that hash is 32 lowercase hex characters.
func ValidateContentHash(hash string) error {
	if len(hash) != HashLength {
		return fmt.Errorf("%w: %q has length %d", common.ErrInvalidContentHash, hash, len(hash))
	}
	for i := 0; i < len(hash); i++ {
		c := hash[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("%w: %q", common.ErrInvalidContentHash, hash)
		}
	}
	return nil
}

// ShardFor maps a content hash to its shard: the leading NibbleCount hex
// digits, modulo ShardCount.
func ShardFor(hash string) (int, error) {
	if err := ValidateContentHash(hash); err != nil {
		return 0, err
	}
	prefix, err := strconv.ParseUint(hash[:NibbleCount], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", common.ErrInvalidContentHash, hash)
	}
	return int(prefix % ShardCount), nil
}

// ShardHex is the shard's name in remote keys and local file names.
func ShardHex(id int) string {
	return strconv.FormatInt(int64(id), 16)
}

// ParseShardHex is the inverse of ShardHex.
func ParseShardHex(s string) (int, error) {
	id, err := strconv.ParseInt(s, 16, 64)
	if err != nil || id < 0 || id >= ShardCount || ShardHex(int(id)) != s {
		return 0, fmt.Errorf("%w: %q", common.ErrShardNotFound, s)
	}
	return int(id), nil
}

func checkShardID(id int) error {
	if id < 0 || id >= ShardCount {
		return fmt.Errorf("%w: %d", common.ErrShardNotFound, id)
	}
	return nil
}

// ShardState is the persisted bookkeeping of one shard.
type ShardState struct {
	ID             int
	PhotoCount     int
	IsModified     bool
	RemoteChecksum string
}

// ShardSnapshot is a consistent copy of a shard taken under the catalog lock.
// Generation identifies the mutation state the copy was taken at.
type ShardSnapshot struct {
	State      ShardState
	Entries    []models.PhotoEntry
	Generation uint64
}

type shard struct {
	state      ShardState
	entries    map[string]models.PhotoEntry
	generation uint64
}

func newShard(id int) *shard {
	return &shard{
		state:   ShardState{ID: id},
		entries: make(map[string]models.PhotoEntry),
	}
}

func (s *shard) snapshot() ShardSnapshot {
	out := make([]models.PhotoEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return ShardSnapshot{State: s.state, Entries: out, Generation: s.generation}
}

func sortEntries(entries []models.PhotoEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].ContentHash < entries[j].ContentHash })
}
