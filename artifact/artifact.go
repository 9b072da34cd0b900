// Package artifact writes and reads the full per-block JSON file every
// commit produces (spec §6: blocks/block_<id>.json, meta + audits), and
// caches recently-served blocks in memory so the BlockchainRPC GetBlock
// path answering several lagging followers in the same tick doesn't
// re-read and re-marshal the same file repeatedly.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/VictoriaMetrics/fastcache"
	log "github.com/inconshreveable/log15"

	"github.com/ibizsoftware/auditledger/audit"
)

// cacheSizeBytes bounds the in-memory block cache; fastcache rounds this
// up internally and evicts the oldest entries once full.
const cacheSizeBytes = 32 * 1024 * 1024

// Store writes full block artifacts under dir and serves cached reads.
type Store struct {
	dir   string
	cache *fastcache.Cache
	log   log.Logger
}

// New creates a Store rooted at dir, creating dir lazily on first Write.
func New(dir string) *Store {
	return &Store{
		dir:   dir,
		cache: fastcache.New(cacheSizeBytes),
		log:   log.New("component", "artifact"),
	}
}

// Path returns the path block id's artifact is (or will be) written to.
func (s *Store) Path(id int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("block_%d.json", id))
}

// Write persists b's full JSON artifact and primes the read cache with it.
// fastcache does not store entries of 64KB or more, so a block that large
// is served from disk by Read.
func (s *Store) Write(b audit.Block) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("artifact: create dir: %w", err)
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("artifact: marshal block %d: %w", b.ID, err)
	}
	if err := os.WriteFile(s.Path(b.ID), data, 0o644); err != nil {
		return fmt.Errorf("artifact: write block %d: %w", b.ID, err)
	}
	s.cache.Set(cacheKey(b.ID), data)
	return nil
}

// Read returns the full block for id, reading through the cache.
func (s *Store) Read(id int64) (audit.Block, bool) {
	key := cacheKey(id)
	if data, ok := s.cache.HasGet(nil, key); ok {
		var b audit.Block
		if err := json.Unmarshal(data, &b); err == nil {
			return b, true
		}
		s.log.Warn("dropping corrupt cached block artifact", "id", id)
	}

	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		return audit.Block{}, false
	}
	var b audit.Block
	if err := json.Unmarshal(data, &b); err != nil {
		s.log.Error("corrupt block artifact on disk", "id", id, "err", err)
		return audit.Block{}, false
	}
	s.cache.Set(key, data)
	return b, true
}

func cacheKey(id int64) []byte {
	return []byte(fmt.Sprintf("block:%d", id))
}
