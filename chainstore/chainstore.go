// Package chainstore is the persistent, in-memory-indexed ledger of
// committed block metadata (spec §4.2), ported from the reference
// prototype's ChainManager (original_source/src/chain_manager.cpp): a
// single mutex guards an in-memory slice of BlockMeta, and Append rewrites
// chain.json as a whole on every commit.
package chainstore

import (
	"encoding/json"
	"hash/fnv"
	"os"
	"sync"

	bloomfilter "github.com/holiman/bloomfilter/v2"
	log "github.com/inconshreveable/log15"

	"github.com/ibizsoftware/auditledger/audit"
)

// expectedReqIDs sizes the committed-req_id bloom filter; a generous
// over-estimate keeps the false-positive rate low across a long-running
// replica without needing to resize.
const expectedReqIDs = 1 << 20

// falsePositiveRate is the target false-positive rate of the committed
// filter. It is consulted only as a cheap pre-check (see MaybeCommitted); a
// false positive merely costs one extra authoritative scan.
const falsePositiveRate = 1e-4

// ChainStore holds the authoritative, ordered sequence of committed block
// metadata for one replica.
type ChainStore struct {
	mu     sync.Mutex
	path   string
	blocks []audit.Meta
	log    log.Logger

	// committed is a bloom filter over the req_ids of every block
	// appended through this ChainStore, maintained alongside blocks. It
	// lets SubmitAudit and WhisperAuditRequest short-circuit the common
	// case of "definitely not committed" in O(1) instead of scanning
	// every block's audits (spec invariant I4); a positive hit still
	// requires the caller to confirm against the authoritative per-block
	// audit lists, since ChainStore.blocks only carries BlockMeta, not
	// audits. The filter is held in memory only: New starts it empty and
	// does not add the req_ids of blocks loaded from chain.json.
	committed *bloomfilter.Filter
}

// New loads path if it exists. A missing file yields an empty chain; a
// corrupt file yields an empty chain plus a logged error (spec §4.2,
// §7): chain corruption is never fatal to starting the server.
func New(path string) *ChainStore {
	filter, err := bloomfilter.NewOptimal(expectedReqIDs, falsePositiveRate)
	if err != nil {
		// Only fails for a degenerate (n=0 or p<=0) configuration,
		// which the constants above never produce.
		panic(err)
	}
	cs := &ChainStore{
		path:      path,
		log:       log.New("component", "chainstore"),
		committed: filter,
	}
	cs.loadFromDisk()
	return cs
}

func (cs *ChainStore) loadFromDisk() {
	data, err := os.ReadFile(cs.path)
	if err != nil {
		if !os.IsNotExist(err) {
			cs.log.Error("failed to read chain file", "path", cs.path, "err", err)
		}
		return
	}
	var blocks []audit.Meta
	if err := json.Unmarshal(data, &blocks); err != nil {
		cs.log.Error("failed to parse chain file, starting from empty chain", "path", cs.path, "err", err)
		return
	}
	cs.blocks = blocks
}

// markCommitted records reqIDs in the committed-set bloom filter. Callers
// hold cs.mu.
func (cs *ChainStore) markCommitted(reqIDs []string) {
	for _, id := range reqIDs {
		h := fnv.New64a()
		h.Write([]byte(id))
		cs.committed.Add(h)
	}
}

// MaybeCommitted reports whether reqID might already be committed to this
// chain. false means reqID is in no block appended since New (blocks
// loaded from chain.json are not covered); true is a hint that warrants a
// precise check against the relevant block's audits.
func (cs *ChainStore) MaybeCommitted(reqID string) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	h := fnv.New64a()
	h.Write([]byte(reqID))
	return cs.committed.Contains(h)
}

func (cs *ChainStore) writeToDisk() {
	data, err := json.MarshalIndent(cs.blocks, "", "  ")
	if err != nil {
		cs.log.Error("failed to marshal chain", "err", err)
		return
	}
	if err := os.WriteFile(cs.path, data, 0o644); err != nil {
		cs.log.Error("failed to write chain file", "path", cs.path, "err", err)
	}
}

// GetLastID returns the highest committed block id, or 0 if the chain is
// empty.
func (cs *ChainStore) GetLastID() int64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.blocks) == 0 {
		return 0
	}
	return cs.blocks[len(cs.blocks)-1].ID
}

// GetLastHash returns the hash of the last committed block, or "" if the
// chain is empty (also the previous_hash a genesis block must carry).
func (cs *ChainStore) GetLastHash() string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.blocks) == 0 {
		return ""
	}
	return cs.blocks[len(cs.blocks)-1].Hash
}

// GetLastMerkleRoot returns the Merkle root of the last committed block,
// or "" if the chain is empty.
func (cs *ChainStore) GetLastMerkleRoot() string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.blocks) == 0 {
		return ""
	}
	return cs.blocks[len(cs.blocks)-1].MerkleRoot
}

// GetAll returns a copy of every committed BlockMeta, in id order.
func (cs *ChainStore) GetAll() []audit.Meta {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]audit.Meta, len(cs.blocks))
	copy(out, cs.blocks)
	return out
}

// Append commits meta: it is pushed onto the in-memory slice and the
// chain file is rewritten before the lock is released, so a reader that
// observes the new length has also observed it durably on disk (spec
// §4.2, §5 ordering guarantees).
func (cs *ChainStore) Append(meta audit.Meta, reqIDs []string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.blocks = append(cs.blocks, meta)
	cs.markCommitted(reqIDs)
	cs.writeToDisk()
}
