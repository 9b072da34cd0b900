// Package mempool implements the durable, ordered queue of pending signed
// audits described in spec §4.1. It is a direct port of the reference
// prototype's MempoolManager (original_source/src/mempool_manager.cpp):
// one mutex guards every public operation, entries are one JSON-encoded
// Audit per line, and RemoveBatch rewrites the whole file under the same lock.
package mempool

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/inconshreveable/log15"

	"github.com/ibizsoftware/auditledger/audit"
)

const seenCacheSize = 4096

// Mempool is a thread-safe, file-backed queue of pending audits.
type Mempool struct {
	mu   sync.Mutex
	path string
	log  log.Logger

	// seen is a bounded LRU of recently appended/gossiped req_ids. It is
	// a fast-path optimization only (spec §4.1: de-duplication by
	// req_id is not guaranteed by the mempool itself); RemoveBatch and
	// LoadAll remain the source of truth.
	seen *lru.Cache
}

// New opens (without yet loading) the mempool file at path.
func New(path string) *Mempool {
	cache, err := lru.New(seenCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// seenCacheSize never is.
		panic(err)
	}
	return &Mempool{
		path: path,
		log:  log.New("component", "mempool"),
		seen: cache,
	}
}

// Append serializes a with encoding/json (the full record, signature and
// public key included) and appends it to the mempool file. I/O failures are logged and otherwise swallowed: a dropped audit
// is recoverable via client retry or gossip re-delivery, and must never
// bring a replica down (spec §7).
func (m *Mempool) Append(a audit.Audit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		m.log.Error("failed to open mempool file for append", "path", m.path, "err", err)
		return
	}
	defer f.Close()

	line, err := json.Marshal(a)
	if err != nil {
		m.log.Error("failed to marshal audit", "req_id", a.ReqID, "err", err)
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		m.log.Error("failed to append audit", "req_id", a.ReqID, "err", err)
		return
	}
	m.seen.Add(a.ReqID, struct{}{})
}

// Seen reports whether req_id has passed through Append recently. It is a
// best-effort hint, not an authority: the cache is bounded, so a req_id
// evicted from it reports false. A true result is exact, and the replica's
// SubmitAudit/WhisperAuditRequest reject such an audit as a duplicate.
func (m *Mempool) Seen(reqID string) bool {
	return m.seen.Contains(reqID)
}

// LoadAll reads the mempool file top to bottom. Malformed lines are
// skipped with a warning, never fatal.
func (m *Mempool) LoadAll() []audit.Audit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadAllLocked()
}

func (m *Mempool) loadAllLocked() []audit.Audit {
	f, err := os.Open(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.log.Error("failed to open mempool file for read", "path", m.path, "err", err)
		}
		return nil
	}
	defer f.Close()

	var out []audit.Audit
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var a audit.Audit
		if err := json.Unmarshal(line, &a); err != nil {
			m.log.Warn("skipping malformed mempool line", "err", err)
			continue
		}
		out = append(out, a)
	}
	if err := sc.Err(); err != nil {
		m.log.Error("error scanning mempool file", "err", err)
	}
	return out
}

// RemoveBatch atomically rewrites the mempool file, omitting every audit
// whose req_id is in ids. The whole operation holds the mempool lock
// throughout, satisfying the crash-stop model's durability requirement
// (spec §4.1) without needing a write-new-then-rename dance.
func (m *Mempool) RemoveBatch(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(ids) == 0 {
		return
	}
	remove := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		remove[id] = struct{}{}
	}

	keep := m.loadAllLocked()
	kept := keep[:0]
	for _, a := range keep {
		if _, drop := remove[a.ReqID]; !drop {
			kept = append(kept, a)
		}
	}

	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		m.log.Error("failed to reopen mempool file for rewrite", "path", m.path, "err", err)
		return
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, a := range kept {
		line, err := json.Marshal(a)
		if err != nil {
			m.log.Error("failed to marshal audit during rewrite", "req_id", a.ReqID, "err", err)
			continue
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			m.log.Error("failed to write audit during rewrite", "req_id", a.ReqID, "err", err)
			continue
		}
	}
	if err := w.Flush(); err != nil {
		m.log.Error("failed to flush mempool rewrite", "err", err)
	}
}
