// Package peertable is the liveness view every replica keeps of its
// peers (spec §4, §4.5), ported from the reference prototype's
// HeartbeatTable: one mutex guards a map keyed by the peer's self-reported
// address; entries are created on first heartbeat and never erased, only
// marked dead on sweep.
package peertable

import (
	"sync"
	"time"
)

// Entry is the liveness and state snapshot last reported by one peer.
type Entry struct {
	FromAddress    string
	ClaimedLeader  string
	LatestBlockID  int64
	MempoolSize    int64
	LastSeen       time.Time
	Alive          bool
}

// PeerTable tracks the most recently reported state of every peer this
// replica has heard from.
type PeerTable struct {
	mu      sync.Mutex
	entries map[string]*Entry
	timeout time.Duration
	now     func() time.Time
}

// New creates an empty table. timeout is the peer_timeout of spec §4.5:
// a peer not heard from in longer than timeout is marked dead on Sweep.
func New(timeout time.Duration) *PeerTable {
	return &PeerTable{
		entries: make(map[string]*Entry),
		timeout: timeout,
		now:     time.Now,
	}
}

// Update records a heartbeat (or local self-snapshot) from fromAddress.
func (pt *PeerTable) Update(fromAddress, claimedLeader string, latestBlockID, mempoolSize int64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.entries[fromAddress] = &Entry{
		FromAddress:   fromAddress,
		ClaimedLeader: claimedLeader,
		LatestBlockID: latestBlockID,
		MempoolSize:   mempoolSize,
		LastSeen:      pt.now(),
		Alive:         true,
	}
}

// Sweep marks every entry whose LastSeen is older than the configured
// timeout as dead. Entries are never removed, so staleness stays
// observable (spec §3 Lifecycles).
func (pt *PeerTable) Sweep() {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	cutoff := pt.now().Add(-pt.timeout)
	for _, e := range pt.entries {
		if e.LastSeen.Before(cutoff) {
			e.Alive = false
		}
	}
}

// All returns a snapshot of every known peer entry.
func (pt *PeerTable) All() []Entry {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	out := make([]Entry, 0, len(pt.entries))
	for _, e := range pt.entries {
		out = append(out, *e)
	}
	return out
}

// Get returns the entry for address, if any.
func (pt *PeerTable) Get(address string) (Entry, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, ok := pt.entries[address]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}
