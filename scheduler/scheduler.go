// Package scheduler implements the leader-only two-phase propose-then-
// commit block builder (spec §4.3), ported from the reference prototype's
// BlockScheduler (original_source/src/block_scheduler.cpp): wait for a
// batch, sort deterministically, build the Merkle tree and header hash,
// propose to every peer, commit if all voted yes, then commit locally
// regardless of peer commit-RPC outcomes (spec explicitly accepts this as
// a known weakness; ChainSync is the fallback).
package scheduler

import (
	"context"
	"sort"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/ibizsoftware/auditledger/artifact"
	"github.com/ibizsoftware/auditledger/audit"
	"github.com/ibizsoftware/auditledger/canonical"
	"github.com/ibizsoftware/auditledger/chainstore"
	"github.com/ibizsoftware/auditledger/mempool"
	"github.com/ibizsoftware/auditledger/merkle"
	"github.com/ibizsoftware/auditledger/rpc"
)

// Config parameterizes the scheduler loop.
type Config struct {
	BatchSize       int
	BatchInterval   time.Duration
	ProposeDeadline time.Duration // default 200ms, spec §4.3
	CommitDeadline  time.Duration // default 200ms, spec §4.3
	PollInterval    time.Duration // how often the wait loop re-checks the mempool
}

// DefaultConfig returns spec defaults given the leader.json batch_size/
// batch_interval_s values.
func DefaultConfig(batchSize int, batchIntervalSeconds int) Config {
	return Config{
		BatchSize:       batchSize,
		BatchInterval:   time.Duration(batchIntervalSeconds) * time.Second,
		ProposeDeadline: 200 * time.Millisecond,
		CommitDeadline:  200 * time.Millisecond,
		PollInterval:    100 * time.Millisecond,
	}
}

// Scheduler runs the batching loop. IsLeader is consulted fresh on every
// wakeup (spec §4.3 step 2): the scheduler itself never decides
// leadership.
type Scheduler struct {
	cfg      Config
	mempool  *mempool.Mempool
	chain    *chainstore.ChainStore
	artifact *artifact.Store
	peers    []rpc.Peer
	IsLeader func() bool
	log      log.Logger

	stop chan struct{}
	done chan struct{}
}

// NewScheduler builds a scheduler over the given peer set.
func NewScheduler(cfg Config, mp *mempool.Mempool, chain *chainstore.ChainStore, store *artifact.Store, peers []rpc.Peer, isLeader func() bool) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		mempool:  mp,
		chain:    chain,
		artifact: store,
		peers:    peers,
		IsLeader: isLeader,
		log:      log.New("component", "scheduler"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the scheduler loop in its own goroutine.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop signals the loop to exit and waits for it to do so.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) run() {
	defer close(s.done)
	for {
		if !s.waitForBatch() {
			return
		}
		s.attemptRound()
		select {
		case <-s.stop:
			return
		default:
		}
	}
}

// waitForBatch blocks until either batch_size audits are pending or
// batch_interval has elapsed since this wakeup began, re-checking every
// PollInterval. The interval resets every iteration (spec §9 Open
// Question: "reference resets every iteration; preserve this"). Returns
// false if the scheduler was stopped while waiting.
func (s *Scheduler) waitForBatch() bool {
	start := time.Now()
	for {
		if len(s.mempool.LoadAll()) >= s.cfg.BatchSize {
			return true
		}
		if time.Since(start) >= s.cfg.BatchInterval {
			return true
		}
		select {
		case <-time.After(s.cfg.PollInterval):
		case <-s.stop:
			return false
		}
	}
}

func (s *Scheduler) attemptRound() {
	pending := s.mempool.LoadAll()
	s.log.Info("woke up", "pending", len(pending))

	if len(pending) == 0 {
		s.log.Info("no audits pending, skipping block creation")
		return
	}
	if !s.IsLeader() {
		s.log.Info("not leader, skipping")
		return
	}
	s.log.Info("leader, creating block")
	s.createAndBroadcastBlock(pending)
}

// createAndBroadcastBlock implements spec §4.3 steps 3-10.
func (s *Scheduler) createAndBroadcastBlock(pending []audit.Audit) {
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Timestamp != pending[j].Timestamp {
			return pending[i].Timestamp < pending[j].Timestamp
		}
		return pending[i].ReqID < pending[j].ReqID
	})

	leaves := make([]string, len(pending))
	for i, a := range pending {
		leaves[i] = merkle.SHA256Hex(canonical.Payload(a))
	}
	root := merkle.Root(leaves)

	id := s.chain.GetLastID() + 1
	prevHash := s.chain.GetLastHash()
	header := intToString(id) + prevHash + root + canonical.Concat(pending)
	hash := merkle.SHA256Hex(header)

	block := audit.Block{
		ID:           id,
		PreviousHash: prevHash,
		MerkleRoot:   root,
		Audits:       pending,
		Hash:         hash,
	}

	if !s.proposeToAllPeers(block) {
		s.log.Info("proposal rejected, discarding round", "id", id)
		return
	}

	s.commitToAllPeers(block)

	reqIDs := block.ReqIDs()
	s.chain.Append(block.Meta(), reqIDs)
	s.mempool.RemoveBatch(reqIDs)
	if err := s.artifact.Write(block); err != nil {
		s.log.Error("failed to write block artifact", "id", id, "err", err)
	}
	s.log.Info("committed block", "id", id, "audits", len(pending))
}

// proposeToAllPeers runs the propose phase (spec §4.3 step 8): any
// rejection or failure aborts the round, leaving mempool and chain
// untouched on every replica.
func (s *Scheduler) proposeToAllPeers(block audit.Block) bool {
	for _, p := range s.peers {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProposeDeadline)
		vote, status, errMsg, err := p.Client.ProposeBlock(ctx, block)
		cancel()
		if err != nil {
			s.log.Warn("propose rpc failed", "peer", p.Address, "err", err)
			return false
		}
		if !vote || status != "success" {
			s.log.Warn("proposal rejected", "peer", p.Address, "error", errMsg)
			return false
		}
	}
	return true
}

// commitToAllPeers runs the commit phase (spec §4.3 step 9): failures are
// logged but never retried, and never block the local commit that
// follows.
func (s *Scheduler) commitToAllPeers(block audit.Block) {
	for _, p := range s.peers {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CommitDeadline)
		status, errMsg, err := p.Client.CommitBlock(ctx, block)
		cancel()
		if err != nil {
			s.log.Warn("commit rpc failed", "peer", p.Address, "err", err)
			continue
		}
		if status != "success" {
			s.log.Warn("commit rejected", "peer", p.Address, "error", errMsg)
		}
	}
}

func intToString(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
