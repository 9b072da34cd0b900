// Package server wires the ledger subsystems (mempool, chainstore,
// peertable, election state, artifact store) into the two RPC backends
// the transport dispatches to, and owns the lifecycle of the three
// background drivers (scheduler, heartbeat, election). Grounded on
// original_source/src/server.cpp, which plays the same role for the
// reference prototype's FileAuditServiceImpl/BlockChainServiceImpl.
package server

import (
	"context"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/ibizsoftware/auditledger/artifact"
	"github.com/ibizsoftware/auditledger/audit"
	"github.com/ibizsoftware/auditledger/canonical"
	"github.com/ibizsoftware/auditledger/chainstore"
	"github.com/ibizsoftware/auditledger/election"
	"github.com/ibizsoftware/auditledger/heartbeat"
	"github.com/ibizsoftware/auditledger/mempool"
	"github.com/ibizsoftware/auditledger/merkle"
	"github.com/ibizsoftware/auditledger/peertable"
	"github.com/ibizsoftware/auditledger/rpc"
	"github.com/ibizsoftware/auditledger/scheduler"
	"github.com/ibizsoftware/auditledger/sign"
)

// Replica bundles every subsystem for one ledger node and implements both
// rpc.AuditBackend and rpc.BlockChainBackend over them.
type Replica struct {
	selfAddress string
	mempool     *mempool.Mempool
	chain       *chainstore.ChainStore
	table       *peertable.PeerTable
	election    *election.State
	artifact    *artifact.Store
	peers       []rpc.Peer
	log         log.Logger

	scheduler       *scheduler.Scheduler
	heartbeatDriver *heartbeat.Driver
	electionDriver  *election.Driver
}

// New builds a Replica and the drivers it owns. schedCfg parameterizes
// the block scheduler (batch_size/batch_interval_s come from
// config.LeaderConfig); hbCfg and elCfg are normally
// heartbeat.DefaultConfig and election.DefaultConfig for selfAddress, and
// New uses them as given.
func New(selfAddress string, mp *mempool.Mempool, chain *chainstore.ChainStore, table *peertable.PeerTable, state *election.State, store *artifact.Store, peers []rpc.Peer, schedCfg scheduler.Config, hbCfg heartbeat.Config, elCfg election.Config) *Replica {
	r := &Replica{
		selfAddress: selfAddress,
		mempool:     mp,
		chain:       chain,
		table:       table,
		election:    state,
		artifact:    store,
		peers:       peers,
		log:         log.New("component", "replica", "address", selfAddress),
	}
	r.scheduler = scheduler.NewScheduler(schedCfg, mp, chain, store, peers, r.IsLeader)
	r.heartbeatDriver = heartbeat.NewDriver(hbCfg, state, chain, mp, table, store, peers)
	r.electionDriver = election.NewDriver(elCfg, state, peers, table)
	return r
}

// IsLeader reports whether this replica currently believes itself leader.
func (r *Replica) IsLeader() bool {
	return r.election.Leader() == r.selfAddress
}

// Start launches the scheduler, heartbeat, and election drivers.
func (r *Replica) Start() {
	r.scheduler.Start()
	r.heartbeatDriver.Start()
	r.electionDriver.Start()
}

// Stop joins all three driver goroutines (spec §5: cooperative shutdown).
func (r *Replica) Stop() {
	r.scheduler.Stop()
	r.heartbeatDriver.Stop()
	r.electionDriver.Stop()
}

// SubmitAudit implements rpc.AuditBackend: the entry point a client's
// signed audit event reaches on whichever replica it was sent to (spec
// §4.1). A bad signature or a request this replica has already seen is
// rejected without mutating the mempool; otherwise the audit is appended
// locally and gossiped once to every peer.
func (r *Replica) SubmitAudit(a audit.Audit) (reqID, status string) {
	if a.ReqID == "" {
		return "", "missing_req_id"
	}
	if !sign.Verify(canonical.Payload(a), a.Signature, a.PublicKey) {
		r.log.Warn("rejecting audit, bad signature", "req_id", a.ReqID)
		return a.ReqID, "invalid_signature"
	}
	if r.mempool.Seen(a.ReqID) || r.committed(a.ReqID) {
		return a.ReqID, "duplicate"
	}

	r.mempool.Append(a)
	r.gossip(a)
	return a.ReqID, "success"
}

// WhisperAuditRequest implements rpc.BlockChainBackend: the gossip
// dissemination endpoint a peer calls to hand this replica an audit it
// already accepted (spec §4.2). It is not re-gossiped further; the static
// full-mesh peer set means one hop from the submitting replica already
// reaches everyone.
func (r *Replica) WhisperAuditRequest(a audit.Audit) (status string) {
	if !sign.Verify(canonical.Payload(a), a.Signature, a.PublicKey) {
		r.log.Warn("rejecting whispered audit, bad signature", "req_id", a.ReqID)
		return "invalid_signature"
	}
	if r.mempool.Seen(a.ReqID) || r.committed(a.ReqID) {
		return "duplicate"
	}
	r.mempool.Append(a)
	return "success"
}

// committed reports whether reqID is in a committed block: the chain's
// bloom filter rules it out cheaply, and a possible hit is confirmed
// against the audits of each stored block artifact.
func (r *Replica) committed(reqID string) bool {
	if !r.chain.MaybeCommitted(reqID) {
		return false
	}
	for _, m := range r.chain.GetAll() {
		if b, ok := r.artifact.Read(m.ID); ok {
			for _, a := range b.Audits {
				if a.ReqID == reqID {
					return true
				}
			}
		}
	}
	return false
}

func (r *Replica) gossip(a audit.Audit) {
	for _, p := range r.peers {
		go func(p rpc.Peer) {
			ctx, cancel := context.WithTimeout(context.Background(), gossipDeadline)
			defer cancel()
			status, err := p.Client.WhisperAuditRequest(ctx, a)
			if err != nil || status != "success" {
				r.log.Info("gossip to peer failed", "peer", p.Address, "req_id", a.ReqID, "status", status, "err", err)
			}
		}(p)
	}
}

const gossipDeadline = 200 * time.Millisecond

// ProposeBlock implements rpc.BlockChainBackend: a follower validates a
// candidate block's Merkle root, previous-hash linkage, and every audit
// signature before voting yes (spec §4.4 step 1-3, §7 rejection reasons).
func (r *Replica) ProposeBlock(b audit.Block) (vote bool, status, errMsg string) {
	leaves := make([]string, len(b.Audits))
	for i, a := range b.Audits {
		leaves[i] = merkle.SHA256Hex(canonical.Payload(a))
	}
	if merkle.Root(leaves) != b.MerkleRoot {
		return false, "rejected", "bad merkle_root"
	}
	if b.PreviousHash != r.chain.GetLastHash() {
		return false, "rejected", "bad previous_hash"
	}
	for _, a := range b.Audits {
		if !sign.Verify(canonical.Payload(a), a.Signature, a.PublicKey) {
			return false, "rejected", "invalid_signature"
		}
	}
	return true, "success", ""
}

// CommitBlock implements rpc.BlockChainBackend: append the already-
// proposed block locally, prune the committed audits from the mempool,
// and persist the block artifact (spec §4.3 step 9-10).
func (r *Replica) CommitBlock(b audit.Block) (status, errMsg string) {
	r.chain.Append(b.Meta(), b.ReqIDs())
	if err := r.artifact.Write(b); err != nil {
		r.log.Error("failed to write committed block artifact", "id", b.ID, "err", err)
		return "error", err.Error()
	}
	r.mempool.RemoveBatch(b.ReqIDs())
	return "success", ""
}

// GetBlock implements rpc.BlockChainBackend, serving ChainSync fetches
// (spec §4.5) from the artifact store.
func (r *Replica) GetBlock(id int64) (b audit.Block, status, errMsg string) {
	block, ok := r.artifact.Read(id)
	if !ok {
		return audit.Block{}, "failure", "no such block"
	}
	return block, "success", ""
}

// SendHeartbeat implements rpc.BlockChainBackend: record the sender's
// advertised state in the peer table (spec §4.5).
func (r *Replica) SendHeartbeat(req rpc.HeartbeatRequest) {
	r.table.Update(req.FromAddress, req.Leader, req.LatestBlockID, req.MempoolSize)
}

// TriggerElection implements rpc.BlockChainBackend: the receiver side of
// a candidacy solicitation (spec §4.4, §4.6).
func (r *Replica) TriggerElection(term int64, address string) (vote bool) {
	return r.election.Vote(address, term)
}

// NotifyLeadership implements rpc.BlockChainBackend: unconditionally
// adopt the announced leader (spec §4.4).
func (r *Replica) NotifyLeadership(address string) {
	r.election.SetLeader(address)
}
