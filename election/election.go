// Package election holds process-wide leader state and the driver that
// solicits votes and declares leadership when the incumbent is observed
// dead (spec §4.4 TriggerElection/NotifyLeadership, §4.6 ElectionDriver).
//
// The reference prototype (original_source/src/election_manager.cpp)
// leaves ElectionState.term unused and never consults voted_for, so two
// concurrent candidates could both win a stale "election" in the same
// window. Spec §9 flags this and explicitly says not to guess silently;
// this package takes the hardening path it describes: TriggerElection
// only grants a vote once per term, term is incremented by the candidate
// before soliciting, and a vote is granted to a later term unconditionally
// (see DESIGN.md, "Open Question decisions").
package election

import (
	"context"
	"sync"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/ibizsoftware/auditledger/peertable"
	"github.com/ibizsoftware/auditledger/rpc"
)

// State is the process-wide {term, voted_for, current_leader} triple
// (spec §3 data model, invariant I6/I7).
type State struct {
	mu            sync.Mutex
	term          int64
	votedFor      string
	currentLeader string
}

// NewState returns a fresh, unled, term-0 election state.
func NewState() *State {
	return &State{}
}

// Leader returns the replica currently believed to be leader, or "".
func (s *State) Leader() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLeader
}

// SetLeader unconditionally sets the current leader, the effect of
// NotifyLeadership (spec §4.4) and of winning an election locally.
func (s *State) SetLeader(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentLeader = addr
}

// Term returns the current term.
func (s *State) Term() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term
}

// BeginCandidacy increments the term and votes for self, returning the new
// term to campaign under. Invariant I6 ("at most once per term") holds
// trivially here since the term is freshly incremented.
func (s *State) BeginCandidacy(self string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term++
	s.votedFor = self
	return s.term
}

// Vote applies the receiver side of TriggerElection(candidate, term): it
// grants a vote at most once per term (invariant I6). A strictly higher
// term always wins and resets voted_for to the new candidate; an equal
// term grants a vote only if this replica has not yet voted, or already
// voted for the same candidate (idempotent retries).
func (s *State) Vote(candidate string, term int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if term > s.term {
		s.term = term
		s.votedFor = candidate
		return true
	}
	if term == s.term && (s.votedFor == "" || s.votedFor == candidate) {
		s.votedFor = candidate
		return true
	}
	return false
}

// Config parameterizes the election driver.
type Config struct {
	SelfAddress     string
	BootstrapDelay  time.Duration // default 30s, spec §4.6
	Interval        time.Duration // default 2s
	VoteDeadline    time.Duration // default 1s
	NotifyDeadline  time.Duration // default 1s
}

// DefaultConfig returns the spec-mandated defaults for selfAddress.
func DefaultConfig(selfAddress string) Config {
	return Config{
		SelfAddress:    selfAddress,
		BootstrapDelay: 30 * time.Second,
		Interval:       2 * time.Second,
		VoteDeadline:   1 * time.Second,
		NotifyDeadline: 1 * time.Second,
	}
}

// Driver runs the periodic leader-loss detection and election loop of
// spec §4.6.
type Driver struct {
	cfg   Config
	state *State
	peers []rpc.Peer
	table *peertable.PeerTable
	log   log.Logger

	stop chan struct{}
	done chan struct{}
}

// NewDriver builds an election driver over the given peer set.
func NewDriver(cfg Config, state *State, peers []rpc.Peer, table *peertable.PeerTable) *Driver {
	return &Driver{
		cfg:   cfg,
		state: state,
		peers: peers,
		table: table,
		log:   log.New("component", "election"),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start runs the driver loop in its own goroutine.
func (d *Driver) Start() {
	go d.run()
}

// Stop signals the loop to exit and waits for it to do so (spec §5:
// "shutdown is cooperative ... joins the thread").
func (d *Driver) Stop() {
	close(d.stop)
	<-d.done
}

func (d *Driver) run() {
	defer close(d.done)

	select {
	case <-time.After(d.cfg.BootstrapDelay):
	case <-d.stop:
		return
	}

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		d.tick()
		select {
		case <-ticker.C:
		case <-d.stop:
			return
		}
	}
}

func (d *Driver) tick() {
	d.table.Sweep()

	if !d.needElection() {
		return
	}

	d.log.Info("triggering election")
	term := d.state.BeginCandidacy(d.cfg.SelfAddress)

	votes := 1 // self-vote
	for _, p := range d.peers {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.VoteDeadline)
		vote, err := p.Client.TriggerElection(ctx, term, d.cfg.SelfAddress)
		cancel()
		if err != nil {
			d.log.Info("no vote from peer", "peer", p.Address, "err", err)
			continue
		}
		if vote {
			votes++
			d.log.Info("got vote from peer", "peer", p.Address)
		}
	}

	majority := len(d.peers)/2 + 1
	if votes < majority {
		d.log.Info("lost election", "votes", votes, "need", majority)
		return
	}

	d.state.SetLeader(d.cfg.SelfAddress)
	d.log.Info("won election", "leader", d.cfg.SelfAddress, "term", term)

	for _, p := range d.peers {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.NotifyDeadline)
		err := p.Client.NotifyLeadership(ctx, d.cfg.SelfAddress)
		cancel()
		if err != nil {
			d.log.Warn("notify leadership failed", "peer", p.Address, "err", err)
		}
	}
}

// needElection implements spec §4.6 step 2: an election is needed when
// there is no known leader, or the PeerEntry for the current leader
// exists and is marked dead.
func (d *Driver) needElection() bool {
	leader := d.state.Leader()
	if leader == "" {
		return true
	}
	entry, ok := d.table.Get(leader)
	return ok && !entry.Alive
}
