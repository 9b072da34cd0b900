package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibizsoftware/auditledger/artifact"
	"github.com/ibizsoftware/auditledger/audit"
	"github.com/ibizsoftware/auditledger/chainstore"
	"github.com/ibizsoftware/auditledger/mempool"
	"github.com/ibizsoftware/auditledger/rpc"
)

type votingClient struct {
	vote         bool
	proposeCalls int
	commitCalls  int
}

func (c *votingClient) WhisperAuditRequest(context.Context, audit.Audit) (string, error) {
	return "success", nil
}
func (c *votingClient) ProposeBlock(context.Context, audit.Block) (bool, string, string, error) {
	c.proposeCalls++
	if c.vote {
		return true, "success", "", nil
	}
	return false, "rejected", "no", nil
}
func (c *votingClient) CommitBlock(context.Context, audit.Block) (string, string, error) {
	c.commitCalls++
	return "success", "", nil
}
func (c *votingClient) GetBlock(context.Context, int64) (audit.Block, string, string, error) {
	return audit.Block{}, "failure", "", nil
}
func (c *votingClient) SendHeartbeat(context.Context, rpc.HeartbeatRequest) error { return nil }
func (c *votingClient) TriggerElection(context.Context, int64, string) (bool, error) {
	return false, nil
}
func (c *votingClient) NotifyLeadership(context.Context, string) error { return nil }

func newHarness(t *testing.T, peerVote bool) (*Scheduler, *mempool.Mempool, *chainstore.ChainStore, *votingClient) {
	t.Helper()
	dir := t.TempDir()
	mp := mempool.New(filepath.Join(dir, "mempool.dat"))
	chain := chainstore.New(filepath.Join(dir, "chain.json"))
	store := artifact.New(filepath.Join(dir, "blocks"))
	client := &votingClient{vote: peerVote}
	peers := []rpc.Peer{{Address: "peer-b", Client: client}}
	cfg := Config{BatchSize: 2, BatchInterval: time.Hour, ProposeDeadline: time.Second, CommitDeadline: time.Second, PollInterval: time.Millisecond}
	s := NewScheduler(cfg, mp, chain, store, peers, func() bool { return true })
	return s, mp, chain, client
}

func TestCreateAndBroadcastBlockCommitsOnUnanimousVote(t *testing.T) {
	s, mp, chain, client := newHarness(t, true)
	mp.Append(audit.Audit{ReqID: "req-2", Timestamp: 2})
	mp.Append(audit.Audit{ReqID: "req-1", Timestamp: 1})

	s.attemptRound()

	assert.Equal(t, 1, client.proposeCalls)
	assert.Equal(t, 1, client.commitCalls)
	assert.Equal(t, int64(1), chain.GetLastID())
	assert.Empty(t, mp.LoadAll(), "committed audits must be pruned from the mempool")
}

func TestCreateAndBroadcastBlockOrdersByTimestampThenReqID(t *testing.T) {
	s, mp, chain, _ := newHarness(t, true)
	mp.Append(audit.Audit{ReqID: "req-b", Timestamp: 1})
	mp.Append(audit.Audit{ReqID: "req-a", Timestamp: 1})

	s.attemptRound()
	require.Equal(t, int64(1), chain.GetLastID())

	b, ok := s.artifact.Read(1)
	require.True(t, ok)
	require.Len(t, b.Audits, 2)
	assert.Equal(t, "req-a", b.Audits[0].ReqID, "equal timestamps must fall back to req_id order")
	assert.Equal(t, "req-b", b.Audits[1].ReqID)
}

func TestRejectedProposalLeavesChainAndMempoolUntouched(t *testing.T) {
	s, mp, chain, client := newHarness(t, false)
	mp.Append(audit.Audit{ReqID: "req-1", Timestamp: 1})

	s.attemptRound()

	assert.Equal(t, 1, client.proposeCalls)
	assert.Equal(t, 0, client.commitCalls)
	assert.Equal(t, int64(0), chain.GetLastID())
	assert.Len(t, mp.LoadAll(), 1, "a rejected proposal must not prune the mempool")
}

func TestAttemptRoundSkipsWhenMempoolEmpty(t *testing.T) {
	s, _, chain, client := newHarness(t, true)
	s.attemptRound()
	assert.Equal(t, 0, client.proposeCalls)
	assert.Equal(t, int64(0), chain.GetLastID())
}

func TestAttemptRoundSkipsWhenNotLeader(t *testing.T) {
	dir := t.TempDir()
	mp := mempool.New(filepath.Join(dir, "mempool.dat"))
	chain := chainstore.New(filepath.Join(dir, "chain.json"))
	store := artifact.New(filepath.Join(dir, "blocks"))
	client := &votingClient{vote: true}
	peers := []rpc.Peer{{Address: "peer-b", Client: client}}
	cfg := Config{BatchSize: 1, BatchInterval: time.Hour, ProposeDeadline: time.Second, CommitDeadline: time.Second, PollInterval: time.Millisecond}
	s := NewScheduler(cfg, mp, chain, store, peers, func() bool { return false })

	mp.Append(audit.Audit{ReqID: "req-1", Timestamp: 1})
	s.attemptRound()

	assert.Equal(t, 0, client.proposeCalls)
	assert.Equal(t, int64(0), chain.GetLastID())
}

func TestWaitForBatchReturnsOnBatchSizeReached(t *testing.T) {
	s, mp, _, _ := newHarness(t, true)
	mp.Append(audit.Audit{ReqID: "req-1", Timestamp: 1})
	mp.Append(audit.Audit{ReqID: "req-2", Timestamp: 2})

	done := make(chan bool, 1)
	go func() { done <- s.waitForBatch() }()

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waitForBatch did not return promptly once batch_size was reached")
	}
}

func TestWaitForBatchReturnsFalseOnStop(t *testing.T) {
	dir := t.TempDir()
	mp := mempool.New(filepath.Join(dir, "mempool.dat"))
	chain := chainstore.New(filepath.Join(dir, "chain.json"))
	store := artifact.New(filepath.Join(dir, "blocks"))
	cfg := Config{BatchSize: 100, BatchInterval: time.Hour, PollInterval: time.Millisecond}
	s := NewScheduler(cfg, mp, chain, store, nil, func() bool { return true })

	done := make(chan bool, 1)
	go func() { done <- s.waitForBatch() }()
	close(s.stop)

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waitForBatch did not react to stop")
	}
}
