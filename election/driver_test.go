package election

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibizsoftware/auditledger/audit"
	"github.com/ibizsoftware/auditledger/peertable"
	"github.com/ibizsoftware/auditledger/rpc"
)

// fakeClient always grants votes and never errors, standing in for a
// live, healthy peer.
type fakeClient struct{}

func (fakeClient) WhisperAuditRequest(context.Context, audit.Audit) (string, error) { return "success", nil }
func (fakeClient) ProposeBlock(context.Context, audit.Block) (bool, string, string, error) {
	return true, "success", "", nil
}
func (fakeClient) CommitBlock(context.Context, audit.Block) (string, string, error) {
	return "success", "", nil
}
func (fakeClient) GetBlock(context.Context, int64) (audit.Block, string, string, error) {
	return audit.Block{}, "failure", "", nil
}
func (fakeClient) SendHeartbeat(context.Context, rpc.HeartbeatRequest) error { return nil }
func (fakeClient) TriggerElection(context.Context, int64, string) (bool, error) {
	return true, nil
}
func (fakeClient) NotifyLeadership(context.Context, string) error { return nil }

// deadClient never votes, standing in for a crashed peer still listed in
// the static peer set (spec scenario 4: the crashed leader stays a
// configured peer after it goes down).
type deadClient struct{ fakeClient }

func (deadClient) TriggerElection(context.Context, int64, string) (bool, error) {
	return false, errNoResponse
}

var errNoResponse = assertErr("peer unreachable")

type assertErr string

func (e assertErr) Error() string { return string(e) }

// TestDriverMajorityExcludesSelfFromPeerSet pins spec §4.6 step 4's
// arithmetic: majority is floor(len(peers)/2)+1 over the configured peer
// set alone, with self excluded from that count (and voting separately).
// Three configured peers gives majority = floor(3/2)+1 = 2, so self-vote
// (1) plus a single live peer reaches it even though two configured peers
// (the crashed incumbent and another down replica) never respond.
func TestDriverMajorityExcludesSelfFromPeerSet(t *testing.T) {
	state := NewState()
	table := peertable.New(time.Minute)
	peers := []rpc.Peer{
		{Address: "peer-crashed-1", Client: deadClient{}},
		{Address: "peer-crashed-2", Client: deadClient{}},
		{Address: "peer-d", Client: fakeClient{}},
	}

	cfg := Config{
		SelfAddress:    "peer-b",
		BootstrapDelay: 0,
		Interval:       time.Hour,
		VoteDeadline:   time.Second,
		NotifyDeadline: time.Second,
	}
	d := NewDriver(cfg, state, peers, table)
	d.tick()

	require.Equal(t, "peer-b", state.Leader(), "self + 1 of 3 configured peers must reach majority of floor(3/2)+1=2")
}

// TestDriverLosesElectionBelowMajority pins the other side of the same
// arithmetic: with every configured peer unreachable, the lone self-vote
// falls short of a 3-peer set's majority of 2.
func TestDriverLosesElectionBelowMajority(t *testing.T) {
	state := NewState()
	table := peertable.New(time.Minute)
	peers := []rpc.Peer{
		{Address: "peer-crashed-1", Client: deadClient{}},
		{Address: "peer-crashed-2", Client: deadClient{}},
		{Address: "peer-crashed-3", Client: deadClient{}},
	}

	cfg := Config{
		SelfAddress:    "peer-b",
		BootstrapDelay: 0,
		Interval:       time.Hour,
		VoteDeadline:   time.Second,
		NotifyDeadline: time.Second,
	}
	d := NewDriver(cfg, state, peers, table)
	d.tick()

	require.Equal(t, "", state.Leader(), "1 vote (self only) must not reach a 3-peer set's majority of 2")
}

func TestDriverWinsElectionWithUnanimousVotes(t *testing.T) {
	state := NewState()
	table := peertable.New(time.Minute)
	peers := []rpc.Peer{
		{Address: "peer-b", Client: fakeClient{}},
		{Address: "peer-c", Client: fakeClient{}},
	}

	cfg := Config{
		SelfAddress:    "peer-a",
		BootstrapDelay: 0,
		Interval:       time.Hour,
		VoteDeadline:   time.Second,
		NotifyDeadline: time.Second,
	}
	d := NewDriver(cfg, state, peers, table)
	d.tick()

	require.Equal(t, "peer-a", state.Leader())
}

func TestNeedElectionWhenNoLeaderKnown(t *testing.T) {
	state := NewState()
	table := peertable.New(time.Minute)
	d := NewDriver(Config{SelfAddress: "peer-a"}, state, nil, table)
	assert.True(t, d.needElection())
}

func TestNeedElectionFalseWhenLeaderAlive(t *testing.T) {
	state := NewState()
	state.SetLeader("peer-b")
	table := peertable.New(time.Minute)
	table.Update("peer-b", "peer-b", 0, 0)

	d := NewDriver(Config{SelfAddress: "peer-a"}, state, nil, table)
	assert.False(t, d.needElection())
}

func TestNeedElectionTrueWhenLeaderMarkedDead(t *testing.T) {
	state := NewState()
	state.SetLeader("peer-b")
	table := peertable.New(time.Millisecond)
	table.Update("peer-b", "peer-b", 0, 0)
	time.Sleep(5 * time.Millisecond)
	table.Sweep()

	d := NewDriver(Config{SelfAddress: "peer-a"}, state, nil, table)
	assert.True(t, d.needElection(), "a peer table entry marked dead by Sweep must trigger an election")
}

func TestNeedElectionFalseWhenLeaderNeverHeardFrom(t *testing.T) {
	state := NewState()
	state.SetLeader("peer-b")
	table := peertable.New(time.Minute)

	d := NewDriver(Config{SelfAddress: "peer-a"}, state, nil, table)
	assert.False(t, d.needElection(), "a leader with no recorded peer entry is not yet known to be dead")
}
