package peertable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateThenGet(t *testing.T) {
	pt := New(time.Minute)
	pt.Update("10.0.0.2:50051", "10.0.0.1:50051", 5, 2)

	entry, ok := pt.Get("10.0.0.2:50051")
	require.True(t, ok)
	assert.True(t, entry.Alive)
	assert.Equal(t, int64(5), entry.LatestBlockID)
	assert.Equal(t, int64(2), entry.MempoolSize)
	assert.Equal(t, "10.0.0.1:50051", entry.ClaimedLeader)
}

func TestGetUnknownPeer(t *testing.T) {
	pt := New(time.Minute)
	_, ok := pt.Get("nowhere:1")
	assert.False(t, ok)
}

func TestSweepMarksStaleEntriesDead(t *testing.T) {
	now := time.Now()
	pt := New(time.Second)
	pt.now = func() time.Time { return now }
	pt.Update("peer-a", "", 0, 0)

	pt.now = func() time.Time { return now.Add(2 * time.Second) }
	pt.Sweep()

	entry, ok := pt.Get("peer-a")
	require.True(t, ok)
	assert.False(t, entry.Alive)
}

func TestSweepNeverRemovesEntries(t *testing.T) {
	now := time.Now()
	pt := New(time.Second)
	pt.now = func() time.Time { return now.Add(10 * time.Second) }
	pt.Update("peer-a", "", 0, 0)
	pt.Sweep()

	_, ok := pt.Get("peer-a")
	assert.True(t, ok, "Sweep must never delete entries, only mark them dead")
}

func TestAllReturnsEverySnapshot(t *testing.T) {
	pt := New(time.Minute)
	pt.Update("peer-a", "", 1, 0)
	pt.Update("peer-b", "", 2, 0)

	all := pt.All()
	assert.Len(t, all, 2)
}
