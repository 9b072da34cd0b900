package chainstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibizsoftware/auditledger/audit"
)

func TestNewOnEmptyChainHasZeroValues(t *testing.T) {
	cs := New(filepath.Join(t.TempDir(), "chain.json"))
	assert.Equal(t, int64(0), cs.GetLastID())
	assert.Equal(t, "", cs.GetLastHash())
	assert.Equal(t, "", cs.GetLastMerkleRoot())
	assert.Empty(t, cs.GetAll())
}

func TestAppendUpdatesTailAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.json")
	cs := New(path)

	meta := audit.Meta{ID: 1, Hash: "h1", PreviousHash: "", MerkleRoot: "m1"}
	cs.Append(meta, []string{"req-1", "req-2"})

	assert.Equal(t, int64(1), cs.GetLastID())
	assert.Equal(t, "h1", cs.GetLastHash())
	assert.Equal(t, "m1", cs.GetLastMerkleRoot())
	require.Len(t, cs.GetAll(), 1)

	reopened := New(path)
	assert.Equal(t, int64(1), reopened.GetLastID())
	assert.Equal(t, "h1", reopened.GetLastHash())
}

func TestMaybeCommittedAfterAppend(t *testing.T) {
	cs := New(filepath.Join(t.TempDir(), "chain.json"))
	assert.False(t, cs.MaybeCommitted("req-1"))

	cs.Append(audit.Meta{ID: 1, Hash: "h1"}, []string{"req-1"})
	assert.True(t, cs.MaybeCommitted("req-1"))
	assert.False(t, cs.MaybeCommitted("req-unseen"))
}

func TestAppendMultipleBlocksOrdering(t *testing.T) {
	cs := New(filepath.Join(t.TempDir(), "chain.json"))
	cs.Append(audit.Meta{ID: 1, Hash: "h1"}, []string{"req-1"})
	cs.Append(audit.Meta{ID: 2, Hash: "h2", PreviousHash: "h1"}, []string{"req-2"})

	all := cs.GetAll()
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].ID)
	assert.Equal(t, int64(2), all[1].ID)
	assert.Equal(t, "h2", cs.GetLastHash())
}

func TestNewOnCorruptFileYieldsEmptyChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	cs := New(path)
	assert.Equal(t, int64(0), cs.GetLastID())
}
