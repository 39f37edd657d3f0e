package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNode_AppendProgress(t *testing.T) {
	n := MakeNode(0, 1, 5)

	// success advances matched and next.
	assert.True(t, n.HandleAppendEntries(false, 4, 3))
	assert.Equal(t, uint64(7), n.Matched)
	assert.Equal(t, uint64(8), n.NextIdx)

	// stale success is ignored.
	assert.False(t, n.HandleAppendEntries(false, 2, 1))
	assert.Equal(t, uint64(7), n.Matched)
}

func TestNode_RejectRegressesNext(t *testing.T) {
	n := MakeNode(0, 1, 8)

	assert.False(t, n.HandleAppendEntries(true, 7, 0))
	assert.Equal(t, uint64(7), n.NextIdx)

	// a rejection for an old prev is stale and changes nothing.
	assert.False(t, n.HandleAppendEntries(true, 3, 0))
	assert.Equal(t, uint64(7), n.NextIdx)
}

func TestNode_SnapshotReply(t *testing.T) {
	n := MakeNode(0, 1, 1)
	n.HandleSnapshot(42)
	assert.Equal(t, uint64(42), n.Matched)
	assert.Equal(t, uint64(43), n.NextIdx)

	// stale snapshot reply never regresses.
	n.HandleSnapshot(10)
	assert.Equal(t, uint64(42), n.Matched)
}

func TestNode_VoteState(t *testing.T) {
	n := MakeNode(0, 1, 1)
	assert.Equal(t, VoteNone, n.Vote)

	n.UpdateVoteState(true)
	n.UpdateVoteState(true) // duplicate grant collapses
	assert.Equal(t, VoteGranted, n.Vote)

	n.ResetVoteState()
	assert.Equal(t, VoteNone, n.Vote)

	n.UpdateVoteState(false)
	assert.Equal(t, VoteReject, n.Vote)
}
