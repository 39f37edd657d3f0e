package raftpd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestVoteRoundTrip(t *testing.T) {
	args := RequestVoteArgs{Term: 7, CandidateID: 2, LastLogIndex: 42, LastLogTerm: 6}
	var got RequestVoteArgs
	require.NoError(t, got.Unmarshal(args.Marshal()))
	assert.Equal(t, args, got)

	reply := RequestVoteReply{Term: 7, Granted: true}
	var gotReply RequestVoteReply
	require.NoError(t, gotReply.Unmarshal(reply.Marshal()))
	assert.Equal(t, reply, gotReply)
}

func TestAppendEntriesRoundTrip(t *testing.T) {
	args := AppendEntriesArgs{
		Term:         3,
		LeaderID:     1,
		PrevLogIndex: 10,
		PrevLogTerm:  2,
		Entries: []Entry{
			{Index: 11, Term: 3, Data: []byte("create")},
			{Index: 12, Term: 3, Data: nil},
			{Index: 13, Term: 3, Data: []byte{0, 1, 2, 255}},
		},
		LeaderCommit: 10,
	}
	var got AppendEntriesArgs
	require.NoError(t, got.Unmarshal(args.Marshal()))
	assert.Equal(t, args, got)

	reply := AppendEntriesReply{Term: 3, Success: false}
	var gotReply AppendEntriesReply
	require.NoError(t, gotReply.Unmarshal(reply.Marshal()))
	assert.Equal(t, reply, gotReply)
}

func TestInstallSnapshotRoundTrip(t *testing.T) {
	args := InstallSnapshotArgs{
		Term:              9,
		LeaderID:          0,
		LastIncludedIndex: 100,
		LastIncludedTerm:  8,
		Snapshot:          []byte("state machine image"),
	}
	var got InstallSnapshotArgs
	require.NoError(t, got.Unmarshal(args.Marshal()))
	assert.Equal(t, args, got)

	reply := InstallSnapshotReply{Term: 9}
	var gotReply InstallSnapshotReply
	require.NoError(t, gotReply.Unmarshal(reply.Marshal()))
	assert.Equal(t, reply, gotReply)
}

func TestEntryRoundTrip(t *testing.T) {
	e := Entry{Index: 5, Term: 2, Data: []byte("put 7 hello")}
	var got Entry
	require.NoError(t, UnmarshalEntry(&got, MarshalEntry(&e)))
	assert.Equal(t, e, got)

	sentinel := Entry{Index: 17, Term: 4}
	require.NoError(t, UnmarshalEntry(&got, MarshalEntry(&sentinel)))
	assert.Equal(t, sentinel, got)
}

func TestUnmarshalShortBuffer(t *testing.T) {
	full := (&AppendEntriesArgs{Term: 1, Entries: []Entry{{Index: 1, Term: 1, Data: []byte("x")}}}).Marshal()
	for cut := 0; cut < len(full); cut++ {
		var args AppendEntriesArgs
		assert.Error(t, args.Unmarshal(full[:cut]))
	}
}

func TestOpcodesAreFixed(t *testing.T) {
	assert.Equal(t, uint32(0x1212), OpRequestVote)
	assert.Equal(t, uint32(0x3434), OpAppendEntries)
	assert.Equal(t, uint32(0x5656), OpInstallSnapshot)
}
