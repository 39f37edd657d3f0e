package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luoshicai/chfs-filesystem/raft/proto"
)

func restore(t *testing.T, dir string) (uint64, uint64, []raftpd.Entry, *raftpd.Snapshot, *Storage) {
	s, err := MakeStorage(dir)
	require.NoError(t, err)
	term, vote, entries, snap, err := s.Restore()
	require.NoError(t, err)
	return term, vote, entries, snap, s
}

func TestStorage_FreshRestore(t *testing.T) {
	term, vote, entries, snap, s := restore(t, t.TempDir())
	defer s.Close()

	assert.Equal(t, raftpd.InvalidTerm, term)
	assert.Equal(t, raftpd.InvalidID, vote)
	assert.Nil(t, entries)
	assert.Nil(t, snap)
}

func TestStorage_MetadataLastWriteWins(t *testing.T) {
	dir := t.TempDir()
	_, _, _, _, s := restore(t, dir)
	require.NoError(t, s.UpdateMetadata(3, 1))
	require.NoError(t, s.UpdateMetadata(5, raftpd.InvalidID))
	s.Close()

	term, vote, _, _, s := restore(t, dir)
	defer s.Close()
	assert.Equal(t, uint64(5), term)
	assert.Equal(t, raftpd.InvalidID, vote)
}

func TestStorage_AppendLogRestores(t *testing.T) {
	dir := t.TempDir()
	_, _, _, _, s := restore(t, dir)
	require.NoError(t, s.AppendLog([]raftpd.Entry{
		{Index: 1, Term: 1, Data: []byte("a")},
		{Index: 2, Term: 1, Data: []byte("b")},
	}, 3))
	require.NoError(t, s.AppendLog([]raftpd.Entry{
		{Index: 3, Term: 2, Data: []byte("c")},
	}, 4))
	s.Close()

	_, _, entries, _, s := restore(t, dir)
	defer s.Close()
	require.Len(t, entries, 4)
	// the sentinel is synthesized at the base.
	assert.Equal(t, raftpd.Entry{Index: 0, Term: 0}, entries[0])
	assert.Equal(t, []byte("c"), entries[3].Data)
}

func TestStorage_OverwriteSupersedesSuffix(t *testing.T) {
	dir := t.TempDir()
	_, _, _, _, s := restore(t, dir)
	require.NoError(t, s.AppendLog([]raftpd.Entry{
		{Index: 1, Term: 1, Data: []byte("a")},
		{Index: 2, Term: 1, Data: []byte("b")},
		{Index: 3, Term: 1, Data: []byte("x")},
	}, 4))
	// a truncating leader rewrites from index 2.
	require.NoError(t, s.AppendLog([]raftpd.Entry{
		{Index: 2, Term: 2, Data: []byte("B")},
	}, 3))
	s.Close()

	_, _, entries, _, s := restore(t, dir)
	defer s.Close()
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(2), entries[2].Index)
	assert.Equal(t, uint64(2), entries[2].Term)
	assert.Equal(t, []byte("B"), entries[2].Data)
}

func TestStorage_UpdateLogAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	_, _, _, _, s := restore(t, dir)
	require.NoError(t, s.AppendLog([]raftpd.Entry{
		{Index: 1, Term: 1, Data: []byte("a")},
		{Index: 2, Term: 1, Data: []byte("b")},
	}, 3))

	// snapshot trims the prefix: new base 2.
	require.NoError(t, s.UpdateSnapshot(&raftpd.Snapshot{
		LastIncludedIndex: 2,
		LastIncludedTerm:  1,
		Data:              []byte("image"),
	}))
	require.NoError(t, s.UpdateLog([]raftpd.Entry{
		{Index: 2, Term: 1},
		{Index: 3, Term: 2, Data: []byte("c")},
	}))
	s.Close()

	term, _, entries, snap, s := restore(t, dir)
	defer s.Close()
	assert.Equal(t, raftpd.InvalidTerm, term)
	require.NotNil(t, snap)
	assert.Equal(t, uint64(2), snap.LastIncludedIndex)
	assert.Equal(t, []byte("image"), snap.Data)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(2), entries[0].Index)
	assert.Equal(t, uint64(3), entries[1].Index)
}
