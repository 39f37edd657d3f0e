package holder

import (
	"testing"

	"github.com/luoshicai/chfs-filesystem/raft/proto"
)

func makeEntries(pairs ...uint64) []raftpd.Entry {
	entries := make([]raftpd.Entry, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		entries = append(entries, raftpd.Entry{Index: pairs[i], Term: pairs[i+1]})
	}
	return entries
}

func TestLogHolder_MakeAndAccessors(t *testing.T) {
	holder := MakeLogHolder(1, 0, 0)
	if holder.BaseIndex() != 0 || holder.LastIndex() != 0 {
		t.Fatalf("fresh holder base: %d last: %d", holder.BaseIndex(), holder.LastIndex())
	}
	if holder.Term(0) != 0 {
		t.Fatalf("sentinel term: %d", holder.Term(0))
	}
	if holder.Term(1) != raftpd.InvalidTerm {
		t.Fatalf("missing entry must have invalid term")
	}

	holder.Append(makeEntries(1, 1, 2, 1, 3, 2))
	if holder.LastIndex() != 3 || holder.LastTerm() != 2 {
		t.Fatalf("last: %d term: %d", holder.LastIndex(), holder.LastTerm())
	}
	if got := holder.Slice(1, 3); len(got) != 2 || got[0].Index != 1 {
		t.Fatalf("bad slice %v", got)
	}
}

func TestLogHolder_IsUpToDate(t *testing.T) {
	holder := MakeLogHolder(1, 0, 0)
	holder.Append(makeEntries(1, 1, 2, 2))

	tests := []struct {
		idx, term uint64
		want      bool
	}{
		{2, 2, true},  // identical
		{3, 2, true},  // longer, same term
		{1, 3, true},  // later term wins regardless of length
		{1, 2, false}, // shorter, same term
		{5, 1, false}, // older term
	}
	for i, tt := range tests {
		if got := holder.IsUpToDate(tt.idx, tt.term); got != tt.want {
			t.Fatalf("#%d IsUpToDate(%d, %d) = %v", i, tt.idx, tt.term, got)
		}
	}
}

func TestLogHolder_TryAppendRejects(t *testing.T) {
	holder := MakeLogHolder(1, 0, 0)
	holder.Append(makeEntries(1, 1, 2, 1))

	if _, _, ok := holder.TryAppend(3, 1, nil); ok {
		t.Fatalf("prev beyond last must reject")
	}
	if _, _, ok := holder.TryAppend(2, 2, nil); ok {
		t.Fatalf("prev term mismatch must reject")
	}
}

func TestLogHolder_TryAppendExtends(t *testing.T) {
	holder := MakeLogHolder(1, 0, 0)
	holder.Append(makeEntries(1, 1, 2, 1))

	appended, truncatedFrom, ok := holder.TryAppend(2, 1, makeEntries(3, 1, 4, 1))
	if !ok || truncatedFrom != raftpd.InvalidIndex {
		t.Fatalf("extend: ok %v truncated %d", ok, truncatedFrom)
	}
	if len(appended) != 2 || holder.LastIndex() != 4 {
		t.Fatalf("appended %v last %d", appended, holder.LastIndex())
	}

	// duplicate delivery appends nothing.
	appended, truncatedFrom, ok = holder.TryAppend(2, 1, makeEntries(3, 1, 4, 1))
	if !ok || len(appended) != 0 || truncatedFrom != raftpd.InvalidIndex {
		t.Fatalf("dup: appended %v truncated %d ok %v", appended, truncatedFrom, ok)
	}
}

func TestLogHolder_TryAppendTruncatesConflict(t *testing.T) {
	holder := MakeLogHolder(1, 0, 0)
	holder.Append(makeEntries(1, 1, 2, 1, 3, 1))

	appended, truncatedFrom, ok := holder.TryAppend(1, 1, makeEntries(2, 2, 3, 2))
	if !ok || truncatedFrom != 2 {
		t.Fatalf("conflict: ok %v truncated %d", ok, truncatedFrom)
	}
	if len(appended) != 2 || holder.LastIndex() != 3 || holder.Term(2) != 2 {
		t.Fatalf("after truncate last %d term(2) %d", holder.LastIndex(), holder.Term(2))
	}

	// partial overlap: only the conflicting suffix is rewritten.
	appended, truncatedFrom, ok = holder.TryAppend(1, 1, makeEntries(2, 2, 3, 3))
	if !ok || truncatedFrom != 3 || len(appended) != 1 {
		t.Fatalf("suffix: appended %v truncated %d", appended, truncatedFrom)
	}
}

func TestLogHolder_CompactTo(t *testing.T) {
	holder := MakeLogHolder(1, 0, 0)
	holder.Append([]raftpd.Entry{
		{Index: 1, Term: 1, Data: []byte("a")},
		{Index: 2, Term: 1, Data: []byte("b")},
		{Index: 3, Term: 2, Data: []byte("c")},
	})

	holder.CompactTo(2, 1)
	if holder.BaseIndex() != 2 || holder.LastIndex() != 3 {
		t.Fatalf("compact base %d last %d", holder.BaseIndex(), holder.LastIndex())
	}
	if holder.Entries()[0].Data != nil {
		t.Fatalf("sentinel must not carry data")
	}
	if holder.Term(3) != 2 {
		t.Fatalf("suffix lost")
	}

	// mismatching boundary discards the whole log.
	holder.CompactTo(10, 4)
	if holder.BaseIndex() != 10 || holder.LastIndex() != 10 || holder.Term(10) != 4 {
		t.Fatalf("rebuild base %d last %d", holder.BaseIndex(), holder.LastIndex())
	}
}

func TestLogHolder_Rebuild(t *testing.T) {
	entries := []raftpd.Entry{
		{Index: 5, Term: 2},
		{Index: 6, Term: 2, Data: []byte("x")},
		{Index: 7, Term: 3, Data: []byte("y")},
	}
	holder := RebuildLogHolder(1, entries)
	if holder.BaseIndex() != 5 || holder.LastIndex() != 7 || holder.LastTerm() != 3 {
		t.Fatalf("rebuild base %d last %d", holder.BaseIndex(), holder.LastIndex())
	}
}
