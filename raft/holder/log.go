package holder

import (
	log "github.com/sirupsen/logrus"

	"github.com/luoshicai/chfs-filesystem/raft/proto"
	"github.com/luoshicai/chfs-filesystem/utils"
)

// LogHolder keeps the in-memory log of a replica. The first entry
// is always a sentinel carrying (index, term) but no data; it marks
// either the log origin or the last snapshot boundary. Entries are
// contiguous: entries[k].Index = base + k.
type LogHolder struct {
	// raft inner id, used only for logging.
	id uint64

	entries []raftpd.Entry
}

// MakeLogHolder create & initialize a LogHolder whose sentinel
// is (firstIndex, firstTerm), and returns.
func MakeLogHolder(id uint64, firstIndex uint64, firstTerm uint64) *LogHolder {
	log.Debugf("make log holder id: %d [idx: %d, term: %d]", id, firstIndex, firstTerm)

	entries := make([]raftpd.Entry, 1)
	entries[0].Index = firstIndex
	entries[0].Term = firstTerm
	return &LogHolder{id: id, entries: entries}
}

// RebuildLogHolder construct a log holder from existing entries.
// The first entry must be the sentinel, and len(entries) must be
// greater than zero.
func RebuildLogHolder(id uint64, entries []raftpd.Entry) *LogHolder {
	utils.Assert(len(entries) != 0, "required entries not empty")

	dup := make([]raftpd.Entry, len(entries))
	copy(dup, entries)
	dup[0].Data = nil

	holder := &LogHolder{id: id, entries: dup}
	holder.validateConsistency()

	log.Debugf("%d rebuild log holder [idx: %d-%d, term: %d-%d]",
		id, holder.BaseIndex(), holder.LastIndex(),
		dup[0].Term, holder.LastTerm())

	return holder
}

// BaseIndex return the sentinel entry's index.
func (holder *LogHolder) BaseIndex() uint64 {
	utils.Assert(len(holder.entries) != 0, "require len(entries) great than zero")
	return holder.entries[0].Index
}

// LastIndex return the index of the last entry.
func (holder *LogHolder) LastIndex() uint64 {
	length := len(holder.entries)
	return holder.entries[length-1].Index
}

// LastTerm return the term of the last entry.
func (holder *LogHolder) LastTerm() uint64 {
	return holder.Term(holder.LastIndex())
}

// Length return base + number of live entries, which is the dense
// length of the log including the snapshot-covered prefix.
func (holder *LogHolder) Length() uint64 {
	return holder.LastIndex() + 1
}

// Term return the term of idx, if there is no entry with that
// index, return InvalidTerm.
func (holder *LogHolder) Term(idx uint64) uint64 {
	base := holder.BaseIndex()
	if idx < base || idx > holder.LastIndex() {
		return raftpd.InvalidTerm
	}
	return holder.entries[idx-base].Term
}

// Slice return the entries between [lo, hi), excluding the sentinel.
func (holder *LogHolder) Slice(lo, hi uint64) []raftpd.Entry {
	holder.checkOutOfBounds(lo, hi)
	base := holder.BaseIndex()
	return holder.entries[lo-base : hi-base]
}

// Entries return the whole log including the sentinel, for a full
// rewrite of the durable log.
func (holder *LogHolder) Entries() []raftpd.Entry {
	return holder.entries
}

// IsUpToDate determines if the given (idx, term) pair is at least as
// up-to-date as the local last entry. If the logs end with different
// terms the later term wins; with the same term the longer log wins.
func (holder *LogHolder) IsUpToDate(idx, term uint64) bool {
	return term > holder.LastTerm() ||
		(term == holder.LastTerm() && idx >= holder.LastIndex())
}

// Append push entries at the back, and return the new last index.
// Used by the leader, which never overwrites its own entries.
func (holder *LogHolder) Append(entries []raftpd.Entry) uint64 {
	if len(entries) == 0 {
		return holder.LastIndex()
	}

	utils.Assert(entries[0].Index == holder.LastIndex()+1,
		"%d append %d not contiguous with last %d",
		holder.id, entries[0].Index, holder.LastIndex())

	holder.entries = append(holder.entries, entries...)
	return holder.LastIndex()
}

// TryAppend check (prevIdx, prevTerm) against the local log. On
// match it reconciles entries with the log: conflicting suffixes are
// truncated, missing entries appended. It returns the entries newly
// written, the index truncation started from (InvalidIndex when the
// log was only extended), and whether the prev check passed.
func (holder *LogHolder) TryAppend(prevIdx, prevTerm uint64,
	entries []raftpd.Entry) (appended []raftpd.Entry, truncatedFrom uint64, ok bool) {
	if holder.Term(prevIdx) != prevTerm {
		return nil, raftpd.InvalidIndex, false
	}

	conflictIdx := holder.findConflict(entries)
	if conflictIdx == raftpd.InvalidIndex {
		/* every entry already present */
		return nil, raftpd.InvalidIndex, true
	}

	offset := prevIdx + 1
	tail := entries[conflictIdx-offset:]
	if conflictIdx <= holder.LastIndex() {
		log.Infof("%d truncate log from %d [existing term: %d, conflicting term: %d]",
			holder.id, conflictIdx, holder.Term(conflictIdx), tail[0].Term)
		holder.entries = holder.entries[:conflictIdx-holder.BaseIndex()]
		truncatedFrom = conflictIdx
	} else {
		truncatedFrom = raftpd.InvalidIndex
	}

	holder.entries = append(holder.entries, tail...)
	holder.validateConsistency()
	return tail, truncatedFrom, true
}

// CompactTo trim the log so its sentinel becomes (to, term). If the
// local log has a matching entry at `to` the prefix is drained and
// the suffix kept; otherwise the whole log is replaced by a fresh
// sentinel.
func (holder *LogHolder) CompactTo(to, term uint64) {
	if holder.Term(to) != term || to <= holder.BaseIndex() {
		log.Debugf("%d compact and rebuild: %d, term: %d", holder.id, to, term)
		entries := make([]raftpd.Entry, 1)
		entries[0].Index = to
		entries[0].Term = term
		holder.entries = entries
		return
	}

	log.Debugf("%d compact to: %d, term: %d", holder.id, to, term)
	base := holder.BaseIndex()
	holder.entries = drain(holder.entries, int(to-base))
	holder.entries[0].Data = nil
}

func (holder *LogHolder) checkOutOfBounds(lo, hi uint64) {
	utils.Assert(lo <= hi, "%d invalid slice %d > %d", holder.id, lo, hi)

	lower := holder.BaseIndex() + 1
	upper := holder.LastIndex() + 1
	utils.Assert(!(lo < lower || hi > upper),
		"%d slice[%d, %d] out of bound[%d, %d]",
		holder.id, lo, hi, lower, upper)
}

// findConflict return the first index whose term differs from the
// local entry at the same index, or which is beyond the local log.
// If every entry is already present, return InvalidIndex.
func (holder *LogHolder) findConflict(entries []raftpd.Entry) uint64 {
	for i := 0; i < len(entries); i++ {
		entry := &entries[i]
		if holder.Term(entry.Index) != entry.Term {
			return entry.Index
		}
	}
	return raftpd.InvalidIndex
}

func (holder *LogHolder) validateConsistency() {
	for i := 0; i < len(holder.entries)-1; i++ {
		utils.Assert(holder.entries[i].Index+1 == holder.entries[i+1].Index,
			"%d index:%d at:%d not sequences", holder.id, holder.entries[i].Index, i)
	}
}

// drain like memmove(entries, entries + to, len).
func drain(entries []raftpd.Entry, to int) []raftpd.Entry {
	length := len(entries) - to
	for i := 0; i < length; i++ {
		entries[i] = entries[i+to]
	}
	return entries[:length]
}
