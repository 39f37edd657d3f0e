package raftpd

import (
	"fmt"
	"math"
)

// Invalid value for raft.
const (
	InvalidIndex uint64 = 0
	InvalidTerm  uint64 = 0
	InvalidID    uint64 = math.MaxUint64
)

// RPC opcodes. These are part of the wire format and never change.
const (
	OpRequestVote     uint32 = 0x1212
	OpAppendEntries   uint32 = 0x3434
	OpInstallSnapshot uint32 = 0x5656
)

// Status is the result kind carried at the RPC surface.
type Status int32

const (
	StatusOK Status = iota
	StatusRetry
	StatusRPCErr
	StatusNoEntity
	StatusIOErr
)

var statusString = []string{
	"Ok",
	"Retry",
	"RpcError",
	"NoEntity",
	"IoError",
}

func (s Status) String() string {
	if int(s) >= len(statusString) {
		return fmt.Sprintf("Status(%d)", int32(s))
	}
	return statusString[s]
}

// Entry is one slot of the replicated log. The entry at a log's
// base index is a sentinel: it carries (Index, Term) but no data.
type Entry struct {
	Index uint64
	Term  uint64
	Data  []byte
}

func (e Entry) String() string {
	return fmt.Sprintf("raftpd.Entry{idx: %d, term: %d, data: %d bytes}",
		e.Index, e.Term, len(e.Data))
}

// Snapshot is an opaque state machine image together with the
// index and term of the last entry it covers.
type Snapshot struct {
	LastIncludedIndex uint64
	LastIncludedTerm  uint64
	Data              []byte
}

func (s Snapshot) String() string {
	return fmt.Sprintf("raftpd.Snapshot{idx: %d, term: %d, %d bytes}",
		s.LastIncludedIndex, s.LastIncludedTerm, len(s.Data))
}

type RequestVoteArgs struct {
	Term         uint64
	CandidateID  uint64
	LastLogIndex uint64
	LastLogTerm  uint64
}

type RequestVoteReply struct {
	Term    uint64
	Granted bool
}

type AppendEntriesArgs struct {
	Term         uint64
	LeaderID     uint64
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []Entry
	LeaderCommit uint64
}

func (a AppendEntriesArgs) String() string {
	return fmt.Sprintf("raftpd.AppendEntriesArgs{term: %d, leader: %d, "+
		"prev: %d [term: %d], %d entries, commit: %d}",
		a.Term, a.LeaderID, a.PrevLogIndex, a.PrevLogTerm,
		len(a.Entries), a.LeaderCommit)
}

type AppendEntriesReply struct {
	Term    uint64
	Success bool
}

type InstallSnapshotArgs struct {
	Term              uint64
	LeaderID          uint64
	LastIncludedIndex uint64
	LastIncludedTerm  uint64
	Snapshot          []byte
}

func (a InstallSnapshotArgs) String() string {
	return fmt.Sprintf("raftpd.InstallSnapshotArgs{term: %d, leader: %d, "+
		"idx: %d, snapTerm: %d, %d bytes}",
		a.Term, a.LeaderID, a.LastIncludedIndex,
		a.LastIncludedTerm, len(a.Snapshot))
}

type InstallSnapshotReply struct {
	Term uint64
}
