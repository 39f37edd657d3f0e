package raft

import (
	"github.com/luoshicai/chfs-filesystem/raft/proto"
)

// Transport carries the three raft RPCs to remote peers. Each call
// blocks until a reply arrives or the transport gives up, and
// reports success with its boolean result. Delivery is unreliable
// and unordered; duplicates are harmless because every handler
// decision depends only on current persisted state plus arguments.
type Transport interface {
	RequestVote(to uint64, args *raftpd.RequestVoteArgs, reply *raftpd.RequestVoteReply) bool
	AppendEntries(to uint64, args *raftpd.AppendEntriesArgs, reply *raftpd.AppendEntriesReply) bool
	InstallSnapshot(to uint64, args *raftpd.InstallSnapshotArgs, reply *raftpd.InstallSnapshotReply) bool
}

// Storage persists a replica's durable state: the metadata blob
// (term, vote), the log, and the snapshot. After any update returns
// nil, a crash and recovery must observe the post-call state.
type Storage interface {
	Restore() (term, vote uint64, entries []raftpd.Entry, snap *raftpd.Snapshot, err error)
	UpdateMetadata(term, vote uint64) error
	AppendLog(entries []raftpd.Entry, newLen uint64) error
	UpdateLog(entries []raftpd.Entry) error
	UpdateSnapshot(snap *raftpd.Snapshot) error
	Close()
}
