package raft

import (
	log "github.com/sirupsen/logrus"

	"github.com/luoshicai/chfs-filesystem/raft/peer"
	"github.com/luoshicai/chfs-filesystem/raft/proto"
	"github.com/luoshicai/chfs-filesystem/utils"
)

// RequestVote serve a vote request. A vote is granted when the term
// is current, no conflicting vote was cast this term, and the
// candidate's log is at least as up-to-date as ours. The vote is
// persisted before the granting reply leaves.
func (r *Replica) RequestVote(args *raftpd.RequestVoteArgs, reply *raftpd.RequestVoteReply) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	reply.Granted = false
	if args.Term < r.term {
		log.Debugf("%d [term: %d] reject vote for %d [term: %d]: stale term",
			r.id, r.term, args.CandidateID, args.Term)
		reply.Term = r.term
		return
	}
	if args.Term > r.term {
		r.stepDown(args.Term)
	}

	if (r.vote == raftpd.InvalidID || r.vote == args.CandidateID) &&
		r.log.IsUpToDate(args.LastLogIndex, args.LastLogTerm) {
		r.vote = args.CandidateID
		r.persistMetadata()
		r.resetFollowerTimer()
		reply.Granted = true

		log.Infof("%d [term: %d] grant vote to %d [last: %d, term: %d]",
			r.id, r.term, args.CandidateID, args.LastLogIndex, args.LastLogTerm)
	}
	reply.Term = r.term
}

// AppendEntries serve a replication or heartbeat request. Success
// requires the (prev index, prev term) pair to exist locally; on
// success conflicting suffixes are truncated, missing entries
// appended and persisted, and the commit index follows the leader.
func (r *Replica) AppendEntries(args *raftpd.AppendEntriesArgs, reply *raftpd.AppendEntriesReply) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	reply.Success = false
	if args.Term < r.term {
		log.Debugf("%d [term: %d] reject append from %d [term: %d]: stale term",
			r.id, r.term, args.LeaderID, args.Term)
		reply.Term = r.term
		return
	}
	// A current-term AppendEntries proves a legitimate leader: a
	// candidate of the same term returns to follower.
	if args.Term > r.term || !r.role.IsFollower() {
		r.stepDown(args.Term)
	}
	r.resetFollowerTimer()
	reply.Term = r.term

	if args.PrevLogIndex < r.log.BaseIndex() ||
		args.PrevLogIndex > r.log.LastIndex() ||
		r.log.Term(args.PrevLogIndex) != args.PrevLogTerm {
		log.Infof("%d [term: %d, base: %d, last: %d] reject append from %d "+
			"[prev: %d, term: %d]", r.id, r.term, r.log.BaseIndex(),
			r.log.LastIndex(), args.LeaderID, args.PrevLogIndex, args.PrevLogTerm)
		return
	}

	appended, truncatedFrom, ok := r.log.TryAppend(
		args.PrevLogIndex, args.PrevLogTerm, args.Entries)
	utils.Assert(ok, "%d prev matched but append failed", r.id)

	if truncatedFrom != raftpd.InvalidIndex {
		utils.Assert(truncatedFrom > r.commitIndex,
			"%d entry %d conflicts with committed entry %d",
			r.id, truncatedFrom, r.commitIndex)
		r.persistFullLog()
	} else if len(appended) != 0 {
		r.persistAppend(appended)
	}

	if args.LeaderCommit > r.commitIndex {
		r.commitIndex = utils.MinUint64(args.LeaderCommit, r.log.LastIndex())
	}
	reply.Success = true
}

// InstallSnapshot serve a snapshot push for a follower too far
// behind the leader's log base. The log keeps its suffix when it
// already holds the boundary entry, otherwise it is discarded.
func (r *Replica) InstallSnapshot(args *raftpd.InstallSnapshotArgs, reply *raftpd.InstallSnapshotReply) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if args.Term < r.term {
		reply.Term = r.term
		return
	}
	if args.Term > r.term || !r.role.IsFollower() {
		r.stepDown(args.Term)
	}
	r.resetFollowerTimer()
	reply.Term = r.term

	if args.LastIncludedIndex <= r.lastApplied {
		log.Infof("%d [applied: %d] ignore expired snapshot [idx: %d, term: %d]",
			r.id, r.lastApplied, args.LastIncludedIndex, args.LastIncludedTerm)
		return
	}

	log.Infof("%d [term: %d, commit: %d] install snapshot [idx: %d, term: %d]",
		r.id, r.term, r.commitIndex, args.LastIncludedIndex, args.LastIncludedTerm)

	r.log.CompactTo(args.LastIncludedIndex, args.LastIncludedTerm)
	snap := &raftpd.Snapshot{
		LastIncludedIndex: args.LastIncludedIndex,
		LastIncludedTerm:  args.LastIncludedTerm,
		Data:              args.Snapshot,
	}
	r.snapshot = snap

	if err := r.storage.UpdateSnapshot(snap); err != nil {
		log.Panicf("%d persist snapshot: %v", r.id, err)
	}
	if err := r.storage.UpdateLog(r.log.Entries()); err != nil {
		log.Panicf("%d rewrite log after install: %v", r.id, err)
	}

	r.sm.ApplySnapshot(args.Snapshot)
	r.lastApplied = args.LastIncludedIndex
	r.commitIndex = utils.MaxUint64(r.commitIndex, args.LastIncludedIndex)
}

// handleRequestVoteReply digest one peer's answer to our candidacy.
func (r *Replica) handleRequestVoteReply(from uint64,
	args *raftpd.RequestVoteArgs, reply *raftpd.RequestVoteReply) {
	var sends []func()

	r.mutex.Lock()
	if r.stopping.Load() {
		r.mutex.Unlock()
		return
	}
	if reply.Term > r.term {
		r.stepDown(reply.Term)
		r.mutex.Unlock()
		return
	}
	node := r.getNode(from)
	if node == nil || !r.role.IsCandidate() || args.Term != r.term {
		r.mutex.Unlock()
		return
	}

	node.UpdateVoteState(reply.Granted)
	if reply.Granted {
		count := 1
		for i := 0; i < len(r.nodes); i++ {
			if r.nodes[i].Vote == peer.VoteGranted {
				count++
			}
		}
		if count >= r.quorum() {
			r.becomeLeader()
			sends = r.heartbeatRound()
		}
	}
	r.mutex.Unlock()

	r.dispatch(sends)
}

// handleAppendEntriesReply digest an append reply: advance the
// peer's progress and poll for commit, or regress next on reject.
func (r *Replica) handleAppendEntriesReply(from uint64,
	args *raftpd.AppendEntriesArgs, reply *raftpd.AppendEntriesReply) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.stopping.Load() {
		return
	}
	if reply.Term > r.term {
		r.stepDown(reply.Term)
		return
	}
	node := r.getNode(from)
	if node == nil || !r.role.IsLeader() || args.Term != r.term {
		return
	}

	if node.HandleAppendEntries(!reply.Success, args.PrevLogIndex, len(args.Entries)) {
		r.poll(node.Matched)
	}
}

func (r *Replica) handleInstallSnapshotReply(from uint64,
	args *raftpd.InstallSnapshotArgs, reply *raftpd.InstallSnapshotReply) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.stopping.Load() {
		return
	}
	if reply.Term > r.term {
		r.stepDown(reply.Term)
		return
	}
	node := r.getNode(from)
	if node == nil || !r.role.IsLeader() || args.Term != r.term {
		return
	}

	node.HandleSnapshot(args.LastIncludedIndex)
}
