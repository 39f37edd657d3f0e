package raft

import (
	log "github.com/sirupsen/logrus"

	"github.com/luoshicai/chfs-filesystem/raft/peer"
	"github.com/luoshicai/chfs-filesystem/raft/proto"
	"github.com/luoshicai/chfs-filesystem/utils"
)

// stepDown fall back to follower at the given term. With a term
// bump the vote is cleared and metadata persisted; either way the
// election timer re-arms.
func (r *Replica) stepDown(term uint64) {
	utils.Assert(term >= r.term, "%d step down to older term %d < %d", r.id, term, r.term)

	if term > r.term {
		log.Infof("%d [term: %d] step down to follower at term %d", r.id, r.term, term)
		r.term = term
		r.vote = raftpd.InvalidID
		r.persistMetadata()
	} else if !r.role.IsFollower() {
		log.Infof("%d [term: %d] %v back to follower", r.id, r.term, r.role)
	}
	r.role = RoleFollower
	r.resetFollowerTimer()
}

// campaign start a new candidacy: bump term, vote for self, persist,
// arm the candidate timeout. Returns the vote request to broadcast.
// A single-node cluster wins immediately.
func (r *Replica) campaign() (raftpd.RequestVoteArgs, []uint64) {
	r.role = RoleCandidate
	r.term++
	r.vote = r.id
	for i := 0; i < len(r.nodes); i++ {
		r.nodes[i].ResetVoteState()
	}
	r.persistMetadata()
	r.resetCandidateTimer()

	log.Infof("%d become candidate at term %d [last: %d, term: %d]",
		r.id, r.term, r.log.LastIndex(), r.log.LastTerm())

	if r.quorum() == 1 {
		r.becomeLeader()
	}

	args := raftpd.RequestVoteArgs{
		Term:         r.term,
		CandidateID:  r.id,
		LastLogIndex: r.log.LastIndex(),
		LastLogTerm:  r.log.LastTerm(),
	}
	targets := make([]uint64, 0, len(r.nodes))
	for i := 0; i < len(r.nodes); i++ {
		targets = append(targets, r.nodes[i].ID)
	}
	return args, targets
}

// becomeLeader take power: reinitialize every peer's progress to
// just past the local last index. The caller dispatches an
// immediate heartbeat round.
func (r *Replica) becomeLeader() {
	utils.Assert(r.role.IsCandidate(),
		"%d invalid translation [%v => Leader]", r.id, r.role)

	r.role = RoleLeader
	next := r.log.LastIndex() + 1
	for i := 0; i < len(r.nodes); i++ {
		r.nodes[i].Reset(next)
	}

	log.Infof("%d become leader at term %d [base: %d, last: %d]",
		r.id, r.term, r.log.BaseIndex(), r.log.LastIndex())
}

// poll advance commitIndex to idx when a majority of match values
// reached it. Entries from prior terms are never committed by count
// alone; committing a current-term entry commits the prefix.
func (r *Replica) poll(idx uint64) {
	if idx <= r.commitIndex || r.log.Term(idx) != r.term {
		return
	}

	count := 1
	for i := 0; i < len(r.nodes); i++ {
		if r.nodes[i].Matched >= idx {
			count++
		}
	}
	if count >= r.quorum() {
		log.Debugf("%d [term: %d] commit entries to index %d", r.id, r.term, idx)
		r.commitIndex = idx
	}
}

// appendArgsFor build an AppendEntries request for the peer. When
// withEntries is false the request is a bare heartbeat. Returns
// false when the peer is behind the snapshot boundary and needs
// InstallSnapshot instead.
func (r *Replica) appendArgsFor(n *peer.Node, withEntries bool) (*raftpd.AppendEntriesArgs, bool) {
	prev := n.NextIdx - 1
	if prev < r.log.BaseIndex() {
		return nil, false
	}

	args := &raftpd.AppendEntriesArgs{
		Term:         r.term,
		LeaderID:     r.id,
		PrevLogIndex: prev,
		PrevLogTerm:  r.log.Term(prev),
		LeaderCommit: r.commitIndex,
	}
	if withEntries && r.log.LastIndex() >= n.NextIdx {
		entries := r.log.Slice(n.NextIdx, r.log.LastIndex()+1)
		args.Entries = make([]raftpd.Entry, len(entries))
		copy(args.Entries, entries)
	}
	return args, true
}

func (r *Replica) snapshotArgsFor() *raftpd.InstallSnapshotArgs {
	utils.Assert(r.snapshot != nil,
		"%d peer behind base %d without snapshot", r.id, r.log.BaseIndex())

	return &raftpd.InstallSnapshotArgs{
		Term:              r.term,
		LeaderID:          r.id,
		LastIncludedIndex: r.snapshot.LastIncludedIndex,
		LastIncludedTerm:  r.snapshot.LastIncludedTerm,
		Snapshot:          r.snapshot.Data,
	}
}

// heartbeatRound prepare one send per peer under the lock; the
// returned closures run on the dispatch pool without it.
func (r *Replica) heartbeatRound() []func() {
	sends := make([]func(), 0, len(r.nodes))
	for i := 0; i < len(r.nodes); i++ {
		node := r.nodes[i]
		if args, ok := r.appendArgsFor(node, false); ok {
			sends = append(sends, r.makeAppendCall(node.ID, args))
		}
	}
	return sends
}

// replicationRound prepare catch-up traffic: entries for lagging
// peers, a snapshot for peers behind the log base.
func (r *Replica) replicationRound() []func() {
	var sends []func()
	for i := 0; i < len(r.nodes); i++ {
		node := r.nodes[i]
		if node.NextIdx > r.log.LastIndex() {
			continue
		}
		if node.NextIdx > r.log.BaseIndex() {
			if args, ok := r.appendArgsFor(node, true); ok {
				sends = append(sends, r.makeAppendCall(node.ID, args))
			}
		} else {
			sends = append(sends, r.makeSnapshotCall(node.ID, r.snapshotArgsFor()))
		}
	}
	return sends
}

func (r *Replica) makeAppendCall(to uint64, args *raftpd.AppendEntriesArgs) func() {
	return func() {
		var reply raftpd.AppendEntriesReply
		if r.transport.AppendEntries(to, args, &reply) {
			r.handleAppendEntriesReply(to, args, &reply)
		}
	}
}

func (r *Replica) makeSnapshotCall(to uint64, args *raftpd.InstallSnapshotArgs) func() {
	return func() {
		var reply raftpd.InstallSnapshotReply
		if r.transport.InstallSnapshot(to, args, &reply) {
			r.handleInstallSnapshotReply(to, args, &reply)
		}
	}
}

func (r *Replica) makeVoteCall(to uint64, args *raftpd.RequestVoteArgs) func() {
	return func() {
		var reply raftpd.RequestVoteReply
		if r.transport.RequestVote(to, args, &reply) {
			r.handleRequestVoteReply(to, args, &reply)
		}
	}
}

func (r *Replica) dispatch(sends []func()) {
	for _, send := range sends {
		r.pool.trySubmit(send)
	}
}
