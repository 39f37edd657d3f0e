package peer

import (
	log "github.com/sirupsen/logrus"

	"github.com/luoshicai/chfs-filesystem/raft/proto"
	"github.com/luoshicai/chfs-filesystem/utils"
)

// VoteState is the vote we have observed from a peer this term.
type VoteState int

const (
	VoteNone VoteState = iota
	VoteGranted
	VoteReject
)

// Node maintains the leader's (and candidate's) view of one remote
// peer in the raft group: replication progress and vote state.
type Node struct {
	belongID uint64

	// node id
	ID uint64

	// detected vote status for the current candidacy
	Vote VoteState

	// highest log index known replicated on the peer
	Matched uint64

	// next log index to send
	NextIdx uint64
}

// MakeNode create instance for remote peer.
func MakeNode(belong, id, nextIdx uint64) *Node {
	return &Node{
		belongID: belong,
		ID:       id,
		Vote:     VoteNone,
		Matched:  raftpd.InvalidIndex,
		NextIdx:  nextIdx,
	}
}

// Reset reinitialize progress when a new leader comes to power:
// nextIdx points just past the leader's last entry, nothing is
// known to match yet.
func (n *Node) Reset(nextIdx uint64) {
	n.Matched = raftpd.InvalidIndex
	n.NextIdx = nextIdx
}

// HandleAppendEntries digest an append reply sent for prevIdx with
// count entries. Returns true when Matched advanced.
func (n *Node) HandleAppendEntries(reject bool, prevIdx uint64, count int) bool {
	if !reject {
		matched := prevIdx + uint64(count)
		if matched < n.Matched {
			log.Debugf("%d node: %d [matched: %d] ignore staled append response: %d",
				n.belongID, n.ID, n.Matched, matched)
			return false
		}
		n.Matched = matched
		n.NextIdx = utils.MaxUint64(n.NextIdx, n.Matched+1)
		return true
	}

	// the rejection must be stale if prevIdx does not match next-1.
	if n.NextIdx-1 != prevIdx {
		log.Debugf("%d node: %d [next: %d] ignore staled rejection: %d",
			n.belongID, n.ID, n.NextIdx, prevIdx)
		return false
	}

	n.NextIdx = utils.MinUint64(n.NextIdx, prevIdx)
	log.Debugf("%d node: %d regress next index: %d", n.belongID, n.ID, n.NextIdx)
	return false
}

// HandleSnapshot digest an install-snapshot reply: the peer now has
// everything up to the snapshot boundary.
func (n *Node) HandleSnapshot(lastIncludedIndex uint64) {
	n.Matched = utils.MaxUint64(n.Matched, lastIncludedIndex)
	n.NextIdx = n.Matched + 1
}

// UpdateVoteState record the peer's answer to our candidacy.
// Duplicate grants collapse into the same state.
func (n *Node) UpdateVoteState(granted bool) {
	if granted {
		n.Vote = VoteGranted
	} else {
		n.Vote = VoteReject
	}
}

// ResetVoteState set vote back to VoteNone for a fresh candidacy.
func (n *Node) ResetVoteState() {
	n.Vote = VoteNone
}
